package allowlist

import (
	"testing"

	"github.com/stretchr/testify/require"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

func TestEmptySchemasIsDefaultDeny(t *testing.T) {
	a := New(nil, nil)
	require.False(t, a.IsSchemaAllowed("public"))
	require.False(t, a.IsTableAllowed("public", "users"))
}

func TestPermitByDefaultWhenTablesEmpty(t *testing.T) {
	a := New([]string{"public"}, nil)
	require.True(t, a.IsTableAllowed("public", "users"))
	require.True(t, a.IsTableAllowed("public", "anything"))
	require.False(t, a.IsTableAllowed("private", "users"))
}

func TestExplicitTableRequiredWhenNonEmpty(t *testing.T) {
	a := New([]string{"public"}, []string{"public.users"})
	require.True(t, a.IsTableAllowed("public", "users"))
	require.False(t, a.IsTableAllowed("public", "secrets"))
}

func TestEnforceTable(t *testing.T) {
	a := New([]string{"public"}, []string{"public.users"})
	require.NoError(t, a.EnforceTable("public", "users"))

	err := a.EnforceTable("public", "secrets")
	require.True(t, dberrors.IsCode(err, dberrors.ErrUnauthorizedTable))
}
