package permissions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/dbgate/pkg/allowlist"
	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/sqlvalidate"
)

// TestEnforceUnauthorizedTable is spec.md S3.
func TestEnforceUnauthorizedTable(t *testing.T) {
	list := allowlist.New([]string{"public"}, []string{"public.users"})

	res, err := sqlvalidate.Validate("SELECT * FROM public.secrets", nil)
	require.NoError(t, err)

	err = Enforce(list, res.Tables)
	require.True(t, dberrors.IsCode(err, dberrors.ErrUnauthorizedTable))
}

func TestEnforceAllowsPermittedTable(t *testing.T) {
	list := allowlist.New([]string{"public"}, []string{"public.users"})

	res, err := sqlvalidate.Validate("SELECT * FROM public.users", nil)
	require.NoError(t, err)

	require.NoError(t, Enforce(list, res.Tables))
}
