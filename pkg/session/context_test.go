package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

func TestBindRequiresIdentityAndTenant(t *testing.T) {
	_, err := Bind("", "acme", "")
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))

	_, err = Bind("alice", "", "")
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))
}

func TestBindGeneratesSessionIDWhenEmpty(t *testing.T) {
	ctx, err := Bind("alice", "acme", "")
	require.NoError(t, err)
	id, err := ctx.SessionID()
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestUnboundAccessorsFail(t *testing.T) {
	var ctx *Context
	_, err := ctx.Identity()
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))

	zero := &Context{}
	_, err = zero.Tenant()
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))
}

func TestBoundAccessors(t *testing.T) {
	ctx, err := Bind("alice", "acme", "sess-1")
	require.NoError(t, err)

	identity, err := ctx.Identity()
	require.NoError(t, err)
	require.Equal(t, "alice", identity)

	tenant, err := ctx.Tenant()
	require.NoError(t, err)
	require.Equal(t, "acme", tenant)

	boundAt, err := ctx.BoundAt()
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), boundAt, 5*time.Second)
}

type fakeCaps struct{ exp time.Time }

func (f fakeCaps) ExpiresAt() time.Time { return f.exp }
func (f fakeCaps) CapSetID() string     { return "fake-capset" }

type fakeQuota struct{}

func (fakeQuota) Name() string { return "fake" }

func TestAttachCapabilitiesIsOneShot(t *testing.T) {
	ctx, err := Bind("alice", "acme", "sess-1")
	require.NoError(t, err)

	require.NoError(t, ctx.AttachCapabilities(fakeCaps{exp: time.Now().Add(time.Hour)}))
	err = ctx.AttachCapabilities(fakeCaps{exp: time.Now().Add(time.Hour)})
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))

	caps, err := ctx.Capabilities()
	require.NoError(t, err)
	require.NotNil(t, caps)
}

func TestCapabilitiesNotAttachedFails(t *testing.T) {
	ctx, err := Bind("alice", "acme", "sess-1")
	require.NoError(t, err)
	_, err = ctx.Capabilities()
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))
}

func TestAttachQuotaEngineIsOneShot(t *testing.T) {
	ctx, err := Bind("alice", "acme", "sess-1")
	require.NoError(t, err)

	require.NoError(t, ctx.AttachQuotaEngine(fakeQuota{}))
	err = ctx.AttachQuotaEngine(fakeQuota{})
	require.True(t, dberrors.IsCode(err, dberrors.ErrSessionContextInvalid))
}

func TestNewSessionIDIsUnique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	require.NotEqual(t, a, b)
}
