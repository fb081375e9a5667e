package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteLimitAppendsWhenAbsent(t *testing.T) {
	out, err := RewriteRowCap("SELECT id FROM public.users", DialectLimit, 10)
	require.NoError(t, err)
	require.Equal(t, "SELECT id FROM public.users LIMIT 10", out)
}

func TestRewriteLimitClampsExistingLargerValue(t *testing.T) {
	out, err := RewriteRowCap("SELECT id FROM public.users LIMIT 5000", DialectLimit, 100)
	require.NoError(t, err)
	require.Equal(t, "SELECT id FROM public.users LIMIT 100", out)
}

func TestRewriteLimitKeepsSmallerExistingValue(t *testing.T) {
	out, err := RewriteRowCap("SELECT id FROM public.users LIMIT 5", DialectLimit, 100)
	require.NoError(t, err)
	require.Equal(t, "SELECT id FROM public.users LIMIT 5", out)
}

func TestRewriteTopInjectsAfterSelect(t *testing.T) {
	out, err := RewriteRowCap("SELECT id FROM public.users", DialectTop, 50)
	require.NoError(t, err)
	require.Equal(t, "SELECT TOP 50 id FROM public.users", out)
}

func TestRewriteTopInjectsAfterSelectDistinct(t *testing.T) {
	out, err := RewriteRowCap("SELECT DISTINCT id FROM public.users", DialectTop, 50)
	require.NoError(t, err)
	require.Equal(t, "SELECT DISTINCT TOP 50 id FROM public.users", out)
}

func TestRewriteTopClampsExisting(t *testing.T) {
	out, err := RewriteRowCap("SELECT TOP 5000 id FROM public.users", DialectTop, 100)
	require.NoError(t, err)
	require.Equal(t, "SELECT TOP 100 id FROM public.users", out)
}

func TestClampRowCapBounds(t *testing.T) {
	require.Equal(t, 100, ClampRowCap(0))
	require.Equal(t, 1, ClampRowCap(-5))
	require.Equal(t, 1000, ClampRowCap(50000))
	require.Equal(t, 10, ClampRowCap(10))
}

func TestClampTimeoutBounds(t *testing.T) {
	require.Equal(t, 30000, ClampTimeoutMs(0))
	require.Equal(t, 1000, ClampTimeoutMs(10))
	require.Equal(t, 60000, ClampTimeoutMs(999999))
	require.Equal(t, 5000, ClampTimeoutMs(5000))
}
