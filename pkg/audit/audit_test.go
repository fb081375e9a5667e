package audit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

func testSecret() []byte {
	return []byte(strings.Repeat("a", 32))
}

func TestNewLoggerRejectsShortSecret(t *testing.T) {
	_, err := NewLogger([]byte("too-short"), &bytes.Buffer{})
	require.Error(t, err)
}

// TestFingerprintEquivalence is spec.md §8 property 4.
func TestFingerprintEquivalence(t *testing.T) {
	logger, err := NewLogger(testSecret(), &bytes.Buffer{})
	require.NoError(t, err)

	a := logger.ComputeFingerprint("SELECT id, name FROM public.users WHERE id = 1")
	b := logger.ComputeFingerprint("select id,   name from public.users where id = 2")
	require.Equal(t, a, b)
}

func TestFingerprintDiffersOnStructure(t *testing.T) {
	logger, err := NewLogger(testSecret(), &bytes.Buffer{})
	require.NoError(t, err)

	a := logger.ComputeFingerprint("SELECT id FROM public.users")
	b := logger.ComputeFingerprint("SELECT id, name FROM public.users")
	require.NotEqual(t, a, b)

	c := logger.ComputeFingerprint("SELECT id FROM public.users JOIN public.orders ON 1=1")
	require.NotEqual(t, a, c)
}

func TestFingerprintDistinguishesLiteralKind(t *testing.T) {
	logger, err := NewLogger(testSecret(), &bytes.Buffer{})
	require.NoError(t, err)

	a := logger.ComputeFingerprint("SELECT id FROM public.users WHERE id = 1")
	b := logger.ComputeFingerprint("SELECT id FROM public.users WHERE id = 'x'")
	require.NotEqual(t, a, b)
}

func TestLogQueryEventSchemaIsClosed(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(testSecret(), &buf)
	require.NoError(t, err)

	ms := 123
	require.NoError(t, logger.LogQueryEvent("sqlite", "fp", ResultSuccess, &ms))

	out := buf.String()
	require.Contains(t, out, `"adapter":"sqlite"`)
	require.Contains(t, out, `"resultType":"success"`)
	require.Contains(t, out, `"executionTimeMs":120`)
	require.NotContains(t, out, `"query":`)
	require.NotContains(t, out, "table")
}

// TestAuditFailureClosure is spec.md §8 property 8.
func TestAuditFailureClosure(t *testing.T) {
	logger, err := NewLogger(testSecret(), FailingSink(nil))
	require.NoError(t, err)

	err = logger.LogQueryEvent("sqlite", "fp", ResultSuccess, nil)
	require.True(t, dberrors.IsCode(err, dberrors.ErrAuditFailure))
}

func TestRoundToNearest10Ms(t *testing.T) {
	require.Equal(t, 120, roundToNearest10Ms(123))
	require.Equal(t, 130, roundToNearest10Ms(125))
	require.Equal(t, 0, roundToNearest10Ms(0))
}
