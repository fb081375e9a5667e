package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(ErrUnauthorizedTable, "table not in allowlist")
	require.Equal(t, "[UNAUTHORIZED_TABLE] table not in allowlist", err.Error())
	require.Equal(t, ErrUnauthorizedTable, GetCode(err))
	require.True(t, IsCode(err, ErrUnauthorizedTable))
	require.False(t, IsCode(err, ErrTimeout))
}

func TestWrapPreservesUnderlying(t *testing.T) {
	base := errors.New("driver: connection reset")
	wrapped := Wrap(base, ErrConnectionFailed, "pool exhausted")
	require.ErrorIs(t, wrapped, base)
	require.Contains(t, wrapped.Error(), "pool exhausted")
}

func TestWrapNilIsNil(t *testing.T) {
	require.Nil(t, Wrap(nil, ErrInternal, "unused"))
}

func TestWithContextAndRetryable(t *testing.T) {
	err := New(ErrTimeout, "statement timed out").WithContext("adapter", "sqlite").WithRetryable(true)
	require.True(t, err.Retryable)
	require.Equal(t, "sqlite", err.Context["adapter"])
}

func TestGetCodeOnUnstructuredError(t *testing.T) {
	require.Equal(t, ErrInternal, GetCode(errors.New("boom")))
	require.Equal(t, ErrorCode(""), GetCode(nil))
}
