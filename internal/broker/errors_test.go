package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAPIErrorLeavesOriginalUntouched(t *testing.T) {
	orig := NewAPIError(ErrCodeRateLimitExceeded, "too many requests", "endpoint: quote")

	wrapped := WrapAPIError("fetch snapshot", orig)

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, "operation: fetch snapshot", apiErr.Details)
	assert.Equal(t, orig.Code, apiErr.Code)

	// The shared original keeps its own context even after wrapping.
	assert.Equal(t, "endpoint: quote", orig.Details)
}

func TestWrapAPIErrorDoubleWrap(t *testing.T) {
	orig := NewAPIError(ErrCodeMarketClosed, "market closed")

	first := WrapAPIError("submit order", orig)
	second := WrapAPIError("retry exhausted", first)

	var firstErr, secondErr *APIError
	require.True(t, errors.As(first, &firstErr))
	require.True(t, errors.As(second, &secondErr))
	assert.Equal(t, "operation: submit order", firstErr.Details)
	assert.Equal(t, "operation: retry exhausted", secondErr.Details)
}

func TestWrapAPIErrorPlainError(t *testing.T) {
	wrapped := WrapAPIError("fetch snapshot", context.DeadlineExceeded)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.Contains(t, wrapped.Error(), "fetch snapshot")

	assert.Nil(t, WrapAPIError("noop", nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(NewAPIError(ErrCodeRateLimitExceeded, "slow down")))
	assert.False(t, IsRetryable(NewAPIError(ErrCodeUnknownSecurity, "unknown security")))
	assert.False(t, IsRetryable(nil))
}
