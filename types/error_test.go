package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := NewError(ErrInteractionNotFound, "no such interaction")
		assert.Equal(t, "[INTERACTION_NOT_FOUND] no such interaction", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewError(ErrPersistenceFailure, "save failed").WithCause(cause)
		assert.Contains(t, err.Error(), "boom")
		assert.Equal(t, cause, errors.Unwrap(err))
	})
}

func TestError_Is(t *testing.T) {
	a := NewError(ErrRateLimitExceeded, "session s1 over limit")
	b := NewError(ErrRateLimitExceeded, "different message")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, NewError(ErrValidationFailed, "x")))

	wrapped := fmt.Errorf("create: %w", a)
	assert.True(t, errors.Is(wrapped, b))
}

func TestError_Builders(t *testing.T) {
	err := NewErrorf(ErrValidationFailed, "response must be at least %d characters", 5).
		WithHTTPStatus(400).
		WithRetryable(true).
		WithField("response")

	require.NotNil(t, err)
	assert.Equal(t, 400, err.HTTPStatus)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "response", err.Field)
	assert.Equal(t, ErrValidationFailed, GetErrorCode(err))
}

func TestGetErrorCode_NonStructured(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
