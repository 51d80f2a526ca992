package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesMatchWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("approving article: %w", NewStateError("published", "review"))

	assert.True(t, IsStateError(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.False(t, IsStateError(errors.New("plain")))
	assert.False(t, IsStateError(nil))
}

func TestStateErrorCarriesBothStatuses(t *testing.T) {
	err := NewStateError("draft", "published")

	assert.Equal(t, ErrCodeIllegalState, err.Code)
	assert.False(t, err.Retryable)
	assert.Equal(t, "draft", err.Metadata["currentStatus"])
	assert.Equal(t, "published", err.Metadata["attemptedStatus"])
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, NewValidationError("bad input").Retryable)
	assert.False(t, NewPermissionError("user-1", "approve content").Retryable)
	assert.False(t, NewClaimConflictError("sched-1").Retryable)
	assert.True(t, NewDeliveryError("email", errors.New("throttled")).Retryable)
	assert.True(t, NewDatabaseError("insert", errors.New("connection reset")).Retryable)
}
