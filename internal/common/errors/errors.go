// Package errors provides the standardized error taxonomy for the back office.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeIllegalState     ErrorCode = "ILLEGAL_STATE"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"

	// ErrCodeClaimConflict marks a lost optimistic claim on a schedule row.
	// Expected under concurrent sweeps and schedulers, handled as a normal
	// skip, never retried.
	ErrCodeClaimConflict ErrorCode = "CLAIM_CONFLICT"

	ErrCodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"

	ErrCodeDatabaseFailed ErrorCode = "DATABASE_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStateError creates a non-retryable illegal transition error carrying
// the current and attempted statuses.
func NewStateError(current, attempted string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIllegalState,
		Message:   "Illegal content status transition",
		Details:   fmt.Sprintf("cannot move from %q to %q", current, attempted),
		Retryable: false,
		Metadata: map[string]interface{}{
			"currentStatus":   current,
			"attemptedStatus": attempted,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewPermissionError creates a non-retryable authorization error.
func NewPermissionError(actorID, action string) *StandardError {
	return &StandardError{
		Code:      ErrCodePermissionDenied,
		Message:   "Actor role insufficient for action",
		Details:   fmt.Sprintf("actor %s may not %s", actorID, action),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable missing entity error.
func NewNotFoundError(kind, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", kind),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewClaimConflictError signals that a concurrent worker won the optimistic
// claim on a schedule row.
func NewClaimConflictError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeClaimConflict,
		Message:   "Schedule row already claimed by a concurrent worker",
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryError creates a retryable downstream delivery error.
func NewDeliveryError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryFailed,
		Message:   "Notification channel delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Metadata:  map[string]interface{}{"channel": channel},
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError wraps an unexpected store failure as retryable.
func NewDatabaseError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseFailed,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func hasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

func IsValidation(err error) bool    { return hasCode(err, ErrCodeValidationFailed) }
func IsStateError(err error) bool    { return hasCode(err, ErrCodeIllegalState) }
func IsPermission(err error) bool    { return hasCode(err, ErrCodePermissionDenied) }
func IsNotFound(err error) bool      { return hasCode(err, ErrCodeNotFound) }
func IsClaimConflict(err error) bool { return hasCode(err, ErrCodeClaimConflict) }
func IsDelivery(err error) bool      { return hasCode(err, ErrCodeDeliveryFailed) }
