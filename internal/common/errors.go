// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Lookup errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidState marks a request that violates a precondition, e.g. undo without accept.
	ErrInvalidState = errors.New("invalid state")
	// ErrRegistryConflict marks an attempt to promote a second model to live.
	ErrRegistryConflict = errors.New("registry conflict")
	// ErrInvalidInput marks malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageUnavailable marks a persistence failure that the caller must see.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DegradedReason annotates a heuristic answer given when a model was wanted.
// It is carried as data, never returned as an error. Callers only ever see
// DegradedModelUnavailable; the detail lives in DegradedCause.
type DegradedReason string

// Degraded reasons.
const (
	DegradedNone             DegradedReason = ""
	DegradedModelUnavailable DegradedReason = "model_unavailable"
)

// DegradedCause is the operator-facing detail behind a degraded answer.
type DegradedCause string

// Degraded causes.
const (
	CauseNone            DegradedCause = ""
	CauseNoActiveModel   DegradedCause = "no_active_model"
	CauseArtifactMissing DegradedCause = "artifact_missing"
	CauseTimeout         DegradedCause = "timeout"
	CauseScoringError    DegradedCause = "scoring_error"
)

// Reason is the caller-facing reason for c.
func (c DegradedCause) Reason() DegradedReason {
	if c == CauseNone {
		return DegradedNone
	}
	return DegradedModelUnavailable
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidStatef wraps ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// InvalidInputf wraps ErrInvalidInput with a formatted message.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRegistryConflict) ||
		errors.Is(err, context.Canceled) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
