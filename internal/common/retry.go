package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMaxRetries indicates that all retry attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// RetryOptions configures backoff for storage writes.
type RetryOptions struct {
	// Retryable decides whether a failed attempt is tried again. Nil means
	// IsRetryable, so only ErrStorageUnavailable and deadline errors retry.
	Retryable    func(error) bool
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// StorageRetryOptions is the backoff used for ledger writes: a locked or busy
// SQLite database usually clears within a second.
func StorageRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

// RetryableError overrides the classification of the error it wraps.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// WithRetry runs operation with exponential backoff until it succeeds, fails
// with an error opts does not consider retryable, or runs out of attempts. The
// last error stays in the chain of the returned ErrMaxRetries, so callers still
// see ErrStorageUnavailable after a persistent outage.
func WithRetry(ctx context.Context, operation func() error, opts RetryOptions) error {
	opts = opts.withDefaults()
	delay := opts.InitialDelay

	for attempt := 1; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !opts.Retryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, opts.MaxAttempts, err)
		}

		slog.Warn("Storage write failed, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(time.Duration(float64(delay)*opts.Multiplier), opts.MaxDelay)
	}
}

func (o RetryOptions) withDefaults() RetryOptions {
	defaults := StorageRetryOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaults.MaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaults.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaults.MaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = defaults.Multiplier
	}
	if o.Retryable == nil {
		o.Retryable = IsRetryable
	}
	return o
}
