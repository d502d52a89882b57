package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	fast := RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("succeeds after storage outage", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			if calls < 2 {
				return fmt.Errorf("write: %w", ErrStorageUnavailable)
			}
			return nil
		}, fast)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry unclassified errors by default", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			return errors.New("constraint failed")
		}, fast)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, 1, calls)
	})

	t.Run("custom classifier", func(t *testing.T) {
		calls := 0
		opts := fast
		opts.Retryable = func(error) bool { return true }
		err := WithRetry(ctx, func() error {
			calls++
			return errors.New("transient")
		}, opts)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context ends", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		slow := RetryOptions{MaxAttempts: 3, InitialDelay: time.Hour}
		err := WithRetry(canceled, func() error { return ErrStorageUnavailable }, slow)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			return &RetryableError{Err: errors.New("fatal"), Retryable: false}
		}, fast)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		err := WithRetry(ctx, func() error { return fmt.Errorf("write: %w", ErrStorageUnavailable) }, fast)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})
}

func TestStorageRetryOptions(t *testing.T) {
	opts := StorageRetryOptions()
	assert.Equal(t, 3, opts.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, opts.InitialDelay)
	assert.Equal(t, time.Second, opts.MaxDelay)
	assert.Nil(t, opts.Retryable, "nil classifier falls back to IsRetryable")
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(NotFoundf("event %s", "x")))
	assert.False(t, IsRetryable(InvalidStatef("undo")))
	assert.False(t, IsRetryable(fmt.Errorf("wrap: %w", ErrRegistryConflict)))
	assert.True(t, IsRetryable(fmt.Errorf("write: %w", ErrStorageUnavailable)))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("x"), Retryable: true}))
}

func TestDegradedCause_Reason(t *testing.T) {
	assert.Equal(t, DegradedNone, CauseNone.Reason())
	for _, cause := range []DegradedCause{CauseNoActiveModel, CauseArtifactMissing, CauseTimeout, CauseScoringError} {
		assert.Equal(t, DegradedModelUnavailable, cause.Reason(), string(cause))
	}
}

func TestSetupLoggerTo(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	require.NoError(t, SetupLoggerTo(&buf, slog.LevelInfo, "json"))
	LogInfo("hello", Fields{"k": "v"})
	assert.Contains(t, buf.String(), `"k":"v"`)

	assert.ErrorIs(t, SetupLoggerTo(&buf, slog.LevelInfo, "xml"), ErrInvalidConfig)

	_, err := ParseLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
