package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func TestDo(t *testing.T) {
	t.Run("succeeds after transient errors", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast, func() error {
			calls++
			if calls < 3 {
				return errors.New("connection reset by peer")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		permanent := errors.New("invalid account")
		err := Do(context.Background(), fast, func() error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast, func() error {
			calls++
			return errors.New("service unavailable")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("custom classifier", func(t *testing.T) {
		sentinel := errors.New("conflict")
		cfg := fast
		cfg.Retryable = func(err error) bool { return errors.Is(err, sentinel) }
		calls := 0
		err := Do(context.Background(), cfg, func() error {
			calls++
			if calls == 1 {
				return sentinel
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Do(ctx, Config{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Second}, func() error {
			return errors.New("timeout")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("EOF")))
	assert.True(t, IsRetryable(errors.New("429 Too Many Requests")))
	assert.False(t, IsRetryable(errors.New("bad request")))
}

func TestCalculateBackoff(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		b := calculateBackoff(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.LessOrEqual(t, b, 100*time.Millisecond)
		assert.GreaterOrEqual(t, b, 5*time.Millisecond)
	}
}
