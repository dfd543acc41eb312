package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnFatal(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(errors.New("bad input"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retries []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		calls++
		return errors.New("still failing")
	}, func(attempt int, err error, nextDelay time.Duration) {
		retries = append(retries, attempt)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestWait_ConstantBackoff(t *testing.T) {
	start := time.Now()
	require.NoError(t, Wait(context.Background(), ConstantBackoff(10*time.Millisecond)))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, ConstantBackoff(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffDuration_CapsAtMax(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, CalculateBackoffDuration(1, 100*time.Millisecond, 2, time.Second))
	assert.Equal(t, time.Second, CalculateBackoffDuration(10, 100*time.Millisecond, 2, time.Second))
}
