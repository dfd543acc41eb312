package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// ConstantBackoff waits the same delay between every attempt and never gives up.
func ConstantBackoff(delay time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(delay)
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// Wait sleeps for the next interval of b, returning early with ctx.Err()
// when ctx is done. A backoff that has stopped yields backoff.Stop as an error.
func Wait(ctx context.Context, b backoff.BackOff) error {
	next := b.NextBackOff()
	if next == backoff.Stop {
		return errBackoffStopped
	}

	timer := time.NewTimer(next)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
