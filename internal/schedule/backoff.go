package schedule

import (
	"context"
	"math/rand"
	"time"
)

// BackoffFunc returns the delay before the given retry attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// SleepFunc waits for the duration or until the context is cancelled,
// returning the context error in the latter case. Injectable so tests run
// without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ExponentialBackoff doubles the base delay per attempt, caps it at max and
// applies +/-25% jitter so retrying workers do not stampede the upstream.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				d = max
				break
			}
		}
		jitter := 1 + (rand.Float64()-0.5)/2
		jittered := time.Duration(float64(d) * jitter)
		if jittered > max {
			jittered = max
		}
		return jittered
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
