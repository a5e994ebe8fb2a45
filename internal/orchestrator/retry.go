package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryMaxAttempts    = 3
	retryBackoffInitial = 200 * time.Millisecond
	retryBackoffFactor  = 2
	retryBackoffMax     = 2 * time.Second
)

// RetryTransient runs op up to retryMaxAttempts times, backing off
// exponentially between attempts. Only transient failures are retried;
// rejections and context cancellation surface immediately. The last
// transient error is returned once attempts are exhausted.
func RetryTransient(ctx context.Context, op func(context.Context) error) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = retryBackoffInitial
	backoffCfg.Multiplier = retryBackoffFactor
	backoffCfg.MaxInterval = retryBackoffMax
	backoffCfg.RandomizationFactor = 0
	backoffCfg.Reset()

	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepWithContext(ctx, backoffCfg.NextBackOff()) {
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
