// Package retry provides call-site retry loops with backoff
package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// RateLimitPolicy matches venue throttling: 2s, 4s, 8s doubling capped at
// 60s, at most 3 attempts per call.
var RateLimitPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     60 * time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do executes a function with retries according to the policy
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		// Calculate jittered backoff: backoff + random(0, 50% of backoff)
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		sleepTime := backoff + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// DoLinear retries with a linearly growing delay (delay, 2*delay, ...).
// Used where a short fixed cadence is wanted, e.g. re-submitting a paired
// close order.
func DoLinear(ctx context.Context, maxAttempts int, delay time.Duration, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * delay):
		}
	}
	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
