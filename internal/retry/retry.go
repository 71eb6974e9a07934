// Package retry provides a shared retry utility with exponential backoff and jitter.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent wraps err so that Do will not retry it. Do returns the
// unwrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Policy builds the backoff schedule used by Do: baseDelay doubled on each
// retry with +-25% jitter, no overall deadline beyond ctx.
func Policy(ctx context.Context, maxAttempts int, baseDelay time.Duration) backoff.BackOff {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	b.MaxInterval = baseDelay << 10
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}

// Do calls fn up to maxAttempts times with exponential backoff and jitter.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns an error wrapped by Permanent (not retryable)
//   - ctx is cancelled
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return backoff.Retry(fn, Policy(ctx, maxAttempts, baseDelay))
}
