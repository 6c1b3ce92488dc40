// Package retry runs an operation until it succeeds, the attempt budget is
// spent or the context ends.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures retry behavior.
type Policy struct {
	MaxAttempts    int           // total attempts including the first; 0 retries until ctx ends
	Interval       time.Duration // delay between attempts (initial delay when Exponential)
	MaxInterval    time.Duration // cap for exponential delays; 0 leaves the backoff default
	AttemptTimeout time.Duration // per-attempt bound; 0 means none
	Exponential    bool

	// ShouldRetry stops retrying when it returns false. Nil retries every error.
	ShouldRetry func(error) bool
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Fixed returns a fixed-interval policy.
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Interval: interval}
}

func (p Policy) backOff() backoff.BackOff {
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.Interval)
	}
	b := backoff.NewExponentialBackOff()
	if p.Interval > 0 {
		b.InitialInterval = p.Interval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Do calls op until it returns nil. It returns the number of attempts made
// and, on failure, the last error op returned. When ctx ends between attempts
// the context error is joined with that last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	var lastErr error

	operation := func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		attempts++

		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		lastErr = op(attemptCtx)
		if lastErr != nil && p.ShouldRetry != nil && !p.ShouldRetry(lastErr) {
			return struct{}{}, backoff.Permanent(lastErr)
		}
		return struct{}{}, lastErr
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempts, err, next)
			}
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxAttempts)))
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return attempts, nil
	}
	if lastErr != nil && !errors.Is(err, lastErr) {
		return attempts, fmt.Errorf("%w: %w", err, lastErr)
	}
	return attempts, err
}
