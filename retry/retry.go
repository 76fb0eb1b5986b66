// Package retry wraps remote calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"lampkit/core"
)

// Policy bounds a retried operation: Attempts total calls, waiting
// BaseDelay * 2^attempt between them. No jitter is applied.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	// OnRetry, if set, observes every failed attempt that will be retried.
	OnRetry func(err error, next time.Duration)
}

// DefaultPolicy is three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second}
}

// Do invokes op until it succeeds, the attempt budget is exhausted, the error is
// permanent, or ctx is done. Exhaustion and permanent failures return the last
// op error unchanged; cancellation returns context.Cause(ctx).
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.BaseDelay << uint(attempts)

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(p.OnRetry)))
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && errors.Is(err, core.ErrRejected) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
