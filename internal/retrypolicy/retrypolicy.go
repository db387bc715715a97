// Package retrypolicy wraps cenkalti/backoff/v4 with the engine's
// retry classification: BadInput, NotFound, Cancelled, and
// NotImplemented are never retried; ActivityFailure and Transient are.
package retrypolicy

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskengine/taskengine/internal/richerr"
)

// Policy is the Activity Dispatcher's retry policy: exponential
// backoff with a capped attempt count, classifying errors via
// richerr.IsRetryable instead of a string-pattern table.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy is exponential backoff with capped attempts,
// non-retryable on BadInput/NotFound/Cancelled/PermanentFailure
// (modeled here as NotImplemented).
func DefaultRetryPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		OnRetry:         func(attempt int, err error) {},
	}
}

// Execute runs operation, retrying per policy until it succeeds, a
// non-retryable error is returned, attempts are exhausted, or ctx is
// cancelled.
func (p *Policy) Execute(ctx context.Context, operation func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed time

	bounded := backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
	withCtx := backoff.WithContext(bounded, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := operation()
		if err == nil {
			return nil
		}
		if !richerr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return err
	}, withCtx)
}
