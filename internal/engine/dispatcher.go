package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskengine/taskengine/internal/richerr"
	"github.com/taskengine/taskengine/internal/retrypolicy"
)

// Dispatcher invokes a named activity with a timeout, retry policy,
// and (simulated) heartbeat, returning its outcome or a typed error.
// Errors are always returned by value — the driver commits an error
// transition before any error is re-raised (see Driver.Run).
type Dispatcher struct {
	retry  *retrypolicy.Policy
	logger zerolog.Logger
}

func NewDispatcher(retry *retrypolicy.Policy, logger zerolog.Logger) *Dispatcher {
	if retry == nil {
		retry = retrypolicy.DefaultRetryPolicy()
	}
	return &Dispatcher{
		retry:  retry,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// ActivityFunc is the shape of an activity call: it runs under the
// scheduled context and returns the step's outcome.
type ActivityFunc func(ctx context.Context) (StepOutcome, error)

// Invoke runs fn under scheduleToClose, retrying transient/activity
// failures per the configured policy. heartbeat is accepted for parity
// with the heartbeat ceiling a real activity worker would enforce;
// this in-process dispatcher has no separate heartbeat channel, so it
// is enforced as an upper bound on each individual attempt alongside
// the overall timeout.
func (d *Dispatcher) Invoke(ctx context.Context, name ActivityName, scheduleToClose, heartbeat time.Duration, fn ActivityFunc) (StepOutcome, error) {
	attemptTimeout := scheduleToClose
	if heartbeat > 0 && heartbeat < attemptTimeout {
		attemptTimeout = heartbeat
	}

	octx, cancel := context.WithTimeout(ctx, scheduleToClose)
	defer cancel()

	var outcome StepOutcome
	err := d.retry.Execute(octx, func() error {
		o, callErr := d.callWithTimeout(octx, name, attemptTimeout, fn)
		if callErr != nil {
			d.logger.Warn().Str("activity", string(name)).Err(callErr).Msg("activity call failed")
			return callErr
		}
		if o.Err != nil {
			d.logger.Warn().Str("activity", string(name)).Err(o.Err).Msg("activity returned error outcome")
			return o.Err
		}
		outcome = o
		return nil
	})
	if err != nil {
		return StepOutcome{}, err
	}
	return outcome, nil
}

// callWithTimeout races fn against timeout, grounded on the same
// goroutine+select pattern the orchestration package's circuit
// breaker uses for ExecuteWithTimeout.
func (d *Dispatcher) callWithTimeout(ctx context.Context, name ActivityName, timeout time.Duration, fn ActivityFunc) (StepOutcome, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		outcome StepOutcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		o, err := fn(cctx)
		done <- result{o, err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-cctx.Done():
		return StepOutcome{}, richerr.Transient(cctx.Err(), "activity %s timed out", name)
	}
}
