package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskengine/taskengine/internal/config"
	"github.com/taskengine/taskengine/internal/richerr"
)

// Signal is an inbound mutation delivered to a running execution
// between steps — set_last_error, resume_with_input, or cancel.
type Signal struct {
	Name    string
	Payload any
}

// signalBus is a bounded channel per execution that the driver drains
// between steps, so signal consumption is always serialized with step
// execution and the state machine never races.
type signalBus struct {
	mu    sync.Mutex
	chans map[string]chan Signal
}

func newSignalBus() *signalBus {
	return &signalBus{chans: make(map[string]chan Signal)}
}

func (b *signalBus) chanFor(executionID string) chan Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chans[executionID]
	if !ok {
		ch = make(chan Signal, 16)
		b.chans[executionID] = ch
	}
	return ch
}

// keyedMutex hands out one *sync.Mutex per key, creating it on first
// use. Used to serialize transition-log commits per execution, since
// a bounded-parallel map-reduce runs several executeWorkflow calls
// against the same execution's log concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Driver is the Execution Driver (C8): the top-level per-step loop
// that dispatches, interprets, and commits transitions, continuing as
// child at the next cursor until the execution reaches a terminal or
// suspended state.
type Driver struct {
	log         TransitionLog
	dispatcher  *Dispatcher
	activities  Activities
	cfg         *config.Config
	logger      zerolog.Logger
	signals     *signalBus
	commitLocks *keyedMutex
}

func NewDriver(log TransitionLog, dispatcher *Dispatcher, activities Activities, cfg *config.Config, logger zerolog.Logger) *Driver {
	return &Driver{
		log:         log,
		dispatcher:  dispatcher,
		activities:  activities,
		cfg:         cfg,
		logger:      logger.With().Str("component", "driver").Logger(),
		signals:     newSignalBus(),
		commitLocks: newKeyedMutex(),
	}
}

// Signal delivers a named signal to executionID's driver loop.
func (d *Driver) Signal(executionID, name string, payload any) error {
	ch := d.signals.chanFor(executionID)
	select {
	case ch <- Signal{Name: name, Payload: payload}:
		return nil
	default:
		return richerr.Transient(nil, "signal queue full for execution %s", executionID)
	}
}

// runState carries the mutable, per-Run()-call bookkeeping threaded
// through the recursive executeWorkflow: replay bookkeeping for
// resumed executions, the last external error payload, and
// cancellation. A single execution can have several executeWorkflow
// calls in flight at once (map-reduce's bounded-parallel map children
// all share one runState), so replay, lastError and cancelled are only
// touched under mu. resumeInput, hasResume and resumeAt are set once in
// Run before any step executes and are only read after that.
type runState struct {
	execID string

	mu          sync.Mutex
	replay      map[string][]Transition // cursorKey -> queued already-committed transitions, oldest first
	resumeInput any
	hasResume   bool
	resumeAt    string // cursorKey of the wait transition being resumed
	lastError   any
	cancelled   bool
}

func (s *runState) popReplay(key string) (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.replay[key]
	if len(q) == 0 {
		return Transition{}, false
	}
	s.replay[key] = q[1:]
	return q[0], true
}

func (s *runState) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *runState) setCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

func (s *runState) getLastError() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *runState) setLastError(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = v
}

func cursorKey(t TransitionTarget) string {
	return fmt.Sprintf("%s|%d|%v", t.Workflow, t.Step, t.Scope)
}

// RunResult is what Run returns: either the terminal output and
// status, or an indication that the execution is now suspended
// awaiting external input.
type RunResult struct {
	Status ExecutionStatus
	Output any
	Err    error
}

// Run drives execID forward from its last committed transition (or
// from scratch if none exists) until it reaches a terminal state or a
// wait suspension point. resumeInput/hasResume carry an external
// resume payload when this call follows a resume_with_input signal.
func (d *Driver) Run(ctx context.Context, execID string, task Task, input any, resumeInput any, hasResume bool) RunResult {
	history, err := d.log.ReadRange(execID, 0, 0)
	if err != nil {
		return RunResult{Status: StatusFailed, Err: err}
	}

	state := &runState{
		execID:      execID,
		replay:      make(map[string][]Transition),
		resumeInput: resumeInput,
		hasResume:   hasResume,
	}
	for _, t := range history {
		key := cursorKey(t.From)
		state.replay[key] = append(state.replay[key], t)
		if hasResume && t.Type == TransitionWait {
			state.resumeAt = key
		}
	}

	d.drainSignals(execID, state)
	if state.isCancelled() && len(history) > 0 && !history[len(history)-1].Type.Terminal() {
		return d.commitCancelled(state, history[len(history)-1])
	}

	wf, ok := task.Workflows["main"]
	if !ok {
		return RunResult{Status: StatusFailed, Err: richerr.BadInput("task has no main workflow")}
	}

	mainCursor := TransitionTarget{Workflow: "main", Step: 0}
	userState := map[string]any{}

	output, _, suspended, err := d.executeWorkflow(ctx, task, wf, mainCursor, input, userState, true, state)
	switch {
	case err != nil:
		if richerr.Is(err, richerr.CancelledType) {
			return RunResult{Status: StatusCancelled, Err: err}
		}
		return RunResult{Status: StatusFailed, Err: err}
	case suspended:
		return RunResult{Status: StatusAwaitingInput}
	default:
		return RunResult{Status: StatusSucceeded, Output: output}
	}
}

func (d *Driver) commitCancelled(state *runState, last Transition) RunResult {
	draft := Transition{From: last.From, Type: TransitionCancelled}
	if _, err := d.log.Append(state.execID, last.Seq+1, draft); err != nil {
		return RunResult{Status: StatusFailed, Err: err}
	}
	return RunResult{Status: StatusCancelled}
}

// executeWorkflow is both the top-level driver loop and the composite
// orchestrator's child-execution helper: nested if/else, switch,
// foreach, and map-reduce branches call back into this same function
// with a child cursor, so a child scope always finishes with
// finish_branch before the parent step's transition commits.
func (d *Driver) executeWorkflow(ctx context.Context, task Task, wf Workflow, startCursor TransitionTarget, input any, userState map[string]any, isMain bool, state *runState) (output any, finalState map[string]any, suspended bool, err error) {
	cursor := startCursor
	// Nothing is committed in this scope yet; the first commit opens it
	// with init (main) or init_branch (child).
	var lastType TransitionType
	first := true
	curInput := input

	for {
		d.drainSignals(state.execID, state)
		if state.isCancelled() {
			return nil, userState, false, richerr.Cancelled("execution %s cancelled", state.execID)
		}
		if cursor.Step >= len(wf) {
			return curInput, userState, false, richerr.IllegalTransition("cursor step %d out of range for workflow of length %d", cursor.Step, len(wf))
		}

		if first {
			initType := TransitionInit
			if !isMain {
				initType = TransitionInitBranch
			}
			markerCursor := cursor
			committed, cerr := d.commitOrReplay(state, cursor, lastType, PartialTransition{Type: initType, Next: &markerCursor}, len(wf), isMain)
			if cerr != nil {
				return nil, userState, false, cerr
			}
			lastType = committed.Type
			first = false
			continue
		}

		step := wf[cursor.Step]

		if popped, ok := state.popReplay(cursorKey(cursor)); ok {
			if popped.Type == TransitionWait {
				lastType = popped.Type
				if next, resumedEarlier := state.popReplay(cursorKey(cursor)); resumedEarlier {
					// An earlier Run already resumed this wait; replay what followed it.
					popped = next
				} else if cursorKey(cursor) == state.resumeAt && state.hasResume {
					toType, to := resolveDefaultNext(cursor, len(wf), isMain)
					_ = toType
					resumed, rerr := d.commit(state, cursor, PartialTransition{Type: TransitionResume, Output: state.resumeInput, Next: to}, lastType, len(wf), isMain)
					if rerr != nil {
						return nil, userState, false, rerr
					}
					lastType = resumed.Type
					if resumed.To == nil {
						finished, ferr := d.commit(state, cursor, PartialTransition{Output: resumed.Output}, lastType, len(wf), isMain)
						if ferr != nil {
							return nil, userState, false, ferr
						}
						return finished.Output, userState, false, nil
					}
					curInput = resumed.Output
					cursor = *resumed.To
					continue
				} else {
					return nil, userState, true, nil
				}
			}

			lastType = popped.Type
			if popped.Type == TransitionCancelled || popped.Type == TransitionError {
				return popped.Output, userState, false, terminalErrFor(popped)
			}
			if popped.To == nil {
				return popped.Output, userState, false, nil
			}
			curInput = popped.Output
			cursor = *popped.To
			continue
		}

		sctx := NewStepContext(input, cursor, step, curInput, nil, userState, isMain, cursor.Step == 0)

		outcome, derr := d.dispatchStep(ctx, sctx, step)
		if derr != nil {
			d.commitError(state, cursor, lastType, derr, len(wf), isMain)
			return nil, userState, false, derr
		}
		if outcome.Err != nil {
			d.commitError(state, cursor, lastType, outcome.Err, len(wf), isMain)
			return nil, userState, false, outcome.Err
		}

		pt, werr := d.interpret(ctx, task, sctx, step, outcome, state)
		if werr != nil {
			d.commitError(state, cursor, lastType, werr, len(wf), isMain)
			return nil, userState, false, werr
		}
		if pt.Suspended {
			return nil, userState, true, nil
		}

		committed, cerr := d.commit(state, cursor, pt, lastType, len(wf), isMain)
		if cerr != nil {
			return nil, userState, false, cerr
		}
		lastType = committed.Type
		if pt.UserState != nil {
			userState = pt.UserState
		}

		if committed.Type == TransitionWait {
			return nil, userState, true, nil
		}
		if committed.Type == TransitionCancelled || committed.Type == TransitionError {
			return committed.Output, userState, false, terminalErrFor(committed)
		}
		if committed.To == nil {
			return committed.Output, userState, false, nil
		}

		curInput = committed.Output
		cursor = *committed.To
	}
}

func terminalErrFor(t Transition) error {
	switch t.Type {
	case TransitionError:
		msg, _ := t.Output.(string)
		return richerr.ActivityFailure(nil, "%s", msg)
	case TransitionCancelled:
		return richerr.Cancelled("execution cancelled")
	default:
		return nil
	}
}

// commitOrReplay returns a previously-committed transition for cursor
// if the log already has one (resume replay), otherwise commits pt
// live.
func (d *Driver) commitOrReplay(state *runState, cursor TransitionTarget, lastType TransitionType, pt PartialTransition, workflowLen int, isMain bool) (Transition, error) {
	if popped, ok := state.popReplay(cursorKey(cursor)); ok {
		return popped, nil
	}
	return d.commit(state, cursor, pt, lastType, workflowLen, isMain)
}

// commit appends draft to execID's log. A bounded-parallel map-reduce
// runs several executeWorkflow calls against the same execution
// concurrently, each committing its own init_branch/finish_branch, so
// the read-latest-then-append sequence below is serialized per
// execution rather than relying on the log's CAS to arbitrate races.
func (d *Driver) commit(state *runState, cursor TransitionTarget, pt PartialTransition, lastType TransitionType, workflowLen int, isMain bool) (Transition, error) {
	draft, err := resolveTransition(cursor, lastType, pt, workflowLen, isMain)
	if err != nil {
		return Transition{}, err
	}
	if lastErr := state.getLastError(); lastErr != nil {
		if draft.Metadata == nil {
			draft.Metadata = map[string]any{}
		}
		draft.Metadata["last_error"] = lastErr
	}

	mu := d.commitLocks.lockFor(state.execID)
	mu.Lock()
	defer mu.Unlock()

	latest, err := d.log.Latest(state.execID)
	if err != nil {
		return Transition{}, err
	}
	expectedSeq := uint64(0)
	if latest != nil {
		expectedSeq = latest.Seq + 1
	}
	return d.log.Append(state.execID, expectedSeq, draft)
}

func (d *Driver) commitError(state *runState, cursor TransitionTarget, lastType TransitionType, cause error, workflowLen int, isMain bool) {
	msg := cause.Error()
	if _, err := d.commit(state, cursor, PartialTransition{Type: TransitionError, Output: msg}, lastType, workflowLen, isMain); err != nil {
		d.logger.Error().Err(err).Str("execution_id", state.execID).Msg("failed to commit error transition")
	}
}

func (d *Driver) drainSignals(executionID string, state *runState) {
	ch := d.signals.chanFor(executionID)
	for {
		select {
		case sig := <-ch:
			switch sig.Name {
			case "set_last_error":
				state.setLastError(sig.Payload)
			case "cancel":
				state.setCancelled()
			}
		default:
			return
		}
	}
}

// dispatchStep runs the activity backing step, if any; pure
// evaluators with no activity (Log/Get/Sleep/Error/Parallel) are
// computed here directly and never reach the Dispatcher.
func (d *Driver) dispatchStep(ctx context.Context, sctx StepContext, step Step) (StepOutcome, error) {
	kind := step.Kind()

	switch s := step.(type) {
	case LogStep:
		return StepOutcome{Output: sctx.CurrentInput}, nil
	case GetStep:
		return StepOutcome{Output: sctx.UserState[s.Key]}, nil
	case SleepStep:
		total := s.Seconds + s.Minutes*60 + s.Hours*3600 + s.Days*86400
		if total <= 0 {
			return StepOutcome{}, richerr.BadInput("sleep duration must be > 0, got %d seconds", total)
		}
		timer := time.NewTimer(time.Duration(total) * time.Second)
		defer timer.Stop()
		select {
		case <-timer.C:
			return StepOutcome{Output: sctx.CurrentInput}, nil
		case <-ctx.Done():
			return StepOutcome{}, richerr.Cancelled("sleep interrupted: %v", ctx.Err())
		}
	case ErrorStep:
		return StepOutcome{}, richerr.BadInput("%s", s.Message)
	case ParallelStep:
		return StepOutcome{}, richerr.NotImplemented("parallel step is not implemented")
	}

	name, ok := LookupActivity(kind)
	if !ok {
		return StepOutcome{}, richerr.NotImplemented("step kind %s has no registered activity", kind)
	}

	timeout := d.cfg.ScheduleToCloseTimeout
	heartbeat := d.cfg.HeartbeatTimeout
	if kind == KindWaitForInput {
		timeout = d.cfg.WaitForInputTimeout
	}

	return d.dispatcher.Invoke(ctx, name, timeout, heartbeat, func(cctx context.Context) (StepOutcome, error) {
		return d.invokeActivity(cctx, sctx, step)
	})
}

func (d *Driver) invokeActivity(ctx context.Context, sctx StepContext, step Step) (StepOutcome, error) {
	switch s := step.(type) {
	case PromptStep:
		return d.activities.PromptStep(ctx, sctx, s)
	case ToolCallStep:
		return d.activities.ToolCallStep(ctx, sctx, s)
	case WaitForInputStep:
		return d.activities.WaitForInputStep(ctx, sctx, s)
	case SwitchStep:
		return d.activities.SwitchStep(ctx, sctx, s)
	case EvaluateStep:
		return d.activities.EvaluateStep(ctx, sctx, s)
	case ReturnStep:
		return d.activities.ReturnStep(ctx, sctx, s)
	case YieldStep:
		return d.activities.YieldStep(ctx, sctx, s)
	case IfElseStep:
		return d.activities.IfElseWorkflowStep(ctx, sctx, s)
	case ForeachStep:
		return d.activities.ForeachStep(ctx, sctx, s)
	case MapReduceStep:
		return d.activities.MapReduceStep(ctx, sctx, s)
	case SetStep:
		return d.activities.SetStep(ctx, sctx, s)
	default:
		return StepOutcome{}, richerr.NotImplemented("step kind %s has no activity implementation", step.Kind())
	}
}
