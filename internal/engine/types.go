// Package engine implements the Task Execution Engine: a durable,
// resumable workflow runtime that interprets declarative tasks as
// ordered step programs.
package engine

import "time"

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	StatusQueued        ExecutionStatus = "queued"
	StatusStarting      ExecutionStatus = "starting"
	StatusAwaitingInput ExecutionStatus = "awaiting_input"
	StatusRunning       ExecutionStatus = "running"
	StatusSucceeded     ExecutionStatus = "succeeded"
	StatusFailed        ExecutionStatus = "failed"
	StatusCancelled     ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Execution is one attempt to run a task with a given input.
type Execution struct {
	ExecutionID string
	TaskID      string
	DeveloperID string
	Input       any
	Status      ExecutionStatus
	CreatedAt   time.Time
}

// Task is a named graph of workflows. "main" is the entry point.
type Task struct {
	TaskID    string
	Workflows map[string]Workflow
}

// Workflow is an ordered list of typed steps.
type Workflow []Step

// TransitionTarget (cursor) names a resumable point: which workflow,
// which step index, and the nesting path inside composite steps.
type TransitionTarget struct {
	Workflow string
	Step     int
	Scope    []any
}

func (t TransitionTarget) withStep(step int) TransitionTarget {
	next := t
	next.Step = step
	return next
}

func (t TransitionTarget) child(scopeTag any, step int) TransitionTarget {
	scope := make([]any, len(t.Scope), len(t.Scope)+2)
	copy(scope, t.Scope)
	scope = append(scope, t.Workflow, scopeTag)
	return TransitionTarget{Workflow: t.Workflow, Step: step, Scope: scope}
}

// TransitionType enumerates the transition kinds in the log.
type TransitionType string

const (
	TransitionInit         TransitionType = "init"
	TransitionInitBranch   TransitionType = "init_branch"
	TransitionStep         TransitionType = "step"
	TransitionResume       TransitionType = "resume"
	TransitionWait         TransitionType = "wait"
	TransitionError        TransitionType = "error"
	TransitionCancelled    TransitionType = "cancelled"
	TransitionFinishBranch TransitionType = "finish_branch"
	TransitionFinish       TransitionType = "finish"
)

// Terminal reports whether a transition of this type ends the
// execution (or, for finish_branch, the child scope).
func (t TransitionType) Terminal() bool {
	switch t {
	case TransitionFinish, TransitionFinishBranch, TransitionError, TransitionCancelled:
		return true
	default:
		return false
	}
}

// Transition is one append-only log record.
type Transition struct {
	ExecutionID string
	Seq         uint64
	From        TransitionTarget
	Type        TransitionType
	To          *TransitionTarget
	Output      any
	Metadata    map[string]any
	CreatedAt   time.Time
}

// StepContext is the immutable per-step view handed to the
// interpreter and to activities.
type StepContext struct {
	ExecutionInput any
	CurrentStep    Step
	Cursor         TransitionTarget
	CurrentInput   any
	Tools          []string
	UserState      map[string]any
	IsMain         bool
	IsFirstStep    bool
}

// PartialTransition is the interpreter's intent for the next log
// entry, before the Transition Engine validates and fills defaults.
// Suspended signals that a composite step's child scope suspended on
// a wait point of its own; the parent commits nothing further and
// simply propagates the suspension to its caller.
type PartialTransition struct {
	Type      TransitionType
	Output    any
	Next      *TransitionTarget
	Metadata  map[string]any
	UserState map[string]any
	Suspended bool
}

// StepOutcome is the activity's result for a step.
type StepOutcome struct {
	Output       any
	TransitionTo *struct {
		Type   TransitionType
		Target TransitionTarget
	}
	Err error
}
