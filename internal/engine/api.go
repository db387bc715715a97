package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskengine/taskengine/internal/config"
	"github.com/taskengine/taskengine/internal/richerr"
)

// NewID mints a new identifier for executions and remotely-saved
// input blobs.
func NewID() string {
	return uuid.New().String()
}

// Engine is the inbound API surface: create_execution, get_execution,
// list_transitions, and signal.
type Engine struct {
	tasks      *TaskStore
	executions ExecutionStore
	log        TransitionLog
	driver     *Driver
	logger     zerolog.Logger
}

func NewEngine(tasks *TaskStore, executions ExecutionStore, log TransitionLog, driver *Driver, logger zerolog.Logger) *Engine {
	return &Engine{
		tasks:      tasks,
		executions: executions,
		log:        log,
		driver:     driver,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
}

// RegisterTaskJSON decodes and persists a task definition, making it
// available to CreateExecution by task ID. Persisting the raw
// definition (rather than just an in-memory Task) lets a later CLI
// invocation resume an execution without re-submitting the task.
func (e *Engine) RegisterTaskJSON(raw []byte) (Task, error) {
	return e.tasks.PutJSON(raw)
}

// CreateExecution registers a new Execution for taskID and synchronously
// drives it forward until it suspends or reaches a terminal state.
func (e *Engine) CreateExecution(ctx context.Context, taskID, developerID string, input any) (Execution, error) {
	task, err := e.tasks.Get(taskID)
	if err != nil {
		return Execution{}, err
	}

	exec := Execution{
		ExecutionID: NewID(),
		TaskID:      taskID,
		DeveloperID: developerID,
		Input:       input,
		Status:      StatusStarting,
		CreatedAt:   time.Now(),
	}
	if err := e.executions.Create(exec); err != nil {
		return Execution{}, err
	}

	result := e.driver.Run(ctx, exec.ExecutionID, task, input, nil, false)
	exec.Status = result.Status
	if err := e.executions.Update(exec); err != nil {
		e.logger.Error().Err(err).Str("execution_id", exec.ExecutionID).Msg("failed to persist execution status")
	}
	return exec, result.Err
}

// GetExecution returns the current Execution record.
func (e *Engine) GetExecution(executionID string) (Execution, error) {
	return e.executions.Get(executionID)
}

// ListTransitions returns the full committed transition history for
// executionID, in sequence order.
func (e *Engine) ListTransitions(executionID string) ([]Transition, error) {
	return e.log.ReadRange(executionID, 0, 0)
}

// Signal delivers a named signal to a running or awaiting_input
// execution: set_last_error, resume_with_input, or cancel.
func (e *Engine) Signal(ctx context.Context, executionID, name string, payload any) (Execution, error) {
	exec, err := e.executions.Get(executionID)
	if err != nil {
		return Execution{}, err
	}

	switch name {
	case "set_last_error", "cancel":
		if err := e.driver.Signal(executionID, name, payload); err != nil {
			return Execution{}, err
		}
		return exec, nil

	case "resume_with_input":
		if exec.Status != StatusAwaitingInput {
			return Execution{}, richerr.IllegalTransition("execution %s is not awaiting input", executionID)
		}
		task, err := e.tasks.Get(exec.TaskID)
		if err != nil {
			return Execution{}, err
		}
		result := e.driver.Run(ctx, executionID, task, exec.Input, payload, true)
		exec.Status = result.Status
		if uerr := e.executions.Update(exec); uerr != nil {
			e.logger.Error().Err(uerr).Str("execution_id", executionID).Msg("failed to persist execution status")
		}
		return exec, result.Err

	default:
		return Execution{}, richerr.BadInput("unknown signal %q", name)
	}
}

// RunConfig bundles the ambient configuration an Engine's Driver
// needs to operate (timeouts, retry policy, store location).
type RunConfig = config.Config
