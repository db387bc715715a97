package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/taskengine/taskengine/internal/config"
	"github.com/taskengine/taskengine/internal/retrypolicy"
)

func newTestDriver(t *testing.T, backend ToolBackend) *Driver {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	db, err := bbolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	txLog := NewBoltTransitionLog(db, logger)
	dispatcher := NewDispatcher(retrypolicy.DefaultRetryPolicy(), logger)
	activities := NewStaticActivities(backend)
	cfg := config.DefaultConfig()

	return NewDriver(txLog, dispatcher, activities, cfg, logger)
}

func TestRun_LinearLogAndReturn(t *testing.T) {
	d := newTestDriver(t, nil)
	task := Task{
		TaskID: "linear",
		Workflows: map[string]Workflow{
			"main": {
				LogStep{Message: "hi"},
				ReturnStep{Expr: "input"},
			},
		},
	}

	result := d.Run(context.Background(), "exec-1", task, "x", nil, false)
	require.NoError(t, result.Err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "x", result.Output)

	transitions, err := d.log.ReadRange("exec-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, transitions, 3)
	assert.Equal(t, TransitionInit, transitions[0].Type)
	assert.Equal(t, TransitionStep, transitions[1].Type)
	assert.Equal(t, "x", transitions[1].Output)
	assert.Equal(t, "hi", transitions[1].Metadata["log"])
	assert.Equal(t, TransitionFinish, transitions[2].Type)
}

// negativeSwitchActivities wraps the default Activities, forcing
// SwitchStep to return a negative match index so the interpreter's
// "Negative indices not allowed" guard is exercised — no expression
// the static evaluator can produce ever yields a negative index on
// its own.
type negativeSwitchActivities struct {
	Activities
}

func (negativeSwitchActivities) SwitchStep(_ context.Context, _ StepContext, _ SwitchStep) (StepOutcome, error) {
	return StepOutcome{Output: -1}, nil
}

func TestRun_SwitchNegativeIndexIsRejected(t *testing.T) {
	d := newTestDriver(t, nil)
	d.activities = negativeSwitchActivities{Activities: d.activities}

	task := Task{
		TaskID: "switch",
		Workflows: map[string]Workflow{
			"main": {
				SwitchStep{Cases: []SwitchCase{
					{Case: "true", Then: Workflow{ReturnStep{Expr: "input"}}},
				}},
			},
		},
	}

	result := d.Run(context.Background(), "exec-2", task, "x", nil, false)
	require.Error(t, result.Err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Err.Error(), "Negative indices not allowed")
}

func TestRun_ForeachCollectsMappedResults(t *testing.T) {
	d := newTestDriver(t, nil)
	task := Task{
		TaskID: "foreach",
		Workflows: map[string]Workflow{
			"main": {
				ForeachStep{In: "input", Do: Workflow{ReturnStep{Expr: "item * 2"}}},
			},
		},
	}

	result := d.Run(context.Background(), "exec-3", task, []any{1.0, 2.0, 3.0}, nil, false)
	require.NoError(t, result.Err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []any{2.0, 4.0, 6.0}, result.Output)
}

func TestRun_ForeachOverEmptyListReturnsEmptyList(t *testing.T) {
	d := newTestDriver(t, nil)
	task := Task{
		TaskID: "foreach-empty",
		Workflows: map[string]Workflow{
			"main": {
				ForeachStep{In: "input", Do: Workflow{ReturnStep{Expr: "item"}}},
			},
		},
	}

	result := d.Run(context.Background(), "exec-4", task, []any{}, nil, false)
	require.NoError(t, result.Err)
	assert.Equal(t, []any{}, result.Output)
}

func TestRun_MapReduceSumIsParallelismInvariant(t *testing.T) {
	for _, parallelism := range []int{1, 2, 4} {
		d := newTestDriver(t, nil)
		task := Task{
			TaskID: "map-reduce",
			Workflows: map[string]Workflow{
				"main": {
					MapReduceStep{
						Over:        "input",
						Map:         Workflow{ReturnStep{Expr: "item"}},
						Reduce:      "acc + item",
						Initial:     0.0,
						Parallelism: parallelism,
					},
				},
			},
		}

		result := d.Run(context.Background(), "exec-mr", task, []any{1.0, 2.0, 3.0, 4.0}, nil, false)
		require.NoError(t, result.Err, "parallelism=%d", parallelism)
		assert.Equal(t, 10.0, result.Output, "parallelism=%d", parallelism)
	}
}

// stubToolBackend's CallLLM always requests a function tool call, so
// PromptStep suspends exactly once.
type stubToolBackend struct {
	NoopToolBackend
}

func (stubToolBackend) CallLLM(_ context.Context, template string, _ StepContext) (LLMResponse, error) {
	return LLMResponse{
		Message:      template,
		FinishReason: "tool_calls",
		ToolCalls:    []ToolCall{{Type: "function", Name: "lookup"}},
	}, nil
}

func TestRun_PromptStepSuspendsAndResumes(t *testing.T) {
	d := newTestDriver(t, stubToolBackend{})
	task := Task{
		TaskID: "prompt",
		Workflows: map[string]Workflow{
			"main": {
				PromptStep{Template: "call a tool", AutoRunTools: true},
				ReturnStep{Expr: "input"},
			},
		},
	}

	first := d.Run(context.Background(), "exec-5", task, "start", nil, false)
	require.NoError(t, first.Err)
	assert.Equal(t, StatusAwaitingInput, first.Status)

	second := d.Run(context.Background(), "exec-5", task, "start", "tool result", true)
	require.NoError(t, second.Err)
	assert.Equal(t, StatusSucceeded, second.Status)
	assert.Equal(t, "tool result", second.Output)
}

func TestRun_SleepThenReturnCommitsExactlyThreeTransitions(t *testing.T) {
	d := newTestDriver(t, nil)
	task := Task{
		TaskID: "sleep",
		Workflows: map[string]Workflow{
			"main": {
				SleepStep{Seconds: 1},
				ReturnStep{Expr: "input"},
			},
		},
	}

	result := d.Run(context.Background(), "exec-6", task, "done", nil, false)
	require.NoError(t, result.Err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "done", result.Output)

	transitions, err := d.log.ReadRange("exec-6", 0, 0)
	require.NoError(t, err)
	assert.Len(t, transitions, 3)
}

func TestRun_SleepNonPositiveDurationIsBadInput(t *testing.T) {
	d := newTestDriver(t, nil)
	task := Task{
		TaskID: "sleep-bad",
		Workflows: map[string]Workflow{
			"main": {SleepStep{Seconds: 0}},
		},
	}

	result := d.Run(context.Background(), "exec-7", task, nil, nil, false)
	require.Error(t, result.Err)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestRun_CancelSignalStopsExecution(t *testing.T) {
	d := newTestDriver(t, stubToolBackend{})
	task := Task{
		TaskID: "cancel",
		Workflows: map[string]Workflow{
			"main": {
				PromptStep{Template: "call a tool", AutoRunTools: true},
				ReturnStep{Expr: "input"},
			},
		},
	}

	first := d.Run(context.Background(), "exec-8", task, "start", nil, false)
	require.NoError(t, first.Err)
	require.Equal(t, StatusAwaitingInput, first.Status)

	require.NoError(t, d.Signal("exec-8", "cancel", nil))
	second := d.Run(context.Background(), "exec-8", task, "start", nil, false)
	assert.Equal(t, StatusCancelled, second.Status)
}
