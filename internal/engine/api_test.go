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

func newTestEngine(t *testing.T, backend ToolBackend) *Engine {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "api.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	txLog := NewBoltTransitionLog(db, logger)
	execStore := NewBoltExecutionStore(db, logger)
	dispatcher := NewDispatcher(retrypolicy.DefaultRetryPolicy(), logger)
	activities := NewStaticActivities(backend)
	cfg := config.DefaultConfig()
	driver := NewDriver(txLog, dispatcher, activities, cfg, logger)
	tasks := NewTaskStore(db)

	return NewEngine(tasks, execStore, txLog, driver, logger)
}

func TestEngine_CreateExecutionRunsToCompletion(t *testing.T) {
	eng := newTestEngine(t, nil)
	raw := []byte(`{"task_id": "greet", "workflows": {"main": [
		{"kind": "return", "expr": "input"}
	]}}`)

	task, err := eng.RegisterTaskJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "greet", task.TaskID)

	exec, err := eng.CreateExecution(context.Background(), "greet", "dev-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, exec.Status)

	transitions, err := eng.ListTransitions(exec.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
}

func TestEngine_SignalResumeWithInputAdvancesSuspendedExecution(t *testing.T) {
	eng := newTestEngine(t, stubToolBackend{})
	raw := []byte(`{"task_id": "ask", "workflows": {"main": [
		{"kind": "prompt", "template": "call a tool", "auto_run_tools": true},
		{"kind": "return", "expr": "input"}
	]}}`)
	_, err := eng.RegisterTaskJSON(raw)
	require.NoError(t, err)

	exec, err := eng.CreateExecution(context.Background(), "ask", "dev-1", "start")
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingInput, exec.Status)

	resumed, err := eng.Signal(context.Background(), exec.ExecutionID, "resume_with_input", "tool result")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, resumed.Status)
}

func TestEngine_SignalResumeRejectsExecutionNotAwaitingInput(t *testing.T) {
	eng := newTestEngine(t, nil)
	raw := []byte(`{"task_id": "quick", "workflows": {"main": [{"kind": "return", "expr": "input"}]}}`)
	_, err := eng.RegisterTaskJSON(raw)
	require.NoError(t, err)

	exec, err := eng.CreateExecution(context.Background(), "quick", "dev-1", "x")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, exec.Status)

	_, err = eng.Signal(context.Background(), exec.ExecutionID, "resume_with_input", "y")
	assert.Error(t, err)
}

func TestEngine_SignalRejectsUnknownName(t *testing.T) {
	eng := newTestEngine(t, nil)
	raw := []byte(`{"task_id": "quick2", "workflows": {"main": [{"kind": "return", "expr": "input"}]}}`)
	_, err := eng.RegisterTaskJSON(raw)
	require.NoError(t, err)

	exec, err := eng.CreateExecution(context.Background(), "quick2", "dev-1", "x")
	require.NoError(t, err)

	_, err = eng.Signal(context.Background(), exec.ExecutionID, "bogus", nil)
	assert.Error(t, err)
}
