package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTask_LinearWorkflow(t *testing.T) {
	raw := []byte(`{
		"task_id": "greet",
		"workflows": {
			"main": [
				{"kind": "log", "message": "starting"},
				{"kind": "if_else", "cond": "input > 0", "then": [
					{"kind": "return", "expr": "input"}
				], "else": [
					{"kind": "return", "expr": "0"}
				]}
			]
		}
	}`)

	task, err := DecodeTask(raw)
	require.NoError(t, err)
	assert.Equal(t, "greet", task.TaskID)
	require.Contains(t, task.Workflows, "main")
	require.Len(t, task.Workflows["main"], 2)

	logStep, ok := task.Workflows["main"][0].(LogStep)
	require.True(t, ok)
	assert.Equal(t, "starting", logStep.Message)

	ifElse, ok := task.Workflows["main"][1].(IfElseStep)
	require.True(t, ok)
	assert.Equal(t, "input > 0", ifElse.Cond)
	require.Len(t, ifElse.Then, 1)
	require.Len(t, ifElse.Else, 1)
}

func TestDecodeTask_RequiresMainWorkflow(t *testing.T) {
	raw := []byte(`{"task_id": "no-main", "workflows": {"other": [{"kind": "log"}]}}`)
	_, err := DecodeTask(raw)
	assert.Error(t, err)
}

func TestDecodeTask_RequiresTaskID(t *testing.T) {
	raw := []byte(`{"workflows": {"main": [{"kind": "log"}]}}`)
	_, err := DecodeTask(raw)
	assert.Error(t, err)
}

func TestDecodeTask_RejectsMalformedJSON(t *testing.T) {
	_, err := DecodeTask([]byte(`not json`))
	assert.Error(t, err)
}
