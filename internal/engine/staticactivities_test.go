package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingToolBackend struct {
	NoopToolBackend
	gotArgs map[string]any
}

func (b *capturingToolBackend) CallAPI(_ context.Context, arguments map[string]any) (any, error) {
	b.gotArgs = arguments
	return "ok", nil
}

func TestExecuteAPICall_RenamesJSONUnderscoreArgument(t *testing.T) {
	backend := &capturingToolBackend{}
	activities := NewStaticActivities(backend)

	out, err := activities.ExecuteAPICall(context.Background(), StepContext{}, map[string]any{
		"json_":  map[string]any{"a": 1},
		"method": "POST",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	require.Contains(t, backend.gotArgs, "json")
	assert.NotContains(t, backend.gotArgs, "json_")
	assert.Equal(t, map[string]any{"a": 1}, backend.gotArgs["json"])
	assert.Equal(t, "POST", backend.gotArgs["method"])
}

func TestExecuteAPICall_LeavesArgumentsUntouchedWithoutJSONUnderscore(t *testing.T) {
	backend := &capturingToolBackend{}
	activities := NewStaticActivities(backend)

	_, err := activities.ExecuteAPICall(context.Background(), StepContext{}, map[string]any{"method": "GET"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"method": "GET"}, backend.gotArgs)
}
