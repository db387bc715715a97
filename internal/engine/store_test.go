package engine

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "store.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTaskStore_PutJSONThenGetRoundTrips(t *testing.T) {
	store := NewTaskStore(openTestDB(t))
	raw := []byte(`{"task_id": "t1", "workflows": {"main": [{"kind": "return", "expr": "input"}]}}`)

	put, err := store.PutJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "t1", put.TaskID)

	got, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TaskID)
	require.Len(t, got.Workflows["main"], 1)
}

func TestTaskStore_GetMissingTaskIsNotFound(t *testing.T) {
	store := NewTaskStore(openTestDB(t))
	_, err := store.Get("nope")
	assert.Error(t, err)
}

func TestTaskStore_PutJSONRejectsInvalidTask(t *testing.T) {
	store := NewTaskStore(openTestDB(t))
	_, err := store.PutJSON([]byte(`{"workflows": {}}`))
	assert.Error(t, err)
}

func TestBoltExecutionStore_CreateGetUpdateList(t *testing.T) {
	store := NewBoltExecutionStore(openTestDB(t), zerolog.Nop())

	exec := Execution{ExecutionID: "e1", TaskID: "t1", Status: StatusRunning}
	require.NoError(t, store.Create(exec))

	got, err := store.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)

	got.Status = StatusSucceeded
	require.NoError(t, store.Update(got))

	updated, err := store.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, updated.Status)

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "e1", all[0].ExecutionID)
}

func TestBoltExecutionStore_GetMissingIsNotFound(t *testing.T) {
	store := NewBoltExecutionStore(openTestDB(t), zerolog.Nop())
	_, err := store.Get("missing")
	assert.Error(t, err)
}
