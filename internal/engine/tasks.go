package engine

import (
	"go.etcd.io/bbolt"

	"github.com/taskengine/taskengine/internal/richerr"
)

const tasksBucket = "tasks"

// TaskStore persists task definitions as their original JSON bytes,
// keyed by task ID, so a later CLI invocation (a fresh process with
// an empty in-memory registry) can still look up the task a
// suspended execution needs to resume.
type TaskStore struct {
	db *bbolt.DB
}

func NewTaskStore(db *bbolt.DB) *TaskStore {
	return &TaskStore{db: db}
}

// PutJSON validates and stores a task definition under its own task_id.
func (s *TaskStore) PutJSON(raw []byte) (Task, error) {
	task, err := DecodeTask(raw)
	if err != nil {
		return Task{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(tasksBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(task.TaskID), raw)
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *TaskStore) Get(taskID string) (Task, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tasksBucket))
		if bucket == nil {
			return richerr.NotFound("task %s not found", taskID)
		}
		v := bucket.Get([]byte(taskID))
		if v == nil {
			return richerr.NotFound("task %s not found", taskID)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return DecodeTask(raw)
}
