package engine

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/taskengine/taskengine/internal/richerr"
)

const executionsBucket = "executions"

// ExecutionStore persists Execution records, separately from the
// per-execution transition log.
type ExecutionStore interface {
	Create(e Execution) error
	Get(executionID string) (Execution, error)
	Update(e Execution) error
	List() ([]Execution, error)
}

// BoltExecutionStore implements ExecutionStore on a single bbolt
// bucket keyed by execution ID, following the same
// one-bucket-per-concern layout BoltWorkflowSessionManager uses.
type BoltExecutionStore struct {
	db     *bbolt.DB
	logger zerolog.Logger
}

func NewBoltExecutionStore(db *bbolt.DB, logger zerolog.Logger) *BoltExecutionStore {
	return &BoltExecutionStore{db: db, logger: logger.With().Str("component", "execution_store").Logger()}
}

func (s *BoltExecutionStore) Create(e Execution) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(executionsBucket))
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(e.ExecutionID), data)
	})
}

func (s *BoltExecutionStore) Get(executionID string) (Execution, error) {
	var e Execution
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(executionsBucket))
		if bucket == nil {
			return richerr.NotFound("execution %s not found", executionID)
		}
		data := bucket.Get([]byte(executionID))
		if data == nil {
			return richerr.NotFound("execution %s not found", executionID)
		}
		return json.Unmarshal(data, &e)
	})
	return e, err
}

func (s *BoltExecutionStore) Update(e Execution) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(executionsBucket))
		if bucket == nil {
			return richerr.NotFound("execution %s not found", e.ExecutionID)
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(e.ExecutionID), data)
	})
}

func (s *BoltExecutionStore) List() ([]Execution, error) {
	var out []Execution
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(executionsBucket))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Execution
			if err := json.Unmarshal(v, &e); err != nil {
				s.logger.Warn().Err(err).Str("execution_id", string(k)).Msg("skipping unreadable execution record")
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
