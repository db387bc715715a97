package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/taskengine/taskengine/internal/richerr"
)

// ErrConflict is returned by Append when the sequence number the caller
// expects the new transition to receive is not the next free one —
// another writer raced it.
var ErrConflict = errors.New("engine: transition log conflict")

const transitionsBucketPrefix = "tx:"

// TransitionLog is the append-only, per-execution, totally-ordered
// log that is the engine's sole source of truth for resume.
type TransitionLog interface {
	Append(executionID string, expectedSeq uint64, t Transition) (Transition, error)
	Latest(executionID string) (*Transition, error)
	ReadRange(executionID string, fromSeq, toSeq uint64) ([]Transition, error)
}

// BoltTransitionLog is a bbolt-backed TransitionLog: one bucket per
// execution, keyed by zero-padded sequence number for ordered cursor
// iteration, grounded on the same bucket-per-entity / cursor-scan
// idiom used for checkpoints and workflow sessions elsewhere in this
// codebase.
type BoltTransitionLog struct {
	db     *bbolt.DB
	logger zerolog.Logger
}

func NewBoltTransitionLog(db *bbolt.DB, logger zerolog.Logger) *BoltTransitionLog {
	return &BoltTransitionLog{
		db:     db,
		logger: logger.With().Str("component", "transition_log").Logger(),
	}
}

func bucketName(executionID string) []byte {
	return []byte(transitionsBucketPrefix + executionID)
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// Append commits t as the next transition for executionID, provided
// expectedSeq equals the sequence number that transition will receive:
// one more than the highest sequence number stored, or 0 when there
// are no transitions yet. On mismatch it returns ErrConflict and
// commits nothing.
func (l *BoltTransitionLog) Append(executionID string, expectedSeq uint64, t Transition) (Transition, error) {
	var stored Transition

	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(executionID))
		if err != nil {
			return richerr.NewError(richerr.TransientType).Messagef("creating transition bucket: %w", err).Build()
		}

		var nextSeq uint64
		cur := bucket.Cursor()
		if k, _ := cur.Last(); k != nil {
			var last Transition
			_, v := cur.Last()
			if err := json.Unmarshal(v, &last); err != nil {
				return richerr.NewError(richerr.TransientType).Messagef("decoding last transition: %w", err).Build()
			}
			nextSeq = last.Seq + 1
		}

		if nextSeq != expectedSeq {
			return ErrConflict
		}

		t.ExecutionID = executionID
		t.Seq = nextSeq
		t.CreatedAt = time.Now()

		data, err := json.Marshal(t)
		if err != nil {
			return richerr.NewError(richerr.TransientType).Messagef("encoding transition: %w", err).Build()
		}

		if err := bucket.Put(seqKey(t.Seq), data); err != nil {
			return richerr.NewError(richerr.TransientType).Messagef("writing transition: %w", err).Build()
		}

		stored = t
		return nil
	})
	if err != nil {
		return Transition{}, err
	}

	l.logger.Debug().
		Str("execution_id", executionID).
		Uint64("seq", stored.Seq).
		Str("type", string(stored.Type)).
		Msg("transition committed")

	return stored, nil
}

// Latest returns the most recently committed transition for
// executionID, or nil if none exist.
func (l *BoltTransitionLog) Latest(executionID string) (*Transition, error) {
	var result *Transition

	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(executionID))
		if bucket == nil {
			return nil
		}
		cur := bucket.Cursor()
		k, v := cur.Last()
		if k == nil {
			return nil
		}
		var t Transition
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		result = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadRange returns transitions with seq in [fromSeq, toSeq], toSeq
// being exclusive of nothing (inclusive) when nonzero; toSeq == 0
// means "no upper bound".
func (l *BoltTransitionLog) ReadRange(executionID string, fromSeq, toSeq uint64) ([]Transition, error) {
	var out []Transition

	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(executionID))
		if bucket == nil {
			return nil
		}
		cur := bucket.Cursor()
		for k, v := cur.Seek(seqKey(fromSeq)); k != nil; k, v = cur.Next() {
			var t Transition
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if toSeq != 0 && t.Seq > toSeq {
				break
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
