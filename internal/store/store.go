// Package store persists evaluation records, near-miss events, sessions,
// and webhook registrations in an embedded bbolt database.
//
// Writes from the evaluation path go through a background writer so the
// engine never blocks on disk: SaveAction, SaveNearMiss, and SaveSession
// enqueue and return. A full queue or a failed write surfaces as a
// DeferredError — the caller's decision stands, the write is retried by
// the writer, and the worst case is a logged drop, never a stalled or
// altered decision.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/riskgate/riskgate/internal/model"
)

var (
	bucketActions    = []byte("actions")
	bucketNearMisses = []byte("near_misses")
	bucketSessions   = []byte("sessions")
	bucketWebhooks   = []byte("webhooks")
)

const (
	queueSize    = 1024
	writeRetries = 3
	retryBackoff = 50 * time.Millisecond
)

// DeferredError marks a durable write that did not complete synchronously.
// The in-memory decision already returned to the caller stands.
type DeferredError struct {
	Op  string
	Err error
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("store: %s deferred: %v", e.Op, e.Err)
}

func (e *DeferredError) Unwrap() error { return e.Err }

type jobKind int

const (
	jobAction jobKind = iota
	jobNearMiss
	jobSession
	jobFlush
)

type job struct {
	kind     jobKind
	action   model.ActionRecord
	nearMiss model.NearMissEvent
	session  model.BudgetState
	flush    chan struct{}
}

// Store is a bbolt-backed record store with an asynchronous write path.
type Store struct {
	db    *bolt.DB
	log   zerolog.Logger
	queue chan job
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the database at path and starts the background
// writer.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketActions, bucketNearMisses, bucketSessions, bucketWebhooks} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}

	s := &Store{
		db:    db,
		log:   log,
		queue: make(chan job, queueSize),
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

// Close drains the write queue and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

// SaveAction queues an action record write. The same ID may be written
// again when the record is resolved; the later write wins.
func (s *Store) SaveAction(rec model.ActionRecord) error {
	return s.enqueue(job{kind: jobAction, action: rec}, "save action")
}

// SaveNearMiss queues a near-miss event write.
func (s *Store) SaveNearMiss(ev model.NearMissEvent) error {
	return s.enqueue(job{kind: jobNearMiss, nearMiss: ev}, "save near-miss")
}

// SaveSession queues a session budget-state write.
func (s *Store) SaveSession(state model.BudgetState) error {
	return s.enqueue(job{kind: jobSession, session: state}, "save session")
}

func (s *Store) enqueue(j job, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &DeferredError{Op: op, Err: fmt.Errorf("store closed")}
	}
	select {
	case s.queue <- j:
		return nil
	default:
		return &DeferredError{Op: op, Err: fmt.Errorf("write queue full")}
	}
}

// writer drains the queue, retrying each write a bounded number of times.
func (s *Store) writer() {
	defer s.wg.Done()

	for j := range s.queue {
		if j.kind == jobFlush {
			close(j.flush)
			continue
		}
		var err error
		backoff := retryBackoff
		for attempt := 1; attempt <= writeRetries; attempt++ {
			err = s.apply(j)
			if err == nil {
				break
			}
			if attempt < writeRetries {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if err != nil {
			s.log.Error().Err(err).Int("kind", int(j.kind)).Msg("store_write_dropped")
		}
	}
}

func (s *Store) apply(j job) error {
	switch j.kind {
	case jobAction:
		return s.put(bucketActions, itob(j.action.ID), j.action)
	case jobNearMiss:
		return s.put(bucketNearMisses, itob(j.nearMiss.ID), j.nearMiss)
	case jobSession:
		return s.put(bucketSessions, []byte(j.session.SessionID), j.session)
	default:
		return fmt.Errorf("unknown job kind %d", j.kind)
	}
}

func (s *Store) put(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

// Flush blocks until every queued write has been applied. Test helper and
// shutdown aid; the evaluation path never calls it.
func (s *Store) Flush() {
	done := make(chan struct{})
	waiter := job{kind: jobFlush, flush: done}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue <- waiter
	s.mu.Unlock()
	<-done
}

// LoadActions returns every stored action record ordered by ID.
func (s *Store) LoadActions() ([]model.ActionRecord, error) {
	var out []model.ActionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var rec model.ActionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode action %d: %w", btoi(k), err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: load actions: %w", err)
	}
	return out, nil
}

// LoadNearMisses returns every stored near-miss event ordered by ID.
func (s *Store) LoadNearMisses() ([]model.NearMissEvent, error) {
	var out []model.NearMissEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNearMisses).ForEach(func(k, v []byte) error {
			var ev model.NearMissEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decode near-miss %d: %w", btoi(k), err)
			}
			out = append(out, ev)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: load near-misses: %w", err)
	}
	return out, nil
}

// LoadSessions returns every stored session budget state.
func (s *Store) LoadSessions() ([]model.BudgetState, error) {
	var out []model.BudgetState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var state model.BudgetState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("decode session %s: %w", k, err)
			}
			out = append(out, state)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: load sessions: %w", err)
	}
	return out, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
