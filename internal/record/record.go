package record

import (
	"context"
	"sync"
	"time"
)

// DefaultRetention bounds how many records are kept per deployment.
const DefaultRetention = 100

// Outcome classifies what a reconciliation attempt did.
type Outcome string

const (
	OutcomeNoop     Outcome = "noop"
	OutcomeApplied  Outcome = "applied"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeleted  Outcome = "deleted"
)

// Record is one reconciliation attempt. Append-only; never mutated after
// creation. Records for a single deployment are strictly ordered by
// generation and timestamp.
type Record struct {
	Deployment string    `json:"deployment"`
	Generation int64     `json:"generation"`
	Action     string    `json:"action"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store persists the reconciliation audit trail.
type Store interface {
	// Append adds a record and prunes history past the retention limit.
	Append(ctx context.Context, rec Record) error

	// List returns up to limit records for a deployment, newest first.
	List(ctx context.Context, deployment string, limit int) ([]Record, error)

	// Last returns the most recent record for a deployment.
	Last(ctx context.Context, deployment string) (Record, bool, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps records in memory; used by one-shot CLI runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	retention int
	records   map[string][]Record
}

// NewMemoryStore constructs a MemoryStore with the given retention;
// non-positive retention falls back to DefaultRetention.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention: retention,
		records:   make(map[string][]Record),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.records[rec.Deployment], rec)
	if excess := len(history) - s.retention; excess > 0 {
		history = append([]Record(nil), history[excess:]...)
	}
	s.records[rec.Deployment] = history
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, deployment string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.records[deployment]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}

	out := make([]Record, 0, limit)
	for i := len(history) - 1; i >= len(history)-limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// Last implements Store.
func (s *MemoryStore) Last(ctx context.Context, deployment string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.records[deployment]
	if len(history) == 0 {
		return Record{}, false, nil
	}
	return history[len(history)-1], true, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
