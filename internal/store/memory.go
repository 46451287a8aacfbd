package store

import (
	"context"
	"sort"
	"sync"

	"vigil/internal/metrics"
	"vigil/internal/models"
)

// MemoryStore keeps per-user histories in process memory. Safe for
// concurrent use; contents live for the lifetime of the process.
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[int64][]models.Operation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		histories: make(map[int64][]models.Operation),
	}
}

// Save appends the operation and re-sorts the user's history by t. The sort
// is stable, so operations sharing a timestamp keep their insertion order.
func (s *MemoryStore) Save(_ context.Context, op models.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.histories[op.UserID], op)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].T < history[j].T
	})
	s.histories[op.UserID] = history

	metrics.StoreOperationsTotal.WithLabelValues("memory", "save").Inc()
	return nil
}

// LastN returns the filtered tail of the user's history, ascending by t.
func (s *MemoryStore) LastN(_ context.Context, userID int64, n int, filter TypeFilter) ([]models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 0 {
		n = 0
	}

	ops := s.filtered(userID, filter)
	if len(ops) > n {
		ops = ops[len(ops)-n:]
	}

	metrics.StoreOperationsTotal.WithLabelValues("memory", "last_n").Inc()
	return ops, nil
}

// Since returns all of the user's operations with t >= minT, ascending by t.
func (s *MemoryStore) Since(_ context.Context, userID int64, minT int64, filter TypeFilter) ([]models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ops []models.Operation
	for _, op := range s.histories[userID] {
		if op.T >= minT && filter.matches(op) {
			ops = append(ops, op)
		}
	}

	metrics.StoreOperationsTotal.WithLabelValues("memory", "since").Inc()
	return ops, nil
}

// filtered copies the matching operations so callers never alias the
// history slice. Caller holds at least the read lock.
func (s *MemoryStore) filtered(userID int64, filter TypeFilter) []models.Operation {
	history := s.histories[userID]

	ops := make([]models.Operation, 0, len(history))
	for _, op := range history {
		if filter.matches(op) {
			ops = append(ops, op)
		}
	}
	return ops
}
