package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store. Suitable for
// development and testing. Records are lost on restart.
type MemoryStore struct {
	runs   map[string]*Record
	mu     sync.RWMutex
	closed bool
	config Config
}

// NewMemoryStore creates a new in-memory run store.
func NewMemoryStore(config Config) *MemoryStore {
	store := &MemoryStore{
		runs:   make(map[string]*Record),
		config: config,
	}

	if config.Cleanup.Enabled {
		go store.cleanupLoop(config.Cleanup.Interval)
	}

	return store
}

// SaveRun persists a run record.
func (s *MemoryStore) SaveRun(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.runs[rec.RunID] = rec
	return nil
}

// GetRun retrieves a record by run id.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// ListRuns retrieves records matching the filter.
func (s *MemoryStore) ListRuns(ctx context.Context, filter ListFilter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Record, 0)
	for _, rec := range s.runs {
		if filter.matches(rec) {
			result = append(result, rec)
		}
	}
	return filter.apply(result), nil
}

// DeleteRun removes a record.
func (s *MemoryStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.runs[runID]; !ok {
		return ErrNotFound
	}
	delete(s.runs, runID)
	return nil
}

// Cleanup removes records that finished before the cutoff.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for runID, rec := range s.runs {
		checkTime := rec.UpdatedAt
		if !rec.FinishedAt.IsZero() {
			checkTime = rec.FinishedAt
		}
		if checkTime.Before(cutoff) {
			delete(s.runs, runID)
			count++
		}
	}
	return count, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// cleanupLoop runs periodic cleanup until the store closes.
func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return
		}

		_, _ = s.Cleanup(context.Background(), s.config.Cleanup.Retention)
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
