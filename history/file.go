package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a file-based implementation of Store. Suitable for
// single-node deployments. Records are cached in memory and flushed to
// a single JSON index after every write.
type FileStore struct {
	baseDir string
	runs    map[string]*Record
	mu      sync.RWMutex
	closed  bool
	config  Config
}

// NewFileStore creates a file-backed run store under config.BaseDir.
func NewFileStore(config Config) (*FileStore, error) {
	baseDir := filepath.Join(config.BaseDir, "runs")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run store directory: %w", err)
	}

	store := &FileStore{
		baseDir: baseDir,
		runs:    make(map[string]*Record),
		config:  config,
	}

	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load runs from disk: %w", err)
	}

	if config.Cleanup.Enabled {
		go store.cleanupLoop(config.Cleanup.Interval)
	}

	return store, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

func (s *FileStore) loadFromDisk() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil // no existing data
	}
	if err != nil {
		return err
	}

	var runs map[string]*Record
	if err := json.Unmarshal(data, &runs); err != nil {
		return err
	}

	s.runs = runs
	if s.runs == nil {
		s.runs = make(map[string]*Record)
	}
	return nil
}

// saveToDisk writes the whole index atomically: temp file then rename.
func (s *FileStore) saveToDisk() error {
	data, err := json.MarshalIndent(s.runs, "", "  ")
	if err != nil {
		return err
	}

	tempPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.indexPath())
}

// SaveRun persists a run record and flushes the index.
func (s *FileStore) SaveRun(ctx context.Context, rec *Record) error {
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
	return s.saveToDisk()
}

// GetRun retrieves a record by run id.
func (s *FileStore) GetRun(ctx context.Context, runID string) (*Record, error) {
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
func (s *FileStore) ListRuns(ctx context.Context, filter ListFilter) ([]*Record, error) {
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

// DeleteRun removes a record and flushes the index.
func (s *FileStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.runs[runID]; !ok {
		return ErrNotFound
	}
	delete(s.runs, runID)
	return s.saveToDisk()
}

// Cleanup removes records that finished before the cutoff.
func (s *FileStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
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

	if count > 0 {
		if err := s.saveToDisk(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Ping checks if the store is healthy.
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close flushes the index and closes the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveToDisk()
}

// cleanupLoop runs periodic cleanup until the store closes.
func (s *FileStore) cleanupLoop(interval time.Duration) {
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

// Ensure FileStore implements Store
var _ Store = (*FileStore)(nil)
