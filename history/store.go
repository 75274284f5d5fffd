package history

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/canvasflow/canvasflow/workflow"
)

// Common errors
var (
	ErrNotFound     = errors.New("run not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType selects the storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// Store persists finished workflow runs.
type Store interface {
	// SaveRun writes a run record. Saving an existing run id
	// overwrites the previous record.
	SaveRun(ctx context.Context, rec *Record) error

	// GetRun retrieves a record by run id.
	GetRun(ctx context.Context, runID string) (*Record, error)

	// ListRuns retrieves records matching the filter, ordered by
	// start time.
	ListRuns(ctx context.Context, filter ListFilter) ([]*Record, error)

	// DeleteRun removes a record.
	DeleteRun(ctx context.Context, runID string) error

	// Cleanup removes records that finished before now-olderThan and
	// returns how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// ListFilter narrows and pages a run listing.
type ListFilter struct {
	// WorkflowID restricts the listing to one workflow.
	WorkflowID string

	// Status restricts the listing to runs in any of these statuses.
	Status []workflow.RunStatus

	// StartedAfter keeps runs that started at or after this time.
	StartedAfter *time.Time

	// StartedBefore keeps runs that started before this time.
	StartedBefore *time.Time

	// OrderDesc lists newest runs first.
	OrderDesc bool

	// Offset skips this many records after ordering.
	Offset int

	// Limit caps the number of records returned (0 means no cap).
	Limit int
}

// matches reports whether a record passes the filter.
func (f ListFilter) matches(rec *Record) bool {
	if f.WorkflowID != "" && rec.WorkflowID != f.WorkflowID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartedAfter != nil && rec.StartedAt.Before(*f.StartedAfter) {
		return false
	}
	if f.StartedBefore != nil && !rec.StartedAt.Before(*f.StartedBefore) {
		return false
	}
	return true
}

// apply sorts, offsets, and limits an unordered result set.
func (f ListFilter) apply(recs []*Record) []*Record {
	sort.Slice(recs, func(i, j int) bool {
		less := recs[i].StartedAt.Before(recs[j].StartedAt)
		if f.OrderDesc {
			return !less
		}
		return less
	})

	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return []*Record{}
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}

// CleanupConfig controls automatic removal of old run records.
type CleanupConfig struct {
	// Enabled turns the periodic cleanup loop on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is how often cleanup runs (default: 1h).
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Retention is how long finished runs are kept (default: 168h).
	Retention time.Duration `json:"retention" yaml:"retention"`
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:   false,
		Interval:  1 * time.Hour,
		Retention: 7 * 24 * time.Hour,
	}
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix namespaces every key this store writes.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// Addr overrides Host:Port when set, for test servers.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// SQLConfig contains database configuration for the SQL store.
type SQLConfig struct {
	// Driver is one of "postgres", "mysql", or "sqlite".
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `json:"dsn" yaml:"dsn"`
}

// Config is the configuration for all store implementations.
type Config struct {
	// Type is the storage backend type.
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage.
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis").
	Redis RedisConfig `json:"redis" yaml:"redis"`

	// SQL configuration (only used when Type is "sql").
	SQL SQLConfig `json:"sql" yaml:"sql"`

	// Cleanup configuration.
	Cleanup CleanupConfig `json:"cleanup" yaml:"cleanup"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Type:    StoreTypeMemory,
		BaseDir: "./data/history",
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "canvasflow:",
		},
		SQL: SQLConfig{
			Driver: "sqlite",
			DSN:    "./data/history/runs.db",
		},
		Cleanup: DefaultCleanupConfig(),
	}
}
