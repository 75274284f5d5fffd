package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/canvasflow/canvasflow/workflow"
)

// runRow is the database row for one run record. Step outcomes are
// stored as a JSON document so the schema stays the same across
// PostgreSQL, MySQL, and SQLite.
type runRow struct {
	RunID          string    `gorm:"primaryKey;size:64"`
	WorkflowID     string    `gorm:"size:128;index:idx_runs_workflow"`
	Status         string    `gorm:"size:32;index:idx_runs_status"`
	StepsJSON      string    `gorm:"type:text"`
	TotalSteps     int       `gorm:"default:0"`
	CompletedCount int       `gorm:"default:0"`
	StartedAt      time.Time `gorm:"index:idx_runs_started"`
	FinishedAt     time.Time
	DurationMs     int64   `gorm:"default:0"`
	TokensUsed     int     `gorm:"default:0"`
	CostUSD        float64 `gorm:"type:decimal(12,6);default:0"`
	Error          string  `gorm:"size:2000"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName sets the table name for run rows.
func (runRow) TableName() string {
	return "workflow_runs"
}

// runNodeRow is one node outcome of a run, stored relationally so
// reporting queries can aggregate by kind or status without parsing
// the JSON document. Reads go through the JSON column; these rows are
// rewritten on every save.
type runNodeRow struct {
	RunID      string  `gorm:"primaryKey;size:64"`
	NodeID     string  `gorm:"primaryKey;size:128"`
	Kind       string  `gorm:"size:32;index:idx_run_nodes_kind"`
	Label      string  `gorm:"size:256"`
	Status     string  `gorm:"size:32;index:idx_run_nodes_status"`
	RetryCount int     `gorm:"default:0"`
	Error      string  `gorm:"size:2000"`
	DurationMs int64   `gorm:"default:0"`
	TokensUsed int     `gorm:"default:0"`
	CostUSD    float64 `gorm:"type:decimal(12,6);default:0"`
}

// TableName sets the table name for node rows.
func (runNodeRow) TableName() string {
	return "workflow_run_nodes"
}

func toRow(rec *Record) (*runRow, error) {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal steps: %w", err)
	}
	return &runRow{
		RunID:          rec.RunID,
		WorkflowID:     rec.WorkflowID,
		Status:         string(rec.Status),
		StepsJSON:      string(steps),
		TotalSteps:     rec.TotalSteps,
		CompletedCount: rec.CompletedCount,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
		DurationMs:     rec.DurationMs,
		TokensUsed:     rec.TokensUsed,
		CostUSD:        rec.CostUSD,
		Error:          rec.Error,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

func toNodeRows(rec *Record) []runNodeRow {
	rows := make([]runNodeRow, 0, len(rec.Steps))
	for _, s := range rec.Steps {
		rows = append(rows, runNodeRow{
			RunID:      rec.RunID,
			NodeID:     s.ID,
			Kind:       string(s.Kind),
			Label:      s.Label,
			Status:     string(s.Status),
			RetryCount: s.RetryCount,
			Error:      s.Error,
			DurationMs: s.DurationMs,
			TokensUsed: s.TokensUsed,
			CostUSD:    s.CostUSD,
		})
	}
	return rows
}

func fromRow(row *runRow) (*Record, error) {
	rec := &Record{
		RunID:          row.RunID,
		WorkflowID:     row.WorkflowID,
		Status:         workflow.RunStatus(row.Status),
		TotalSteps:     row.TotalSteps,
		CompletedCount: row.CompletedCount,
		StartedAt:      row.StartedAt,
		FinishedAt:     row.FinishedAt,
		DurationMs:     row.DurationMs,
		TokensUsed:     row.TokensUsed,
		CostUSD:        row.CostUSD,
		Error:          row.Error,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.StepsJSON != "" {
		if err := json.Unmarshal([]byte(row.StepsJSON), &rec.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	return rec, nil
}

// SQLStore is a GORM-backed implementation of Store.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLStore opens the configured database and prepares the run
// table.
func NewSQLStore(config Config, logger *zap.Logger) (*SQLStore, error) {
	dialector, err := openDialector(config.SQL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	return NewSQLStoreWithDB(db, logger)
}

// NewSQLStoreWithDB wraps an already-open GORM connection, migrating
// the run table if needed. Useful when the application shares one
// connection pool across components.
func NewSQLStoreWithDB(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(&runRow{}, &runNodeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run tables: %w", err)
	}

	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "history_sql")),
	}, nil
}

// openDialector maps a driver name to its GORM dialector.
func openDialector(cfg SQLConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", cfg.Driver)
	}
}

// SaveRun persists a run record, overwriting any previous record with
// the same run id. The run row and its node rows are written in one
// transaction.
func (s *SQLStore) SaveRun(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return ErrInvalidInput
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	row, err := toRow(rec)
	if err != nil {
		return err
	}
	nodes := toNodeRows(rec)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", rec.RunID).Delete(&runNodeRow{}).Error; err != nil {
			return err
		}
		if len(nodes) == 0 {
			return nil
		}
		return tx.Create(&nodes).Error
	})
}

// GetRun retrieves a record by run id.
func (s *SQLStore) GetRun(ctx context.Context, runID string) (*Record, error) {
	var row runRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

// ListRuns retrieves records matching the filter.
func (s *SQLStore) ListRuns(ctx context.Context, filter ListFilter) ([]*Record, error) {
	query := s.db.WithContext(ctx).Model(&runRow{})

	if filter.WorkflowID != "" {
		query = query.Where("workflow_id = ?", filter.WorkflowID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, st := range filter.Status {
			statuses = append(statuses, string(st))
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.StartedAfter != nil {
		query = query.Where("started_at >= ?", *filter.StartedAfter)
	}
	if filter.StartedBefore != nil {
		query = query.Where("started_at < ?", *filter.StartedBefore)
	}

	order := "started_at ASC"
	if filter.OrderDesc {
		order = "started_at DESC"
	}
	query = query.Order(order)

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []runRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			s.logger.Warn("skipping undecodable run row",
				zap.String("run_id", rows[i].RunID),
				zap.Error(err),
			)
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// DeleteRun removes a record and its node rows.
func (s *SQLStore) DeleteRun(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&runNodeRow{}).Error; err != nil {
			return err
		}
		result := tx.Where("run_id = ?", runID).Delete(&runRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Cleanup removes records that finished before the cutoff, along with
// their node rows.
func (s *SQLStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&runRow{}).Where("finished_at < ?", cutoff).Pluck("run_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("run_id IN ?", ids).Delete(&runNodeRow{}).Error; err != nil {
			return err
		}
		result := tx.Where("run_id IN ?", ids).Delete(&runRow{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// Ping checks if the database connection is healthy.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)
