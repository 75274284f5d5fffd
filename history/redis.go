package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canvasflow/canvasflow/workflow"
)

// RedisStore is a Redis-based implementation of Store. Suitable for
// distributed deployments. Records are stored as JSON values with
// sorted-set indexes by workflow and status, scored by start time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	config    Config
}

// NewRedisStore creates a Redis-backed run store and verifies the
// connection.
func NewRedisStore(config Config) (*RedisStore, error) {
	addr := config.Redis.Addr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "canvasflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "run:",
		config:    config,
	}, nil
}

func (s *RedisStore) runKey(runID string) string {
	return s.keyPrefix + "data:" + runID
}

func (s *RedisStore) workflowKey(workflowID string) string {
	return s.keyPrefix + "wf:" + workflowID
}

func (s *RedisStore) statusKey(status workflow.RunStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

func (s *RedisStore) allRunsKey() string {
	return s.keyPrefix + "all"
}

// SaveRun persists a run record and updates the indexes.
func (s *RedisStore) SaveRun(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return ErrInvalidInput
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	// Fetch the previous record so a status change cleans its index.
	oldRec, _ := s.GetRun(ctx, rec.RunID)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	score := float64(rec.StartedAt.UnixNano())

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(rec.RunID), data, 0)

	if oldRec != nil && oldRec.Status != rec.Status {
		pipe.ZRem(ctx, s.statusKey(oldRec.Status), rec.RunID)
	}
	pipe.ZAdd(ctx, s.statusKey(rec.Status), redis.Z{Score: score, Member: rec.RunID})
	pipe.ZAdd(ctx, s.allRunsKey(), redis.Z{Score: score, Member: rec.RunID})
	if rec.WorkflowID != "" {
		pipe.ZAdd(ctx, s.workflowKey(rec.WorkflowID), redis.Z{Score: score, Member: rec.RunID})
	}

	_, err = pipe.Exec(ctx)
	return err
}

// GetRun retrieves a record by run id.
func (s *RedisStore) GetRun(ctx context.Context, runID string) (*Record, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns retrieves records matching the filter. The narrowest
// available index is scanned, then the remaining criteria are applied
// in memory.
func (s *RedisStore) ListRuns(ctx context.Context, filter ListFilter) ([]*Record, error) {
	var runIDs []string
	var err error

	if filter.WorkflowID != "" {
		runIDs, err = s.client.ZRange(ctx, s.workflowKey(filter.WorkflowID), 0, -1).Result()
	} else if len(filter.Status) == 1 {
		runIDs, err = s.client.ZRange(ctx, s.statusKey(filter.Status[0]), 0, -1).Result()
	} else {
		runIDs, err = s.client.ZRange(ctx, s.allRunsKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, err
	}

	result := make([]*Record, 0, len(runIDs))
	for _, runID := range runIDs {
		rec, err := s.GetRun(ctx, runID)
		if err != nil {
			continue
		}
		if filter.matches(rec) {
			result = append(result, rec)
		}
	}
	return filter.apply(result), nil
}

// DeleteRun removes a record and its index entries.
func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.ZRem(ctx, s.statusKey(rec.Status), runID)
	pipe.ZRem(ctx, s.allRunsKey(), runID)
	if rec.WorkflowID != "" {
		pipe.ZRem(ctx, s.workflowKey(rec.WorkflowID), runID)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// Cleanup removes records whose start time is before the cutoff.
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()

	runIDs, err := s.client.ZRangeByScore(ctx, s.allRunsKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, runID := range runIDs {
		if err := s.DeleteRun(ctx, runID); err == nil {
			count++
		}
	}
	return count, nil
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
