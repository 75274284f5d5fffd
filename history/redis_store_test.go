package history

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/canvasflow/workflow"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Type = StoreTypeRedis
	cfg.Redis.Addr = mr.Addr()

	store, err := NewRedisStore(cfg)
	require.NoError(t, err)

	return mr, store
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		mr, store := setupTestRedis(t)
		t.Cleanup(func() { mr.Close() })
		return store
	})
}

func TestRedisStore_StatusIndexFollowsResave(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	rec := makeRecord("run-1", "wf-1", workflow.RunStatusCompleted, started)
	require.NoError(t, store.SaveRun(ctx, rec))

	// Finalizing again with failures moves the record to the other
	// status index.
	resaved := makeRecord("run-1", "wf-1", workflow.RunStatusCompletedWithFailures, started)
	require.NoError(t, store.SaveRun(ctx, resaved))

	completed, err := store.ListRuns(ctx, ListFilter{
		Status: []workflow.RunStatus{workflow.RunStatusCompleted},
	})
	require.NoError(t, err)
	assert.Empty(t, completed)

	failed, err := store.ListRuns(ctx, ListFilter{
		Status: []workflow.RunStatus{workflow.RunStatusCompletedWithFailures},
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "run-1", failed[0].RunID)
}

func TestRedisStore_SurvivesKeyPrefixIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()

	cfgA := DefaultConfig()
	cfgA.Redis.Addr = mr.Addr()
	cfgA.Redis.KeyPrefix = "tenant_a:"
	storeA, err := NewRedisStore(cfgA)
	require.NoError(t, err)
	defer storeA.Close()

	cfgB := DefaultConfig()
	cfgB.Redis.Addr = mr.Addr()
	cfgB.Redis.KeyPrefix = "tenant_b:"
	storeB, err := NewRedisStore(cfgB)
	require.NoError(t, err)
	defer storeB.Close()

	rec := makeRecord("run-1", "wf-1", workflow.RunStatusCompleted, time.Now().Add(-time.Minute))
	require.NoError(t, storeA.SaveRun(ctx, rec))

	_, err = storeB.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := storeA.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
}

func TestNewRedisStore_FailsWhenUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := NewRedisStore(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}
