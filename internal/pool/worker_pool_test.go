package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	p := New(Config{Workers: 4, QueueSize: 16})
	defer p.Close()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			counter.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int32(20), counter.Load())
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 32})
	defer p.Close()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			now := active.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerPool_SubmitHonorsContext(t *testing.T) {
	// One worker, no queue slack: the second submit must wait and the
	// cancelled context cuts it off.
	p := New(Config{Workers: 1, QueueSize: 0})
	defer p.Close()

	release := make(chan struct{})
	err := p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	// Give the worker a moment to pick up the blocking task.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestWorkerPool_RecoversFromPanics(t *testing.T) {
	var recovered atomic.Bool
	p := New(Config{Workers: 1, QueueSize: 4, PanicHandler: func(v any) {
		recovered.Store(true)
	}})

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	// Close drains the queue and joins the worker, so the counters are
	// settled before we read them.
	p.Close()

	assert.True(t, recovered.Load(), "panic handler must run")

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestWorkerPool_CloseDrainsQueue(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 16})

	var counter atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			counter.Add(1)
			return nil
		}))
	}

	p.Close()
	assert.Equal(t, int32(8), counter.Load())

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
