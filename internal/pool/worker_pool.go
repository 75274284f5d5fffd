// Package pool provides a bounded worker pool for node dispatch.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrTaskPanicked replaces a panic escaping a task.
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is a unit of work.
type Task func(ctx context.Context) error

// Config configures a WorkerPool.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize is the task backlog beyond which Submit blocks.
	QueueSize int
	// PanicHandler observes panics recovered from tasks.
	PanicHandler func(any)
}

// WorkerPool runs tasks on a fixed set of workers. Submit blocks while
// the backlog is full, so a producer dispatching faster than the workers
// drain is throttled instead of dropped.
type WorkerPool struct {
	taskQueue chan taskWrapper
	closed    atomic.Bool
	wg        sync.WaitGroup

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	panicHandler func(any)
}

type taskWrapper struct {
	task Task
	ctx  context.Context
}

// New creates a pool and starts its workers.
func New(cfg Config) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	p := &WorkerPool{
		taskQueue:    make(chan taskWrapper, cfg.QueueSize),
		panicHandler: cfg.PanicHandler,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit hands a task to the pool. It blocks until a queue slot frees up
// or the context is cancelled. The task runs with the submitted context.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.taskQueue <- taskWrapper{task: task, ctx: ctx}:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for wrapper := range p.taskQueue {
		p.active.Add(1)
		err := p.runTask(wrapper)
		p.active.Add(-1)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *WorkerPool) runTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = ErrTaskPanicked
		}
	}()
	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks and waits for queued work to drain.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// Stats reports pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Active:    int(p.active.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats contains pool counters.
type Stats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
