package stream

import (
	"context"
	"sync"

	"github.com/canvasflow/canvasflow/types"
)

// Source delivers execution events for one workflow. Implementations
// close the returned channel when the stream ends, whether normally or
// after exhausting recovery; Err then reports the terminal error, if
// any.
type Source interface {
	// Subscribe opens the event stream for a workflow. The channel is
	// closed when the stream terminates.
	Subscribe(ctx context.Context, workflowID string) (<-chan Event, error)
	// Err returns the error that terminated the stream, or nil.
	Err() error
	// Close tears the stream down.
	Close() error
}

// FakeSource is an in-memory Source for tests and local development.
// Events pushed with Emit appear on the subscribed channel in order.
type FakeSource struct {
	mu         sync.Mutex
	ch         chan Event
	closed     bool
	workflowID string
	err        error
}

// NewFakeSource creates a fake source with the given buffer size.
func NewFakeSource(buffer int) *FakeSource {
	return &FakeSource{ch: make(chan Event, buffer)}
}

// Subscribe implements Source.
func (f *FakeSource) Subscribe(ctx context.Context, workflowID string) (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, types.NewError(types.ErrStreamClosed, "source already closed")
	}
	f.workflowID = workflowID
	return f.ch, nil
}

// Emit pushes one event onto the stream.
func (f *FakeSource) Emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.ch <- ev
}

// EmitAll pushes events in order.
func (f *FakeSource) EmitAll(events ...Event) {
	for _, ev := range events {
		f.Emit(ev)
	}
}

// WorkflowID returns the id passed to Subscribe.
func (f *FakeSource) WorkflowID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workflowID
}

// Fail terminates the stream with an error, as a broken transport would.
func (f *FakeSource) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.err = err
	f.closed = true
	close(f.ch)
}

// Err implements Source.
func (f *FakeSource) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements Source.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.ch)
	return nil
}
