// Package ctxkeys carries request-scoped identifiers through contexts.
package ctxkeys

import "context"

// contextKey is a private type so keys cannot collide with other packages.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	runIDKey      contextKey = "run_id"
	workflowIDKey contextKey = "workflow_id"
)

// WithRequestID stores the HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the HTTP request id, if set.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID stores the workflow run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the workflow run id, if set.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithWorkflowID stores the workflow id.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey, workflowID)
}

// WorkflowID returns the workflow id, if set.
func WorkflowID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(workflowIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
