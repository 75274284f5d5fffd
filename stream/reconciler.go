package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/types"
	"github.com/canvasflow/canvasflow/workflow"
)

// RunUpdater is the slice of the workflow engine the reconciler drives.
type RunUpdater interface {
	ApplyExternalStatus(nodeID string, upd workflow.StatusUpdate) (bool, error)
	Finalize(status workflow.RunStatus, upd workflow.RunUpdate) error
}

// Reconciler folds execution events into a run. It assumes at-least-once
// delivery with possible reordering: duplicates are no-ops, completions
// for steps that never reported starting still apply, and events naming
// unknown steps are logged and dropped. A workflow_completed or
// workflow_failed event finalizes the run.
type Reconciler struct {
	updater RunUpdater
	source  Source
	logger  *zap.Logger
}

// NewReconciler creates a reconciler over the given updater and source.
func NewReconciler(updater RunUpdater, source Source, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		updater: updater,
		source:  source,
		logger:  logger.With(zap.String("component", "reconciler")),
	}
}

// Run subscribes to the source and applies events until the stream ends
// or the context is cancelled. It returns the source's terminal error
// when the stream died, nil when it closed cleanly.
func (r *Reconciler) Run(ctx context.Context, workflowID string) error {
	events, err := r.source.Subscribe(ctx, workflowID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if srcErr := r.source.Err(); srcErr != nil {
					r.logger.Error("event stream failed", zap.Error(srcErr))
					return srcErr
				}
				r.logger.Info("event stream closed")
				return nil
			}
			r.Apply(ev)
		}
	}
}

// Apply folds a single event into the run. Faults stay local: a bad
// event never stops the stream.
func (r *Reconciler) Apply(ev Event) {
	if !ev.Type.Known() {
		r.logger.Warn("skipping unknown event type",
			zap.String("type", string(ev.Type)),
			zap.String("step_id", ev.StepID),
		)
		return
	}

	switch ev.Type {
	case EventConnected:
		r.logger.Info("stream subscription confirmed",
			zap.String("execution_id", ev.ExecutionID))

	case EventWorkflowStarted:
		r.logger.Info("remote execution started",
			zap.String("execution_id", ev.ExecutionID),
			zap.Int("total_steps", ev.TotalSteps),
		)

	case EventStepStarted:
		r.applyStep(ev, workflow.StatusUpdate{
			Status: workflow.StatusConnecting,
		})

	case EventStepCompleted:
		r.applyStep(ev, workflow.StatusUpdate{
			Status:     workflow.StatusSuccess,
			Result:     ev.Result,
			Duration:   time.Duration(ev.DurationMs) * time.Millisecond,
			RetryCount: ev.RetryCount,
		})

	case EventStepFailed:
		r.applyStep(ev, workflow.StatusUpdate{
			Status:     workflow.StatusError,
			Error:      ev.Error,
			RetryCount: ev.RetryCount,
		})

	case EventWorkflowCompleted:
		if err := r.updater.Finalize(workflow.RunStatusCompleted, workflow.RunUpdate{
			TokensUsed: ev.TotalTokens,
			CostUSD:    ev.TotalCost,
			Duration:   time.Duration(ev.DurationMs) * time.Millisecond,
		}); err != nil {
			r.logger.Warn("finalize failed", zap.Error(err))
		}

	case EventWorkflowFailed:
		if err := r.updater.Finalize(workflow.RunStatusFailed, workflow.RunUpdate{
			Error: ev.Error,
		}); err != nil {
			r.logger.Warn("finalize failed", zap.Error(err))
		}
	}
}

// applyStep routes a step-level event to the engine. Unknown step ids
// come from canvas edits racing the execution; they are logged and
// dropped.
func (r *Reconciler) applyStep(ev Event, upd workflow.StatusUpdate) {
	changed, err := r.updater.ApplyExternalStatus(ev.StepID, upd)
	if err != nil {
		if types.IsCode(err, types.ErrNotFound) {
			r.logger.Warn("event for unknown step dropped",
				zap.String("step_id", ev.StepID),
				zap.String("type", string(ev.Type)),
			)
			return
		}
		r.logger.Warn("status update rejected",
			zap.String("step_id", ev.StepID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	if !changed {
		r.logger.Debug("duplicate event ignored",
			zap.String("step_id", ev.StepID),
			zap.String("type", string(ev.Type)),
		)
	}
}
