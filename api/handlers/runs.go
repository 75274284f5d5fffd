package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/api"
	"github.com/canvasflow/canvasflow/history"
	"github.com/canvasflow/canvasflow/internal/ctxkeys"
	"github.com/canvasflow/canvasflow/types"
	"github.com/canvasflow/canvasflow/workflow"
)

// defaultListLimit caps run listings when the client does not ask for
// a specific page size.
const defaultListLimit = 50

// RunsHandler serves the run lifecycle endpoints: starting a run,
// inspecting and cancelling the active one, and listing past runs.
type RunsHandler struct {
	engine *workflow.Engine
	store  history.Store
	logger *zap.Logger
	runCtx context.Context
}

// RunsOption customizes a RunsHandler.
type RunsOption func(*RunsHandler)

// WithRunContext sets the context runs started over the API execute
// under. Pass the process root context so shutdown cancels in-flight
// runs.
func WithRunContext(ctx context.Context) RunsOption {
	return func(h *RunsHandler) {
		if ctx != nil {
			h.runCtx = ctx
		}
	}
}

// NewRunsHandler builds the handler. store may be nil when run history
// is disabled, in which case the history endpoints answer 503.
func NewRunsHandler(engine *workflow.Engine, store history.Store, logger *zap.Logger, opts ...RunsOption) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &RunsHandler{
		engine: engine,
		store:  store,
		logger: logger.With(zap.String("component", "runs_handler")),
		runCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleStart accepts a workflow definition, starts a run, and drives
// it in the background. Answers 202 with the new run id.
func (h *RunsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	graph, err := req.Definition.BuildGraph()
	if err != nil {
		writeEngineError(w, r, err, h.logger)
		return
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = req.Definition.Name
	}

	runID, err := h.engine.StartRun(workflowID, graph)
	if err != nil {
		writeEngineError(w, r, err, h.logger)
		return
	}

	h.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("workflow_id", workflowID),
		zap.Int("nodes", graph.NodeCount()))

	go h.drive(runID, workflowID)

	WriteSuccessStatus(w, r, http.StatusAccepted, api.StartRunResponse{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     workflow.RunStatusRunning,
		TotalSteps: graph.NodeCount(),
	})
}

// drive executes the started run to its terminal state.
func (h *RunsHandler) drive(runID, workflowID string) {
	ctx := ctxkeys.WithRunID(h.runCtx, runID)
	ctx = ctxkeys.WithWorkflowID(ctx, workflowID)

	snap, err := h.engine.Run(ctx)
	switch {
	case err == nil:
		h.logger.Info("run finished",
			zap.String("run_id", runID),
			zap.String("status", string(snap.Status)))
	case types.IsCode(err, types.ErrRunCancelled):
		h.logger.Info("run cancelled",
			zap.String("run_id", runID))
	default:
		h.logger.Error("run failed",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

// HandleCurrent reports a progress summary of the active run.
func (h *RunsHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.engine.Progress()
	if !ok {
		WriteError(w, r, types.NewError(types.ErrNoActiveRun, "no run has been started"), h.logger)
		return
	}
	WriteSuccess(w, r, summary)
}

// HandleSnapshot reports the full node-by-node state of the active
// run.
func (h *RunsHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.engine.Snapshot()
	if !ok {
		WriteError(w, r, types.NewError(types.ErrNoActiveRun, "no run has been started"), h.logger)
		return
	}
	WriteSuccess(w, r, snap)
}

// HandleCancel requests cancellation of the active run. Answers 202;
// the run reaches the cancelled state asynchronously.
func (h *RunsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.engine.Snapshot()
	if !ok {
		WriteError(w, r, types.NewError(types.ErrNoActiveRun, "no run has been started"), h.logger)
		return
	}
	if snap.Status.IsTerminal() {
		WriteError(w, r, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("run %s already finished with status %s", snap.RunID, snap.Status)), h.logger)
		return
	}

	h.engine.Cancel()
	h.logger.Info("run cancellation requested", zap.String("run_id", snap.RunID))

	summary, _ := h.engine.Progress()
	WriteSuccessStatus(w, r, http.StatusAccepted, summary)
}

// HandleList serves the run history, filtered and paged by query
// parameters.
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteError(w, r, types.NewError(types.ErrInvalidConfig, "run history is not configured").
			WithHTTPStatus(http.StatusServiceUnavailable), h.logger)
		return
	}

	filter, err := listFilterFromQuery(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	runs, listErr := h.store.ListRuns(r.Context(), filter)
	if listErr != nil {
		writeEngineError(w, r, listErr, h.logger)
		return
	}

	WriteSuccess(w, r, api.RunListResponse{Runs: runs, Count: len(runs)})
}

// HandleGet serves one run record by id.
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteError(w, r, types.NewError(types.ErrInvalidConfig, "run history is not configured").
			WithHTTPStatus(http.StatusServiceUnavailable), h.logger)
		return
	}

	runID := r.PathValue("id")
	rec, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			WriteError(w, r, types.NewError(types.ErrNotFound,
				fmt.Sprintf("run %s not found", runID)), h.logger)
			return
		}
		writeEngineError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, rec)
}

// listFilterFromQuery translates query parameters into a history
// filter. Unknown status values and malformed timestamps are rejected.
func listFilterFromQuery(r *http.Request) (history.ListFilter, *types.Error) {
	q := r.URL.Query()

	filter := history.ListFilter{
		WorkflowID: q.Get("workflow_id"),
		OrderDesc:  true,
		Limit:      defaultListLimit,
	}

	if raw := q.Get("status"); raw != "" {
		statuses, err := parseRunStatuses(raw)
		if err != nil {
			return history.ListFilter{}, err
		}
		filter.Status = statuses
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return history.ListFilter{}, types.NewError(types.ErrValidation,
				fmt.Sprintf("invalid limit %q", raw))
		}
		filter.Limit = n
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return history.ListFilter{}, types.NewError(types.ErrValidation,
				fmt.Sprintf("invalid offset %q", raw))
		}
		filter.Offset = n
	}

	switch q.Get("order") {
	case "", "desc":
	case "asc":
		filter.OrderDesc = false
	default:
		return history.ListFilter{}, types.NewError(types.ErrValidation,
			fmt.Sprintf("invalid order %q, want asc or desc", q.Get("order")))
	}

	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return history.ListFilter{}, types.NewError(types.ErrValidation,
				fmt.Sprintf("invalid since timestamp %q, want RFC 3339", raw))
		}
		filter.StartedAfter = &ts
	}

	if raw := q.Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return history.ListFilter{}, types.NewError(types.ErrValidation,
				fmt.Sprintf("invalid until timestamp %q, want RFC 3339", raw))
		}
		filter.StartedBefore = &ts
	}

	return filter, nil
}

// parseRunStatuses splits a comma-separated status list and validates
// each value.
func parseRunStatuses(raw string) ([]workflow.RunStatus, *types.Error) {
	parts := strings.Split(raw, ",")
	statuses := make([]workflow.RunStatus, 0, len(parts))
	for _, part := range parts {
		status := workflow.RunStatus(strings.TrimSpace(part))
		switch status {
		case workflow.RunStatusRunning, workflow.RunStatusCompleted,
			workflow.RunStatusCompletedWithFailures, workflow.RunStatusCancelled,
			workflow.RunStatusFailed:
			statuses = append(statuses, status)
		default:
			return nil, types.NewError(types.ErrValidation,
				fmt.Sprintf("unknown run status %q", part))
		}
	}
	return statuses, nil
}

// writeEngineError writes err through the envelope, wrapping anything
// that is not already an API error as internal.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var apiErr *types.Error
	if !errors.As(err, &apiErr) {
		apiErr = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	WriteError(w, r, apiErr, logger)
}
