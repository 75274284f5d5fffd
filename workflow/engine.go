package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/internal/pool"
	"github.com/canvasflow/canvasflow/types"
)

// StatusUpdate carries an authoritative node status change from the
// remote execution service. Zero-valued fields are left untouched on the
// node, so a bare status change and a rich completion event use the same
// type.
type StatusUpdate struct {
	Status     NodeStatus
	Result     any
	Error      string
	Duration   time.Duration
	TokensUsed int
	CostUSD    float64
	RetryCount int
}

// RunUpdate carries run-level totals reported by the remote execution
// service when it declares a run finished.
type RunUpdate struct {
	TokensUsed int
	CostUSD    float64
	Duration   time.Duration
	Error      string
}

// FinalizeHook observes the final snapshot of a run. Hooks run
// synchronously after the run reaches a terminal status, in registration
// order, and must not call back into the engine.
type FinalizeHook func(RunSnapshot)

// StartHook observes a run starting. Hooks run synchronously inside
// StartRun after the run state is initialized, and must not call back
// into the engine.
type StartHook func(runID, workflowID string)

// nodeResult is what a node execution goroutine reports back to the run
// loop once its retry loop is exhausted.
type nodeResult struct {
	nodeID    string
	outcome   ActionOutcome
	attempts  int
	abandoned bool
}

// Engine executes one workflow run at a time over a validated graph.
// Node dispatch is concurrent: every node whose dependencies have
// succeeded starts immediately, bounded by the worker pool. The same
// engine also serves as the live read model for a remotely executing
// run: ApplyExternalStatus and Finalize fold authoritative remote events
// into the run state, with or without a local Run loop driving
// execution.
type Engine struct {
	executor  ActionExecutor
	scheduler *Scheduler
	policy    RetryPolicy
	logger    *zap.Logger

	maxConcurrency int
	hooks          []FinalizeHook
	startHooks     []StartHook

	mu         sync.Mutex
	graph      *Graph
	st         *runState
	inFlight   map[string]bool
	executing  bool
	cancelled  bool
	hooksFired bool
	wakeCh     chan struct{}
	cancelRun  context.CancelFunc

	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithScheduler replaces the default scheduler.
func WithScheduler(s *Scheduler) EngineOption {
	return func(e *Engine) { e.scheduler = s }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithEngineLogger sets a custom logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger.With(zap.String("component", "engine")) }
}

// WithMaxConcurrency bounds how many nodes may execute at once.
func WithMaxConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithFinalizeHook registers a hook invoked with the final snapshot when
// a run reaches a terminal status.
func WithFinalizeHook(h FinalizeHook) EngineOption {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// WithStartHook registers a hook invoked when StartRun accepts a run.
func WithStartHook(h StartHook) EngineOption {
	return func(e *Engine) { e.startHooks = append(e.startHooks, h) }
}

// NewEngine creates an engine around the given executor. A nil executor
// defaults to a simulated one that succeeds every action.
func NewEngine(executor ActionExecutor, opts ...EngineOption) *Engine {
	e := &Engine{
		executor:       executor,
		policy:         DefaultRetryPolicy(),
		logger:         zap.NewNop(),
		maxConcurrency: 8,
		inFlight:       make(map[string]bool),
		wakeCh:         make(chan struct{}, 1),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.executor == nil {
		e.executor = NewSimulatedExecutor(nil)
	}
	if e.scheduler == nil {
		e.scheduler = NewScheduler(e.logger)
	}
	return e
}

// StartRun resets the engine onto a fresh run over the given graph:
// every node pending, every edge idle, the run clock started. It returns
// the new run id, or ErrAlreadyRunning while a previous run is still
// active. A remotely finalized run whose Run loop is still draining
// in-flight nodes counts as active: the loop owns the run state until it
// returns.
func (e *Engine) StartRun(workflowID string, g *Graph) (string, error) {
	if g == nil || g.NodeCount() == 0 {
		return "", types.NewError(types.ErrEmptyGraph, "cannot start a run over an empty graph").
			WithHTTPStatus(400)
	}

	e.mu.Lock()
	if e.executing || (e.st != nil && !e.st.status.IsTerminal()) {
		err := types.NewError(types.ErrAlreadyRunning,
			fmt.Sprintf("run %s is still active", e.st.runID)).
			WithHTTPStatus(409)
		e.mu.Unlock()
		return "", err
	}

	runID := "run_" + uuid.NewString()
	e.graph = g
	e.st = newRunState(runID, workflowID, g, e.now())
	e.inFlight = make(map[string]bool)
	e.executing = false
	e.cancelled = false
	e.hooksFired = false
	e.drainWakeLocked()
	e.mu.Unlock()

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("workflow_id", workflowID),
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
	)
	for _, h := range e.startHooks {
		h(runID, workflowID)
	}
	return runID, nil
}

// Run drives the active run to a terminal status and returns its final
// snapshot. Nodes are dispatched as their dependencies succeed; a node
// failure skips its descendants while independent branches keep
// executing. Cancelling the context stops new dispatches, lets in-flight
// nodes finish, and finishes the run as cancelled.
func (e *Engine) Run(ctx context.Context) (RunSnapshot, error) {
	e.mu.Lock()
	if e.st == nil {
		e.mu.Unlock()
		return RunSnapshot{}, types.NewError(types.ErrNoActiveRun, "no run has been started")
	}
	if e.executing {
		id := e.st.runID
		e.mu.Unlock()
		return RunSnapshot{}, types.NewError(types.ErrAlreadyRunning,
			fmt.Sprintf("run %s is already executing", id))
	}
	e.executing = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	runID := e.st.runID
	nodeCount := e.graph.NodeCount()
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.executing = false
		e.cancelRun = nil
		e.mu.Unlock()
	}()

	workers := pool.New(pool.Config{
		Workers:   e.maxConcurrency,
		QueueSize: nodeCount,
	})
	defer workers.Close()

	// One buffered slot per node so execution goroutines never block on
	// the results channel, even when the loop has already returned.
	results := make(chan nodeResult, nodeCount)

	// Nilled out after the first cancellation so the drain phase blocks
	// on results instead of spinning on the closed Done channel.
	done := runCtx.Done()

	for {
		e.mu.Lock()
		if e.st.status.IsTerminal() && len(e.inFlight) == 0 {
			snap := e.st.snapshot(e.now())
			e.mu.Unlock()
			e.fireHooks(snap)
			if snap.Status == RunStatusCancelled {
				return snap, types.NewError(types.ErrRunCancelled,
					fmt.Sprintf("run %s was cancelled", runID)).WithCause(ctx.Err())
			}
			return snap, nil
		}
		if e.st.status == RunStatusRunning && e.st.isComplete() {
			e.finishLocked()
			e.mu.Unlock()
			continue
		}
		var dispatch []*Node
		if e.st.status == RunStatusRunning && !e.cancelled {
			for _, n := range e.scheduler.ReadyNodes(e.graph, e.st) {
				if !e.inFlight[n.ID] {
					dispatch = append(dispatch, n)
					e.markDispatchedLocked(n)
				}
			}
		}
		if e.st.status == RunStatusRunning && e.cancelled && len(e.inFlight) == 0 && len(dispatch) == 0 {
			e.st.status = RunStatusCancelled
			e.st.finishedAt = e.now()
			e.logger.Warn("run cancelled",
				zap.String("run_id", e.st.runID),
				zap.Int("completed", e.st.completedCount),
			)
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()

		for _, n := range dispatch {
			node := n
			if err := workers.Submit(runCtx, func(taskCtx context.Context) error {
				e.executeNode(taskCtx, node, results)
				return nil
			}); err != nil {
				e.rollbackDispatch(node)
			}
		}

		select {
		case res := <-results:
			e.applyResult(res)
		case <-e.wakeCh:
		case <-done:
			done = nil
			e.mu.Lock()
			e.cancelled = true
			e.logger.Info("cancellation requested, draining in-flight nodes",
				zap.String("run_id", runID),
				zap.Int("in_flight", len(e.inFlight)),
			)
			e.mu.Unlock()
		}
	}
}

// Execute is StartRun followed by Run.
func (e *Engine) Execute(ctx context.Context, workflowID string, g *Graph) (RunSnapshot, error) {
	if _, err := e.StartRun(workflowID, g); err != nil {
		return RunSnapshot{}, err
	}
	return e.Run(ctx)
}

// Cancel stops the active run loop: nodes not yet dispatched stay
// pending and the run finishes as cancelled once in-flight nodes drain.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancelRun
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// markDispatchedLocked transitions a node to connecting and its incoming
// edges to connecting. Caller holds e.mu.
func (e *Engine) markDispatchedLocked(n *Node) {
	ns := e.st.nodes[n.ID]
	ns.Status = StatusConnecting
	ns.StartedAt = e.now()
	e.inFlight[n.ID] = true
	for _, edge := range e.graph.IncomingEdges(n.ID) {
		if es := e.st.edges[edge.ID]; es.Status.canAdvanceTo(EdgeStatusConnecting) {
			es.Status = EdgeStatusConnecting
		}
	}
	e.logger.Debug("node dispatched",
		zap.String("run_id", e.st.runID),
		zap.String("node_id", n.ID),
		zap.String("kind", string(n.Kind)),
	)
}

// rollbackDispatch undoes markDispatchedLocked for a node whose pool
// submission failed, so a cancelled run reports it as pending rather
// than stuck connecting.
func (e *Engine) rollbackDispatch(n *Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, n.ID)
	if ns := e.st.nodes[n.ID]; ns.Status == StatusConnecting {
		ns.Status = StatusPending
		ns.StartedAt = time.Time{}
		for _, edge := range e.graph.IncomingEdges(n.ID) {
			if es := e.st.edges[edge.ID]; es.Status == EdgeStatusConnecting {
				es.Status = EdgeStatusIdle
			}
		}
	}
}

// executeNode runs one node's attempt loop and reports the final result.
// The attempt itself is detached from run cancellation so an attempt
// already in flight always completes and records a terminal status; the
// delay between retries does honor cancellation, reporting the last
// failure instead of waiting out the backoff.
func (e *Engine) executeNode(ctx context.Context, n *Node, results chan<- nodeResult) {
	nodeCtx := context.WithoutCancel(ctx)
	attempt := 1

	for {
		e.mu.Lock()
		if e.st.nodes[n.ID].Status.IsTerminal() {
			e.mu.Unlock()
			results <- nodeResult{nodeID: n.ID, attempts: attempt - 1, abandoned: true}
			return
		}
		runID := e.st.runID
		e.mu.Unlock()

		outcome, err := e.executor.Execute(nodeCtx, ActionRequest{
			RunID:   runID,
			NodeID:  n.ID,
			Kind:    n.Kind,
			ToolRef: n.EndpointRef,
			Task:    n.Task,
			Params:  n.Params,
			Attempt: attempt,
		})
		if err != nil {
			outcome = ActionOutcome{ErrorMessage: fmt.Sprintf("executor: %v", err)}
		}

		if outcome.Success {
			results <- nodeResult{nodeID: n.ID, outcome: outcome, attempts: attempt}
			return
		}

		decision := e.policy.ShouldRetry(n.Kind, attempt)
		if !decision.Retry {
			results <- nodeResult{nodeID: n.ID, outcome: outcome, attempts: attempt}
			return
		}

		e.mu.Lock()
		ns := e.st.nodes[n.ID]
		if ns.Status.IsTerminal() {
			e.mu.Unlock()
			results <- nodeResult{nodeID: n.ID, attempts: attempt, abandoned: true}
			return
		}
		ns.Status = StatusRetrying
		ns.RetryCount = attempt
		e.logger.Warn("node attempt failed, retrying",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", n.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.String("error", outcome.ErrorMessage),
		)
		e.mu.Unlock()

		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			results <- nodeResult{nodeID: n.ID, outcome: outcome, attempts: attempt}
			return
		}

		e.mu.Lock()
		if ns := e.st.nodes[n.ID]; ns.Status == StatusRetrying {
			ns.Status = StatusConnecting
		}
		e.mu.Unlock()

		attempt++
	}
}

// applyResult folds a finished node execution into the run state. A
// result for a node that already reached a terminal status through an
// authoritative remote update is dropped.
func (e *Engine) applyResult(res nodeResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inFlight, res.nodeID)

	if res.abandoned {
		e.logger.Debug("local execution abandoned, node already terminal",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", res.nodeID),
		)
		return
	}

	ns := e.st.nodes[res.nodeID]
	if ns.Status.IsTerminal() {
		e.logger.Debug("local result ignored, node already terminal",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", res.nodeID),
			zap.String("status", string(ns.Status)),
		)
		return
	}

	now := e.now()
	ns.FinishedAt = now
	if res.outcome.Duration > 0 {
		ns.Duration = res.outcome.Duration
	} else if !ns.StartedAt.IsZero() {
		ns.Duration = now.Sub(ns.StartedAt)
	}

	if res.outcome.Success {
		ns.Status = StatusSuccess
		ns.Result = res.outcome.Result
		ns.TokensUsed = res.outcome.TokensUsed
		ns.CostUSD = res.outcome.CostUSD
		e.markIncomingEdgesLocked(res.nodeID, EdgeStatusSuccess)
		e.logger.Info("node completed",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", res.nodeID),
			zap.Int("retries", ns.RetryCount),
			zap.Duration("duration", ns.Duration),
		)
	} else {
		ns.Status = StatusError
		ns.Error = res.outcome.ErrorMessage
		// Incoming edges finished their delivery even though the node
		// itself failed; only the downstream path goes dark.
		e.markIncomingEdgesLocked(res.nodeID, EdgeStatusSuccess)
		skipped := e.scheduler.PropagateFailure(e.graph, e.st, res.nodeID)
		e.logger.Error("node failed",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", res.nodeID),
			zap.Int("attempts", res.attempts),
			zap.String("error", ns.Error),
			zap.Strings("skipped", skipped),
		)
	}

	e.recountLocked()
}

// ApplyExternalStatus folds an authoritative remote status change into
// the active run. The remote service wins every conflict with locally
// derived state: transitions the local machine would reject are applied
// anyway, synthesizing the intermediate steps a live view expects. The
// boolean reports whether the update changed anything; a duplicate of an
// already-recorded status returns (false, nil) so redelivered events are
// harmless.
func (e *Engine) ApplyExternalStatus(nodeID string, upd StatusUpdate) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st == nil {
		return false, types.NewError(types.ErrNoActiveRun, "no run has been started")
	}
	ns, ok := e.st.nodes[nodeID]
	if !ok {
		return false, types.NewError(types.ErrNotFound,
			fmt.Sprintf("node %s not part of the active run", nodeID)).WithNodeID(nodeID)
	}
	if !upd.Status.Valid() {
		return false, types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown node status %q", upd.Status)).WithNodeID(nodeID)
	}

	if ns.Status == upd.Status {
		e.logger.Debug("duplicate status update ignored",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", nodeID),
			zap.String("status", string(upd.Status)),
		)
		return false, nil
	}
	if ns.Status.IsTerminal() && !upd.Status.IsTerminal() {
		e.logger.Debug("stale status update ignored, node already terminal",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", nodeID),
			zap.String("have", string(ns.Status)),
			zap.String("got", string(upd.Status)),
		)
		return false, nil
	}
	if !ns.Status.CanTransitionTo(upd.Status) {
		e.logger.Debug("synthesizing out-of-order transition",
			zap.String("run_id", e.st.runID),
			zap.String("node_id", nodeID),
			zap.String("from", string(ns.Status)),
			zap.String("to", string(upd.Status)),
		)
	}

	now := e.now()
	ns.Status = upd.Status
	if upd.Result != nil {
		ns.Result = upd.Result
	}
	if upd.Error != "" {
		ns.Error = upd.Error
	}
	if upd.Duration > 0 {
		ns.Duration = upd.Duration
	}
	if upd.TokensUsed > 0 {
		ns.TokensUsed = upd.TokensUsed
	}
	if upd.CostUSD > 0 {
		ns.CostUSD = upd.CostUSD
	}
	if upd.RetryCount > 0 {
		ns.RetryCount = upd.RetryCount
	}
	if ns.StartedAt.IsZero() && upd.Status != StatusPending && upd.Status != StatusIdle {
		ns.StartedAt = now
	}
	if upd.Status.IsTerminal() {
		if ns.FinishedAt.IsZero() {
			ns.FinishedAt = now
		}
		if ns.Duration == 0 && !ns.StartedAt.IsZero() {
			ns.Duration = ns.FinishedAt.Sub(ns.StartedAt)
		}
	}

	switch upd.Status {
	case StatusConnecting, StatusRetrying:
		for _, edge := range e.graph.IncomingEdges(nodeID) {
			if es := e.st.edges[edge.ID]; es.Status.canAdvanceTo(EdgeStatusConnecting) {
				es.Status = EdgeStatusConnecting
			}
		}
	case StatusSuccess:
		e.markIncomingEdgesLocked(nodeID, EdgeStatusSuccess)
	case StatusError:
		e.markIncomingEdgesLocked(nodeID, EdgeStatusSuccess)
		e.scheduler.PropagateFailure(e.graph, e.st, nodeID)
	case StatusSkipped:
		e.markIncomingEdgesLocked(nodeID, EdgeStatusSkipped)
		e.scheduler.PropagateFailure(e.graph, e.st, nodeID)
	}

	e.recountLocked()
	e.wakeLocked()

	e.logger.Info("remote status applied",
		zap.String("run_id", e.st.runID),
		zap.String("node_id", nodeID),
		zap.String("status", string(upd.Status)),
	)
	return true, nil
}

// Finalize forces the active run to the given terminal status on behalf
// of the remote execution service. On a completed run every node that
// has not reported yet is treated as succeeded; on a failed run the
// stragglers are skipped. Repeating an identical finalize is a no-op.
func (e *Engine) Finalize(status RunStatus, upd RunUpdate) error {
	var snap RunSnapshot
	fire := false

	e.mu.Lock()
	if e.st == nil {
		e.mu.Unlock()
		return types.NewError(types.ErrNoActiveRun, "no run has been started")
	}
	if !status.IsTerminal() {
		e.mu.Unlock()
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("finalize requires a terminal run status, got %q", status))
	}
	if e.st.status.IsTerminal() {
		e.mu.Unlock()
		e.logger.Debug("duplicate finalize ignored", zap.String("status", string(status)))
		return nil
	}

	now := e.now()
	for _, id := range e.st.nodeOrder {
		ns := e.st.nodes[id]
		if ns.Status.IsTerminal() {
			continue
		}
		if status == RunStatusCompleted {
			ns.Status = StatusSuccess
		} else {
			ns.Status = StatusSkipped
		}
		if ns.FinishedAt.IsZero() {
			ns.FinishedAt = now
		}
	}
	for _, id := range e.st.edgeOrder {
		es := e.st.edges[id]
		if status == RunStatusCompleted {
			if es.Status.canAdvanceTo(EdgeStatusSuccess) {
				es.Status = EdgeStatusSuccess
			}
		} else if es.Status.canAdvanceTo(EdgeStatusSkipped) {
			es.Status = EdgeStatusSkipped
		}
	}

	e.st.status = status
	e.st.runError = upd.Error
	if upd.Duration > 0 {
		e.st.finishedAt = e.st.startedAt.Add(upd.Duration)
	} else {
		e.st.finishedAt = now
	}
	e.recountLocked()
	if upd.TokensUsed > 0 {
		e.st.tokensUsed = upd.TokensUsed
	}
	if upd.CostUSD > 0 {
		e.st.costUSD = upd.CostUSD
	}

	e.logger.Info("run finalized by remote service",
		zap.String("run_id", e.st.runID),
		zap.String("status", string(status)),
		zap.Int("tokens_used", e.st.tokensUsed),
	)

	if len(e.inFlight) == 0 && !e.hooksFired {
		e.hooksFired = true
		snap = e.st.snapshot(now)
		fire = true
	}
	e.wakeLocked()
	e.mu.Unlock()

	if fire {
		e.runHooks(snap)
	}
	return nil
}

// finishLocked settles the run status once every node is terminal.
// Caller holds e.mu.
func (e *Engine) finishLocked() {
	if e.st.hasFailures() {
		e.st.status = RunStatusCompletedWithFailures
	} else {
		e.st.status = RunStatusCompleted
	}
	e.st.finishedAt = e.now()
	e.logger.Info("run finished",
		zap.String("run_id", e.st.runID),
		zap.String("status", string(e.st.status)),
		zap.Int("completed", e.st.completedCount),
		zap.Duration("elapsed", e.st.finishedAt.Sub(e.st.startedAt)),
	)
}

// fireHooks runs finalize hooks exactly once per run.
func (e *Engine) fireHooks(snap RunSnapshot) {
	e.mu.Lock()
	if e.hooksFired {
		e.mu.Unlock()
		return
	}
	e.hooksFired = true
	e.mu.Unlock()
	e.runHooks(snap)
}

func (e *Engine) runHooks(snap RunSnapshot) {
	for _, h := range e.hooks {
		h(snap)
	}
}

// markIncomingEdgesLocked advances every incoming edge of a node to the
// given status where the monotonic edge order allows it. Caller holds
// e.mu.
func (e *Engine) markIncomingEdgesLocked(nodeID string, status EdgeStatus) {
	for _, edge := range e.graph.IncomingEdges(nodeID) {
		if es := e.st.edges[edge.ID]; es.Status.canAdvanceTo(status) {
			es.Status = status
		}
	}
}

// recountLocked rebuilds the derived counters from node state. External
// updates may rewrite history (a locally failed node declared successful
// by the remote service), so recounting beats incremental bookkeeping.
// Caller holds e.mu.
func (e *Engine) recountLocked() {
	completed, tokens := 0, 0
	cost := 0.0
	for _, ns := range e.st.nodes {
		if ns.Status == StatusSuccess {
			completed++
		}
		tokens += ns.TokensUsed
		cost += ns.CostUSD
	}
	e.st.completedCount = completed
	e.st.tokensUsed = tokens
	e.st.costUSD = cost
}

// wakeLocked nudges the run loop after an external mutation. Caller
// holds e.mu.
func (e *Engine) wakeLocked() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func (e *Engine) drainWakeLocked() {
	select {
	case <-e.wakeCh:
	default:
	}
}

// Snapshot returns a copy of the active run's state. The boolean is
// false when no run has been started yet.
func (e *Engine) Snapshot() (RunSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st == nil {
		return RunSnapshot{}, false
	}
	return e.st.snapshot(e.now()), true
}

// Progress summarizes the active run.
func (e *Engine) Progress() (Summary, bool) {
	snap, ok := e.Snapshot()
	if !ok {
		return Summary{}, false
	}
	return Summarize(snap), true
}

// IsComplete reports whether every node of the active run has reached a
// terminal status.
func (e *Engine) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st != nil && e.st.isComplete()
}

// HasFailures reports whether any node of the active run errored or was
// skipped.
func (e *Engine) HasFailures() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st != nil && e.st.hasFailures()
}

// IsRunning reports whether the active run is still in flight.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st != nil && !e.st.status.IsTerminal()
}

// ActiveRunID returns the id of the current run, if any.
func (e *Engine) ActiveRunID() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st == nil {
		return "", false
	}
	return e.st.runID, true
}
