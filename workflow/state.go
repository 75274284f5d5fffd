package workflow

import (
	"time"
)

// RunStatus is the lifecycle status of a whole run.
type RunStatus string

const (
	// RunStatusRunning marks a run with non-terminal nodes remaining.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted marks a run whose nodes all succeeded.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusCompletedWithFailures marks a finished run in which at
	// least one node errored or was skipped.
	RunStatusCompletedWithFailures RunStatus = "completed_with_failures"
	// RunStatusCancelled marks a run stopped by an explicit cancel.
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusFailed marks a run terminated by a fatal stream or
	// engine error rather than by node outcomes.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal reports whether the run status is final.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// NodeState tracks one node's live execution status.
type NodeState struct {
	ID          string        `json:"id"`
	Kind        NodeKind      `json:"kind"`
	Label       string        `json:"label,omitempty"`
	Task        string        `json:"task,omitempty"`
	EndpointRef string        `json:"endpoint_ref,omitempty"`
	Status      NodeStatus    `json:"status"`
	RetryCount  int           `json:"retry_count"`
	Error       string        `json:"error,omitempty"`
	Result      any           `json:"result,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	TokensUsed  int           `json:"tokens_used,omitempty"`
	CostUSD     float64       `json:"cost_usd,omitempty"`
}

// EdgeState tracks one edge's live status.
type EdgeState struct {
	ID     string     `json:"id"`
	Source string     `json:"source"`
	Target string     `json:"target"`
	Status EdgeStatus `json:"status"`
}

// runState is the engine's mutable view of one run. All access goes
// through the engine's mutex; snapshots are handed out as deep copies.
type runState struct {
	runID      string
	workflowID string

	nodes     map[string]*NodeState
	nodeOrder []string
	edges     map[string]*EdgeState
	edgeOrder []string

	completedCount int
	startedAt      time.Time
	finishedAt     time.Time
	tokensUsed     int
	costUSD        float64
	status         RunStatus
	runError       string
}

// newRunState builds the initial state for a run over the given graph:
// every node pending, every edge idle, the clock started.
func newRunState(runID, workflowID string, g *Graph, now time.Time) *runState {
	st := &runState{
		runID:      runID,
		workflowID: workflowID,
		nodes:      make(map[string]*NodeState, g.NodeCount()),
		nodeOrder:  make([]string, 0, g.NodeCount()),
		edges:      make(map[string]*EdgeState, g.EdgeCount()),
		edgeOrder:  make([]string, 0, g.EdgeCount()),
		startedAt:  now,
		status:     RunStatusRunning,
	}
	for _, n := range g.Nodes() {
		st.nodes[n.ID] = &NodeState{
			ID:          n.ID,
			Kind:        n.Kind,
			Label:       n.Label,
			Task:        n.Task,
			EndpointRef: n.EndpointRef,
			Status:      StatusPending,
		}
		st.nodeOrder = append(st.nodeOrder, n.ID)
	}
	for _, e := range g.Edges() {
		st.edges[e.ID] = &EdgeState{
			ID:     e.ID,
			Source: e.Source,
			Target: e.Target,
			Status: EdgeStatusIdle,
		}
		st.edgeOrder = append(st.edgeOrder, e.ID)
	}
	return st
}

// isComplete reports whether every node has reached a terminal status.
func (st *runState) isComplete() bool {
	for _, n := range st.nodes {
		if !n.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// hasFailures reports whether any node errored or was skipped.
func (st *runState) hasFailures() bool {
	for _, n := range st.nodes {
		if n.Status == StatusError || n.Status == StatusSkipped {
			return true
		}
	}
	return false
}

// RunSnapshot is an immutable copy of a run's state, safe to read while
// the run keeps executing.
type RunSnapshot struct {
	RunID          string        `json:"run_id"`
	WorkflowID     string        `json:"workflow_id"`
	Status         RunStatus     `json:"status"`
	Nodes          []NodeState   `json:"nodes"`
	Edges          []EdgeState   `json:"edges"`
	CompletedCount int           `json:"completed_count"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at,omitempty"`
	TokensUsed     int           `json:"tokens_used"`
	CostUSD        float64       `json:"cost_usd"`
	Error          string        `json:"error,omitempty"`

	elapsed time.Duration
}

// snapshot deep-copies the run state in declaration order. The elapsed
// duration is captured here so it freezes once the run finishes.
func (st *runState) snapshot(now time.Time) RunSnapshot {
	snap := RunSnapshot{
		RunID:          st.runID,
		WorkflowID:     st.workflowID,
		Status:         st.status,
		Nodes:          make([]NodeState, 0, len(st.nodeOrder)),
		Edges:          make([]EdgeState, 0, len(st.edgeOrder)),
		CompletedCount: st.completedCount,
		StartedAt:      st.startedAt,
		FinishedAt:     st.finishedAt,
		TokensUsed:     st.tokensUsed,
		CostUSD:        st.costUSD,
		Error:          st.runError,
	}
	for _, id := range st.nodeOrder {
		snap.Nodes = append(snap.Nodes, *st.nodes[id])
	}
	for _, id := range st.edgeOrder {
		snap.Edges = append(snap.Edges, *st.edges[id])
	}
	if st.finishedAt.IsZero() {
		snap.elapsed = now.Sub(st.startedAt)
	} else {
		snap.elapsed = st.finishedAt.Sub(st.startedAt)
	}
	return snap
}

// Node returns the snapshot state of a single node, if present.
func (s RunSnapshot) Node(id string) (NodeState, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeState{}, false
}

// Edge returns the snapshot state of a single edge, if present.
func (s RunSnapshot) Edge(id string) (EdgeState, bool) {
	for _, e := range s.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return EdgeState{}, false
}

// Elapsed is the wall-clock duration of the run so far. Once the run
// has finished it stays frozen at the final duration.
func (s RunSnapshot) Elapsed() time.Duration {
	return s.elapsed
}
