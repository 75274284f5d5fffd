package workflow

// NodeStatus is the execution status of a node within a run.
type NodeStatus string

const (
	// StatusIdle means the node has not been considered by the current run
	StatusIdle NodeStatus = "idle"
	// StatusPending means the node awaits its dependencies
	StatusPending NodeStatus = "pending"
	// StatusConnecting means an execution attempt is in flight
	StatusConnecting NodeStatus = "connecting"
	// StatusRetrying means the last attempt failed and a retry is scheduled
	StatusRetrying NodeStatus = "retrying"
	// StatusSuccess means the node finished successfully
	StatusSuccess NodeStatus = "success"
	// StatusError means the node failed after exhausting its retry budget
	StatusError NodeStatus = "error"
	// StatusSkipped means an upstream dependency failed before the node ran
	StatusSkipped NodeStatus = "skipped"
)

// allowedNodeTransitions encodes the node state machine:
// idle → pending → connecting → (retrying)* → success | error, with
// skipped reachable from pending. idle → connecting exists so that a
// remote completion whose start event was missed can be synthesized.
var allowedNodeTransitions = map[NodeStatus][]NodeStatus{
	StatusIdle:       {StatusPending, StatusConnecting},
	StatusPending:    {StatusConnecting, StatusSkipped},
	StatusConnecting: {StatusRetrying, StatusSuccess, StatusError},
	StatusRetrying:   {StatusConnecting, StatusSuccess, StatusError},
	StatusSuccess:    {},
	StatusError:      {},
	StatusSkipped:    {},
}

// IsTerminal reports whether the status is a sink: no further transition
// is permitted once it is reached.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusSkipped:
		return true
	}
	return false
}

// Valid reports whether the status is one of the known node statuses.
func (s NodeStatus) Valid() bool {
	_, ok := allowedNodeTransitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine permits moving from
// s to next.
func (s NodeStatus) CanTransitionTo(next NodeStatus) bool {
	for _, allowed := range allowedNodeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EdgeStatus is the presentation status of an edge within a run. Edge
// statuses are monotonic: idle → connecting → success, with skipped
// replacing success when the target node is skipped.
type EdgeStatus string

const (
	// EdgeStatusIdle means no activity has reached the edge yet
	EdgeStatusIdle EdgeStatus = "idle"
	// EdgeStatusConnecting means the target node is executing
	EdgeStatusConnecting EdgeStatus = "connecting"
	// EdgeStatusSuccess means the source node delivered its output
	EdgeStatusSuccess EdgeStatus = "success"
	// EdgeStatusSkipped means the edge leads into a skipped node
	EdgeStatusSkipped EdgeStatus = "skipped"
)

// edgeRank orders edge statuses so updates never regress an edge.
var edgeRank = map[EdgeStatus]int{
	EdgeStatusIdle:       0,
	EdgeStatusConnecting: 1,
	EdgeStatusSuccess:    2,
	EdgeStatusSkipped:    2,
}

// canAdvanceTo reports whether an edge may move from s to next without
// regressing.
func (s EdgeStatus) canAdvanceTo(next EdgeStatus) bool {
	return edgeRank[next] > edgeRank[s]
}
