package workflow

import (
	"go.uber.org/zap"
)

// Scheduler decides which nodes of a run may execute next and how
// failures ripple through the graph. It is stateless: every decision is
// a pure function of the graph topology and the current run state, so
// the engine can consult it after each node completion without
// coordination.
type Scheduler struct {
	logger *zap.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.With(zap.String("component", "scheduler"))}
}

// ReadyNodes returns, in declaration order, every node that is waiting
// and whose dependencies have all succeeded. Source nodes (no incoming
// edges) are ready immediately. Nodes whose dependencies include a
// failed or skipped node are never returned; failure propagation marks
// them skipped instead.
func (s *Scheduler) ReadyNodes(g *Graph, st *runState) []*Node {
	var ready []*Node
	for _, n := range g.Nodes() {
		ns := st.nodes[n.ID]
		if ns.Status != StatusPending && ns.Status != StatusIdle {
			continue
		}
		if s.dependenciesSatisfied(g, st, n.ID) {
			ready = append(ready, n)
		}
	}
	return ready
}

// dependenciesSatisfied reports whether every incoming edge's source
// node has succeeded.
func (s *Scheduler) dependenciesSatisfied(g *Graph, st *runState, nodeID string) bool {
	for _, e := range g.IncomingEdges(nodeID) {
		src := st.nodes[e.Source]
		if src == nil || src.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// PropagateFailure marks every waiting node downstream of the given
// failed node as skipped and returns the newly skipped node ids in the
// order they were marked. Edges that can no longer carry data advance
// to skipped; edges that already completed keep their status. Siblings
// on independent branches are untouched and keep executing.
func (s *Scheduler) PropagateFailure(g *Graph, st *runState, failedID string) []string {
	var skipped []string
	queue := []string{failedID}
	visited := map[string]bool{failedID: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range g.OutgoingEdges(current) {
			if es := st.edges[e.ID]; es != nil && es.Status.canAdvanceTo(EdgeStatusSkipped) {
				es.Status = EdgeStatusSkipped
			}
			if visited[e.Target] {
				continue
			}
			visited[e.Target] = true

			// Propagation only travels through nodes it skips itself.
			// A target that already reached a terminal status (for
			// example through an authoritative remote update) keeps its
			// subtree alive.
			ns := st.nodes[e.Target]
			if ns == nil || (ns.Status != StatusPending && ns.Status != StatusIdle) {
				continue
			}
			ns.Status = StatusSkipped
			skipped = append(skipped, e.Target)
			s.logger.Debug("node skipped by upstream failure",
				zap.String("node_id", e.Target),
				zap.String("failed_node_id", failedID),
			)
			queue = append(queue, e.Target)
		}
	}
	return skipped
}
