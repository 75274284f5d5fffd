package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyIDs(s *Scheduler, g *Graph, st *runState) []string {
	var ids []string
	for _, n := range s.ReadyNodes(g, st) {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestScheduler_SourceNodesReadyFirst(t *testing.T) {
	g, err := NewGraphBuilder().
		AddTrigger("t", "Trigger").
		AddAgent("a", "Agent", "task").
		AddOutput("o", "Out").
		Connect("t", "a").
		Connect("a", "o").
		Build()
	require.NoError(t, err)

	st := newRunState("run-1", "wf-1", g, time.Now())
	s := NewScheduler(nil)

	assert.Equal(t, []string{"t"}, readyIDs(s, g, st))
}

func TestScheduler_DependencyGating(t *testing.T) {
	g, err := NewGraphBuilder().
		AddAgent("a", "A", "task").
		AddAgent("b", "B", "task").
		AddAgent("c", "C", "task").
		Connect("a", "b").
		Connect("b", "c").
		Build()
	require.NoError(t, err)

	st := newRunState("run-1", "wf-1", g, time.Now())
	s := NewScheduler(nil)

	assert.Equal(t, []string{"a"}, readyIDs(s, g, st))

	st.nodes["a"].Status = StatusConnecting
	assert.Empty(t, readyIDs(s, g, st), "b must wait while a is still executing")

	st.nodes["a"].Status = StatusSuccess
	assert.Equal(t, []string{"b"}, readyIDs(s, g, st))

	st.nodes["b"].Status = StatusSuccess
	assert.Equal(t, []string{"c"}, readyIDs(s, g, st))
}

func TestScheduler_JoinWaitsForAllParents(t *testing.T) {
	g, err := NewGraphBuilder().
		AddTrigger("t", "Trigger").
		AddAgent("left", "Left", "task").
		AddAgent("right", "Right", "task").
		AddOutput("join", "Join").
		Connect("t", "left").
		Connect("t", "right").
		Connect("left", "join").
		Connect("right", "join").
		Build()
	require.NoError(t, err)

	st := newRunState("run-1", "wf-1", g, time.Now())
	s := NewScheduler(nil)

	st.nodes["t"].Status = StatusSuccess
	assert.Equal(t, []string{"left", "right"}, readyIDs(s, g, st))

	st.nodes["left"].Status = StatusSuccess
	st.nodes["right"].Status = StatusConnecting
	assert.Empty(t, readyIDs(s, g, st), "join needs both parents")

	st.nodes["right"].Status = StatusSuccess
	assert.Equal(t, []string{"join"}, readyIDs(s, g, st))
}

func TestScheduler_ReadyNodesInDeclarationOrder(t *testing.T) {
	g, err := NewGraphBuilder().
		AddTrigger("z-first", "Declared First").
		AddTrigger("a-second", "Declared Second").
		Build()
	require.NoError(t, err)

	st := newRunState("run-1", "wf-1", g, time.Now())
	s := NewScheduler(nil)

	assert.Equal(t, []string{"z-first", "a-second"}, readyIDs(s, g, st))
}

func TestScheduler_PropagateFailureSkipsDescendants(t *testing.T) {
	g, err := NewGraphBuilder().
		AddAgent("a", "A", "task").
		AddAgent("b", "B", "task").
		AddAgent("c", "C", "task").
		AddOutput("d", "D").
		Connect("a", "b").
		Connect("b", "c").
		Connect("c", "d").
		Build()
	require.NoError(t, err)

	st := newRunState("run-1", "wf-1", g, time.Now())
	s := NewScheduler(nil)

	st.nodes["a"].Status = StatusSuccess
	st.nodes["b"].Status = StatusError

	skipped := s.PropagateFailure(g, st, "b")

	assert.Equal(t, []string{"c", "d"}, skipped)
	assert.Equal(t, StatusSkipped, st.nodes["c"].Status)
	assert.Equal(t, StatusSkipped, st.nodes["d"].Status)
	assert.Equal(t, EdgeStatusSkipped, st.edges["b->c"].Status)
	assert.Equal(t, EdgeStatusSkipped, st.edges["c->d"].Status)
	assert.Empty(t, readyIDs(s, g, st))
	assert.True(t, st.isComplete())
	assert.True(t, st.hasFailures())
}

func TestScheduler_PropagateFailureSparesSiblings(t *testing.T) {
	g, err := NewGraphBuilder().
		AddTrigger("t", "Trigger").
		AddAgent("fails", "Failing Branch", "task").
		AddAgent("lives", "Healthy Branch", "task").
		AddOutput("after-fail", "After Fail").
		AddOutput("after-live", "After Live").
		Connect("t", "fails").
		Connect("t", "lives").
		Connect("fails", "after-fail").
		Connect("lives", "after-live").
		Build()
	require.NoError(t, err)

	st := newRunState("run-1", "wf-1", g, time.Now())
	s := NewScheduler(nil)

	st.nodes["t"].Status = StatusSuccess
	st.nodes["fails"].Status = StatusError
	st.nodes["lives"].Status = StatusConnecting

	skipped := s.PropagateFailure(g, st, "fails")

	assert.Equal(t, []string{"after-fail"}, skipped)
	assert.Equal(t, StatusConnecting, st.nodes["lives"].Status)
	assert.Equal(t, StatusPending, st.nodes["after-live"].Status)

	st.nodes["lives"].Status = StatusSuccess
	assert.Equal(t, []string{"after-live"}, readyIDs(s, g, st))
}

func TestScheduler_PropagateFailureStopsAtTerminalNodes(t *testing.T) {
	g, err := NewGraphBuilder().
		AddAgent("a", "A", "task").
		AddAgent("b", "B", "task").
		AddAgent("c", "C", "task").
		Connect("a", "b").
		Connect("b", "c").
		Build()
	require.NoError(t, err)

	st := newRunState("run-1", "wf-1", g, time.Now())
	s := NewScheduler(nil)

	// b already reached success through an authoritative remote update
	// before a's local failure landed.
	st.nodes["a"].Status = StatusError
	st.nodes["b"].Status = StatusSuccess

	skipped := s.PropagateFailure(g, st, "a")

	assert.Empty(t, skipped)
	assert.Equal(t, StatusSuccess, st.nodes["b"].Status)
	assert.Equal(t, StatusPending, st.nodes["c"].Status, "subtree below a successful node stays alive")
}

// Property: a node reported ready always has every dependency in
// success, whatever the statuses of other nodes look like.
func TestProperty_ReadyNodesHaveSatisfiedDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	statuses := []NodeStatus{
		StatusPending, StatusConnecting, StatusRetrying,
		StatusSuccess, StatusError, StatusSkipped,
	}

	properties.Property("every ready node has all-success dependencies", prop.ForAll(
		func(n int, rawEdges []int, rawStatuses []int) bool {
			b := NewGraphBuilder()
			for i := 0; i < n; i++ {
				b.AddAgent(fmt.Sprintf("n%d", i), fmt.Sprintf("Node %d", i), "task")
			}
			for i := 0; i+1 < len(rawEdges); i += 2 {
				src := rawEdges[i] % n
				dst := rawEdges[i+1] % n
				if src < dst {
					b.Connect(fmt.Sprintf("n%d", src), fmt.Sprintf("n%d", dst))
				}
			}
			g, err := b.Build()
			if err != nil {
				t.Logf("unexpected build failure: %v", err)
				return false
			}

			st := newRunState("run-p", "wf-p", g, time.Now())
			for i, raw := range rawStatuses {
				if i >= n {
					break
				}
				st.nodes[fmt.Sprintf("n%d", i)].Status = statuses[raw%len(statuses)]
			}

			s := NewScheduler(nil)
			for _, ready := range s.ReadyNodes(g, st) {
				if st.nodes[ready.ID].Status != StatusPending && st.nodes[ready.ID].Status != StatusIdle {
					return false
				}
				for _, e := range g.IncomingEdges(ready.ID) {
					if st.nodes[e.Source].Status != StatusSuccess {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
