package workflow

import "fmt"

// NodeKind defines the role of a node on the canvas
type NodeKind string

const (
	// NodeKindTrigger starts a workflow run
	NodeKindTrigger NodeKind = "trigger"
	// NodeKindAgent runs an AI agent task
	NodeKindAgent NodeKind = "agent"
	// NodeKindIntegration calls an external integration action
	NodeKindIntegration NodeKind = "integration"
	// NodeKindOutput delivers the final result of a branch
	NodeKindOutput NodeKind = "output"
)

// Valid reports whether the kind is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindTrigger, NodeKindAgent, NodeKindIntegration, NodeKindOutput:
		return true
	}
	return false
}

// Node is an immutable node declaration within a graph.
// Runtime status lives in NodeState, owned by the engine's RunState.
type Node struct {
	// ID is the unique identifier for this node
	ID string
	// Kind specifies the node role
	Kind NodeKind
	// Label is the human-readable canvas label
	Label string
	// Task describes what the node does (agent prompt, action summary)
	Task string
	// EndpointRef names the external integration endpoint, when any
	EndpointRef string
	// Params carries opaque node parameters for the external executor
	Params map[string]any
}

// Edge is a directed dependency between two nodes.
// Its ID is derived from the endpoints and is stable across runs.
type Edge struct {
	// ID is derived as "source->target"
	ID string
	// Source is the upstream node ID
	Source string
	// Target is the downstream node ID
	Target string
}

// EdgeID derives the canonical edge identifier for a source/target pair.
func EdgeID(source, target string) string {
	return fmt.Sprintf("%s->%s", source, target)
}

// Graph is a validated workflow DAG. Instances are only produced by
// GraphBuilder.Build (or Definition.BuildGraph), which is the single place
// validation happens; everything downstream trusts a constructed Graph.
type Graph struct {
	// nodes maps node IDs to node declarations
	nodes map[string]*Node
	// order preserves node declaration order for deterministic iteration
	order []string
	// edges maps edge IDs to edges
	edges map[string]*Edge
	// edgeOrder preserves edge declaration order
	edgeOrder []string
	// incoming maps a node ID to the edges terminating at it
	incoming map[string][]*Edge
	// outgoing maps a node ID to the edges originating from it
	outgoing map[string][]*Edge
}

// Node retrieves a node declaration by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in declaration order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// IncomingEdges returns the edges terminating at the given node.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	return g.incoming[nodeID]
}

// OutgoingEdges returns the edges originating from the given node.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	return g.outgoing[nodeID]
}

// SourceNodes returns the nodes with no incoming edges, in declaration
// order. These are the execution entry points of the graph.
func (g *Graph) SourceNodes() []*Node {
	out := make([]*Node, 0)
	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			out = append(out, g.nodes[id])
		}
	}
	return out
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}
