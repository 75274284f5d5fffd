package workflow

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/types"
)

// CyclicGraphError reports a dependency cycle discovered at build time.
// Cycle holds the participating node IDs in traversal order; the first ID
// is repeated at the end to close the loop.
type CyclicGraphError struct {
	Cycle []string
}

// Error implements the error interface.
func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow graph contains a cycle: %s", strings.Join(e.Cycle, " -> "))
}

// DanglingEdgeError reports an edge endpoint that does not exist in the
// node set.
type DanglingEdgeError struct {
	Source  string
	Target  string
	Missing string
}

// Error implements the error interface.
func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("edge %s references missing node %q", EdgeID(e.Source, e.Target), e.Missing)
}

// DuplicateNodeError reports a node ID declared more than once.
type DuplicateNodeError struct {
	NodeID string
}

// Error implements the error interface.
func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node id %q", e.NodeID)
}

// IsValidationError reports whether err was produced by graph validation.
// Validation failures are fatal at load time: the run never starts.
func IsValidationError(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrValidation, types.ErrCyclicGraph, types.ErrDanglingEdge,
		types.ErrDuplicateNode, types.ErrEmptyGraph:
		return true
	}
	return false
}

// GraphBuilder provides a fluent API for constructing validated graphs.
type GraphBuilder struct {
	nodes  []*Node
	edges  []*Edge
	logger *zap.Logger
}

// NewGraphBuilder creates an empty graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{logger: zap.NewNop()}
}

// WithLogger sets a custom logger.
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	b.logger = logger.With(zap.String("component", "graph_builder"))
	return b
}

// AddNode adds an arbitrary node declaration.
func (b *GraphBuilder) AddNode(node Node) *GraphBuilder {
	n := node
	b.nodes = append(b.nodes, &n)
	return b
}

// AddTrigger adds a trigger node.
func (b *GraphBuilder) AddTrigger(id, label string) *GraphBuilder {
	return b.AddNode(Node{ID: id, Kind: NodeKindTrigger, Label: label})
}

// AddAgent adds an agent node with its task description.
func (b *GraphBuilder) AddAgent(id, label, task string) *GraphBuilder {
	return b.AddNode(Node{ID: id, Kind: NodeKindAgent, Label: label, Task: task})
}

// AddIntegration adds an integration node referencing an external endpoint.
func (b *GraphBuilder) AddIntegration(id, label, endpointRef string) *GraphBuilder {
	return b.AddNode(Node{ID: id, Kind: NodeKindIntegration, Label: label, EndpointRef: endpointRef})
}

// AddOutput adds an output node.
func (b *GraphBuilder) AddOutput(id, label string) *GraphBuilder {
	return b.AddNode(Node{ID: id, Kind: NodeKindOutput, Label: label})
}

// Connect adds a directed edge from source to target.
func (b *GraphBuilder) Connect(source, target string) *GraphBuilder {
	b.edges = append(b.edges, &Edge{ID: EdgeID(source, target), Source: source, Target: target})
	return b
}

// Build validates the declared nodes and edges and returns the graph.
// Validation failures carry a validation error code and wrap a typed
// cause (CyclicGraphError, DanglingEdgeError, DuplicateNodeError).
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.nodes) == 0 {
		return nil, types.NewError(types.ErrEmptyGraph, "graph has no nodes")
	}

	g := &Graph{
		nodes:    make(map[string]*Node, len(b.nodes)),
		edges:    make(map[string]*Edge, len(b.edges)),
		incoming: make(map[string][]*Edge),
		outgoing: make(map[string][]*Edge),
	}

	for _, n := range b.nodes {
		if n.ID == "" {
			return nil, types.NewError(types.ErrValidation, "node id must not be empty")
		}
		if !n.Kind.Valid() {
			return nil, types.NewError(types.ErrValidation,
				fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind))
		}
		if _, exists := g.nodes[n.ID]; exists {
			dup := &DuplicateNodeError{NodeID: n.ID}
			return nil, types.NewError(types.ErrDuplicateNode, dup.Error()).WithCause(dup)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	for _, e := range b.edges {
		if _, exists := g.nodes[e.Source]; !exists {
			dangling := &DanglingEdgeError{Source: e.Source, Target: e.Target, Missing: e.Source}
			return nil, types.NewError(types.ErrDanglingEdge, dangling.Error()).WithCause(dangling)
		}
		if _, exists := g.nodes[e.Target]; !exists {
			dangling := &DanglingEdgeError{Source: e.Source, Target: e.Target, Missing: e.Target}
			return nil, types.NewError(types.ErrDanglingEdge, dangling.Error()).WithCause(dangling)
		}
		if _, exists := g.edges[e.ID]; exists {
			// Same source/target pair declared twice collapses to one edge.
			continue
		}
		g.edges[e.ID] = e
		g.edgeOrder = append(g.edgeOrder, e.ID)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	if cycle := findCycle(g); len(cycle) > 0 {
		cerr := &CyclicGraphError{Cycle: cycle}
		return nil, types.NewError(types.ErrCyclicGraph, cerr.Error()).WithCause(cerr)
	}

	b.logger.Debug("graph built",
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
	)

	return g, nil
}

// dfsColor marks traversal progress during cycle detection.
type dfsColor uint8

const (
	colorWhite dfsColor = iota // not visited
	colorGray                  // on the current path
	colorBlack                 // fully explored
)

// findCycle returns the node IDs of one dependency cycle, or nil when the
// graph is acyclic. Nodes are visited in declaration order so the witness
// is deterministic for a given graph.
func findCycle(g *Graph) []string {
	colors := make(map[string]dfsColor, len(g.order))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = colorGray
		path = append(path, id)

		for _, e := range g.outgoing[id] {
			next := e.Target
			switch colors[next] {
			case colorGray:
				// Found a back edge: slice the current path from the
				// repeated node and close the loop.
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), next)
				return true
			case colorWhite:
				if visit(next) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		colors[id] = colorBlack
		return false
	}

	for _, id := range g.order {
		if colors[id] == colorWhite {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
