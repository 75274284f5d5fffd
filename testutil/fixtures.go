package testutil

import (
	"context"
	"testing"

	"github.com/canvasflow/canvasflow/workflow"
)

// PipelineDefinition returns a four-node chain covering every node kind:
// trigger -> integration -> agent -> output.
func PipelineDefinition() *workflow.Definition {
	return &workflow.Definition{
		Name: "test-pipeline",
		Nodes: []workflow.NodeSpec{
			{ID: "trigger", Kind: "trigger", Label: "Start"},
			{ID: "fetch", Kind: "integration", Label: "Fetch", EndpointRef: "http.get"},
			{ID: "summarize", Kind: "agent", Label: "Summarize", Task: "summarize the payload"},
			{ID: "deliver", Kind: "output", Label: "Deliver"},
		},
		Edges: []workflow.EdgeSpec{
			{Source: "trigger", Target: "fetch"},
			{Source: "fetch", Target: "summarize"},
			{Source: "summarize", Target: "deliver"},
		},
	}
}

// PipelineGraph builds PipelineDefinition's graph, failing the test on
// error.
func PipelineGraph(t *testing.T) *workflow.Graph {
	t.Helper()
	g, err := PipelineDefinition().BuildGraph()
	if err != nil {
		t.Fatalf("build pipeline graph: %v", err)
	}
	return g
}

// CompletedSnapshot executes the pipeline on a fresh engine with
// always-succeeding outcomes and returns the terminal snapshot.
func CompletedSnapshot(t *testing.T, workflowID string) workflow.RunSnapshot {
	t.Helper()
	e := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
	snap, err := e.Execute(context.Background(), workflowID, PipelineGraph(t))
	if err != nil {
		t.Fatalf("execute pipeline: %v", err)
	}
	return snap
}
