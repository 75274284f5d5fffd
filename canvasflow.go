// Package canvasflow provides a top-level convenience entry point for
// executing workflow definitions with minimal boilerplate.
//
// Usage:
//
//	import "github.com/canvasflow/canvasflow"
//
//	snap, err := canvasflow.RunFile(ctx, "pipeline.yaml")
//	snap, err := canvasflow.Run(ctx, def, canvasflow.WithFailureRate(0.2))
//
// This is a thin wrapper around [quick.Run]; both produce identical
// results. Use this package when you prefer the shorter import path, and
// the workflow package directly when you need the full engine surface.
package canvasflow

import (
	"context"

	"github.com/canvasflow/canvasflow/quick"
	"github.com/canvasflow/canvasflow/workflow"
)

// Version is the library release version. Binaries stamp their own
// build version through ldflags; see cmd/canvasflow.
const Version = "0.3.0"

// Option configures the engine created by [New].
type Option = quick.Option

// New assembles a workflow engine backed by a simulated executor. With
// no options every attempt succeeds immediately and nothing is logged.
func New(opts ...Option) *workflow.Engine {
	return quick.New(opts...)
}

// Run builds the definition's graph and executes it to completion on a
// fresh engine, returning the final snapshot.
func Run(ctx context.Context, def *workflow.Definition, opts ...Option) (workflow.RunSnapshot, error) {
	return quick.Run(ctx, def, opts...)
}

// RunFile loads a workflow definition from a YAML or JSON file and
// executes it to completion.
func RunFile(ctx context.Context, path string, opts ...Option) (workflow.RunSnapshot, error) {
	return quick.RunFile(ctx, path, opts...)
}

// Re-export core workflow types so small consumers never need to import
// workflow/.

// Definition is the serializable shape of a workflow.
type Definition = workflow.Definition

// NodeSpec is a serializable node declaration.
type NodeSpec = workflow.NodeSpec

// EdgeSpec is a serializable dependency declaration.
type EdgeSpec = workflow.EdgeSpec

// Graph is a validated, immutable workflow DAG.
type Graph = workflow.Graph

// Engine executes one workflow run at a time.
type Engine = workflow.Engine

// RunSnapshot is a point-in-time copy of a run's state.
type RunSnapshot = workflow.RunSnapshot

// LoadDefinition reads a workflow definition from a YAML or JSON file.
var LoadDefinition = workflow.LoadDefinition

// NewGraphBuilder starts an empty graph for programmatic construction.
var NewGraphBuilder = workflow.NewGraphBuilder

// NewEngine creates an engine with the full option surface.
var NewEngine = workflow.NewEngine

// NewSimulatedExecutor creates the default executor with explicit
// outcome control.
var NewSimulatedExecutor = workflow.NewSimulatedExecutor

// Re-export option shortcuts so callers never need to import quick/.

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithMaxConcurrency bounds how many nodes execute in parallel.
var WithMaxConcurrency = quick.WithMaxConcurrency

// WithFailureRate makes simulated attempts fail with the given probability.
var WithFailureRate = quick.WithFailureRate

// WithSeed fixes the random seed used by WithFailureRate.
var WithSeed = quick.WithSeed

// WithLatency adds a fixed delay to every simulated attempt.
var WithLatency = quick.WithLatency

// WithOutcomes supplies a custom outcome provider.
var WithOutcomes = quick.WithOutcomes

// WithRetryPolicy overrides the default retry policy.
var WithRetryPolicy = quick.WithRetryPolicy

// WithModel attributes token counts and USD cost to each attempt.
var WithModel = quick.WithModel
