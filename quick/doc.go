// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package quick provides one-line construction and execution of workflow
runs for consumers who do not need the full engine surface.

It lives under quick/ (not the repository root) so that the root
canvasflow package can re-export these helpers without an import cycle:
root → quick → workflow, cost.

Usage:

	snap, err := quick.RunFile(ctx, "pipeline.yaml")

	snap, err := quick.Run(ctx, def,
		quick.WithFailureRate(0.2),
		quick.WithMaxConcurrency(4),
	)

With no options every simulated attempt succeeds immediately and nothing
is logged; options layer in flaky outcomes, latency, retry policies, and
token accounting.
*/
package quick
