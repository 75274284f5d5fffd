// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package workflow implements the canvas workflow execution engine.

# Overview

A workflow is a directed acyclic graph of typed nodes (trigger, agent,
integration, output) connected by edges that express data and control
dependencies. The engine computes a dependency-respecting execution order,
drives every node through its status state machine (including bounded
retries for unreliable integration calls), and aggregates run-wide
progress, token, and cost figures. Remote executor events are applied
through the same engine so that the local view converges on the
authoritative remote one.

# Core types

  - Graph / GraphBuilder  — validated DAG with adjacency indices; cycle,
    dangling-edge, and duplicate-id detection at build time
  - Definition            — serializable workflow shape (JSON / YAML)
  - Scheduler             — readiness queries and downstream failure
    propagation
  - RetryPolicy           — pure retry decision (integration nodes only,
    1 initial attempt + 2 retries, fixed delay)
  - ActionExecutor        — external collaborator boundary; SimulatedExecutor
    with an injectable OutcomeProvider is the default
  - Engine                — owns one RunState per run: StartRun, Run,
    ApplyExternalStatus, Cancel, Finalize
  - RunState / RunSnapshot — mutable run aggregate and its copy-on-read view
  - Summary               — pure progress projection (counts, percent,
    elapsed, tokens, cost)

# Status model

Nodes move idle → pending → connecting → (retrying)* → success | error,
with skipped reachable from pending when an upstream dependency fails.
success, error, and skipped are sinks: once reached, later transitions are
rejected, which makes duplicate or out-of-order remote events safe to
apply.
*/
package workflow
