// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package testutil provides shared fixtures and helpers for tests across
the repository.

# Overview

Fixtures build one small but realistic workflow shape (a trigger, an
integration, an agent, an output) so package tests exercise a common
pipeline instead of each inventing its own. Snapshot fixtures are driven
through a real engine rather than assembled by hand, so they always
match what production code produces.

# Core helpers

  - Fixtures: PipelineDefinition / PipelineGraph / CompletedSnapshot
  - Contexts: TestContext / CancelledContext, with automatic Cleanup
  - Waiting: WaitFor / WaitForChannel for asynchronous conditions

The package imports only the workflow package, so everything except
workflow's own in-package tests can use it without an import cycle.
*/
package testutil
