// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package main is the CanvasFlow executable.

# Overview

cmd/canvasflow starts the workflow execution service and bundles its
operational tooling. The serve subcommand runs the engine, the optional
remote event stream mirror, the JSON API, and the Prometheus metrics
listener in one process; run and validate work with workflow definition
files directly; migrate manages the run-history database schema.

# Core types

  - Server     — process wiring: engine, history store, stream
    reconciler, HTTP and metrics listeners, graceful shutdown
  - Middleware — HTTP middleware signature func(http.Handler) http.Handler

# Capabilities

  - Subcommands: serve, run, validate, migrate, version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders,
    RequestLogger, MetricsMiddleware, OTelTracing, CORS, RateLimiter
  - Stream mode: serve --workflow mirrors a remotely executing run
    through the WebSocket reconciler instead of executing locally
  - Metrics server: separate port exposing /metrics (Prometheus)
  - Graceful shutdown: signal → cancel background work → close stream →
    drain HTTP → drain metrics → close stores
  - Build injection: Version, BuildTime, GitCommit set via ldflags
*/
package main
