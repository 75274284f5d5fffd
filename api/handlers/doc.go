// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package handlers implements the CanvasFlow HTTP endpoints.

RunsHandler exposes the run engine: starting a workflow, reading the
active run's summary or full snapshot, cancelling it, and querying
finished runs from the history store. EventsHandler upgrades to
WebSocket and pushes the run snapshot to subscribers whenever it
changes. HealthHandler serves liveness, readiness (with pluggable
checks), and version endpoints.

All handlers are plain net/http. API responses share the Response
envelope via WriteSuccess/WriteError, with types.ErrorCode mapped to
an HTTP status; request bodies are decoded with a 1 MB cap and strict
field checking.
*/
package handlers
