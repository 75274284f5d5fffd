// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package api declares the wire types of the CanvasFlow HTTP API.

# Overview

The service exposes a small JSON API over the run engine:

  - POST /api/v1/runs — start executing a workflow definition
  - GET  /api/v1/runs/current — progress summary of the active run
  - GET  /api/v1/runs/current/snapshot — full node and edge state
  - POST /api/v1/runs/current/cancel — cancel the active run
  - GET  /api/v1/runs — list finished runs from history
  - GET  /api/v1/runs/{id} — one finished run from history
  - GET  /api/v1/events — WebSocket pushing run snapshots as they change

Liveness, readiness, version, and Prometheus metrics endpoints live
outside the /api prefix: /health, /healthz, /ready, /readyz, /version,
and /metrics (on the metrics listener).

Responses use a common envelope, {success, data, error, timestamp,
request_id}; health endpoints return their status document directly.
The handlers live in the api/handlers package.

# Base URL

The default base URL is http://localhost:8080. The API is
unauthenticated; deployments are expected to front it with their own
access control.
*/
package api
