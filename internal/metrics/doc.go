// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package metrics collects Prometheus metrics for the run engine, the
event stream, the HTTP API, and the database pool.

Collector registers everything through promauto under a single
namespace, so a process exposes one coherent metric family set on its
/metrics endpoint. Recorders are plain methods; components that must
stay free of metrics concerns (the workflow engine in particular) are
observed from the outside, through finalize hooks and stream
decorators wired up in the command layer.

Metric groups:

  - Runs: started/finished counters by workflow and outcome, an
    active-runs gauge, run duration, and accumulated token/cost
    counters.
  - Nodes: execution counters by kind and status, duration histogram,
    retry counter.
  - Stream: delivered events by type, reconnect counter, and the
    latency of applying a remote status to the run state.
  - HTTP: request counter by method/path with status bucketed as
    2xx/3xx/4xx/5xx, and a duration histogram.
  - Database: open/idle connection gauges fed by the pool health
    check.
*/
package metrics
