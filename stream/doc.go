// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package stream synchronizes local run state with a remote execution
service over a live event feed.

# Overview

The remote service publishes execution events (step_started,
step_completed, workflow_completed, ...) over a WebSocket. This package
provides:

  - Event: the wire format of one execution event.
  - Source: anything that can deliver an ordered stream of events for a
    workflow. Client implements it over WebSocket with heartbeats and
    bounded-backoff reconnection; FakeSource implements it in memory for
    tests and local development.
  - Reconciler: folds events from a Source into a workflow engine,
    tolerating duplicates, reordering, and unknown step ids.

# Delivery semantics

Events are delivered at least once and may arrive out of order. The
reconciler therefore never assumes a clean sequence: applying the same
event twice is a no-op, a completion arriving before its start event
synthesizes the missing transition, and events for unknown steps are
logged and dropped rather than failing the stream.
*/
package stream
