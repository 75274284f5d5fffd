// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

// Package history persists finished workflow runs so their outcome,
// per-step results, and token/cost totals survive a restart and can be
// listed and inspected later.
//
// A Record is the durable form of a run snapshot. Stores save one
// record per run id; saving again overwrites, so replaying a finalize
// is harmless.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - File: single-node deployments, one JSON index on disk
//   - Redis: distributed deployments, sorted-set indexes per workflow
//   - SQL: PostgreSQL, MySQL, or SQLite through GORM
//
// Build a store from configuration with New, or construct a backend
// directly when wiring is done by hand.
package history
