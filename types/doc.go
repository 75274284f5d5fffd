// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared error contract for the repository.

# Overview

types is the lowest-level common package. It depends on nothing internal,
so workflow, stream, history, and the API layer can all exchange coded
errors without import cycles.

# Core types

  - Error / ErrorCode — structured errors carrying an HTTP status, a
    retryable flag, and a wrapped cause
  - NewError / Newf   — constructors; With* builders refine instances

# Capabilities

  - Error inspection: IsCode / GetErrorCode / AsError work through
    wrapped chains via errors.As
  - Classification: codes for validation and graph-shape failures, run
    lifecycle conflicts, node execution, stream transport, and storage
*/
package types
