// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package server manages the lifecycle of an HTTP listener.

Manager wraps net/http.Server with a non-blocking Start, a graceful
Shutdown bounded by the configured timeout, and an error channel for
serve failures that happen after startup. WaitForShutdown blocks until
SIGINT/SIGTERM arrives or the server fails, then drains in-flight
requests. The serve command runs two Managers, one for the API and one
for the metrics endpoint.
*/
package server
