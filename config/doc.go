// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

// Package config loads and validates service configuration.
//
// Values resolve in three layers, each overriding the last: built-in
// defaults, an optional YAML file, and CANVASFLOW_* environment
// variables (CANVASFLOW_SERVER_HTTP_PORT, CANVASFLOW_LOG_LEVEL, and
// so on, following the struct layout).
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("canvasflow.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// A Watcher can poll the file afterwards so long-running processes
// pick up edits, currently used for live log-level changes.
package config
