// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

// Package cost estimates token usage and USD cost for agent and
// integration steps. Counting uses tiktoken when the encoding is
// available and falls back to a character heuristic, so it works
// offline. Prices come from a PriceTable keyed by model name.
package cost
