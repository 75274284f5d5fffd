// Package telemetry wraps OpenTelemetry SDK initialization, giving
// the service one place that configures the TracerProvider and
// MeterProvider. When telemetry is disabled the global providers stay
// noop and nothing connects to an external collector.
package telemetry
