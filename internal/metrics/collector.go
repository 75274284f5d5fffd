package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the service's Prometheus metrics.
type Collector struct {
	// Run metrics
	runsTotal   *prometheus.CounterVec
	activeRuns  prometheus.Gauge
	runDuration *prometheus.HistogramVec
	runTokens   *prometheus.CounterVec
	runCost     *prometheus.CounterVec

	// Node metrics
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	nodeRetriesTotal    *prometheus.CounterVec

	// Stream metrics
	streamEventsTotal     *prometheus.CounterVec
	streamReconnectsTotal prometheus.Counter
	applyDuration         prometheus.Histogram

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Database metrics
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates a collector whose metrics live under the given
// namespace. Metrics are registered with the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Run metrics
	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished workflow runs",
		},
		[]string{"workflow", "outcome"},
	)

	c.activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of runs currently executing",
		},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end workflow run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow"},
	)

	c.runTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_tokens_total",
			Help:      "Total tokens attributed to finished runs",
		},
		[]string{"workflow"},
	)

	c.runCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_cost_usd_total",
			Help:      "Total estimated cost of finished runs in USD",
		},
		[]string{"workflow"},
	)

	// Node metrics
	c.nodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total node executions by kind and final status",
		},
		[]string{"kind", "status"},
	)

	c.nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.nodeRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Total node retry attempts",
		},
		[]string{"kind"},
	)

	// Stream metrics
	c.streamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Total execution events received from the stream",
		},
		[]string{"type"},
	)

	c.streamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Total stream reconnect attempts",
		},
	)

	c.applyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "status_apply_duration_seconds",
			Help:      "Latency of applying a remote status update to the run state",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		},
	)

	// HTTP metrics
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Database metrics
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RunStarted bumps the active-runs gauge.
func (c *Collector) RunStarted() {
	c.activeRuns.Inc()
}

// RecordRunFinished records a finished run. outcome is the terminal
// run status (completed, completed_with_failures, failed, cancelled).
func (c *Collector) RecordRunFinished(workflow, outcome string, duration time.Duration, tokens int, costUSD float64) {
	c.runsTotal.WithLabelValues(workflow, outcome).Inc()
	c.activeRuns.Dec()
	c.runDuration.WithLabelValues(workflow).Observe(duration.Seconds())
	c.runTokens.WithLabelValues(workflow).Add(float64(tokens))
	c.runCost.WithLabelValues(workflow).Add(costUSD)
}

// RecordNodeExecution records one node's terminal state.
func (c *Collector) RecordNodeExecution(kind, status string, duration time.Duration, retries int) {
	c.nodeExecutionsTotal.WithLabelValues(kind, status).Inc()
	c.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if retries > 0 {
		c.nodeRetriesTotal.WithLabelValues(kind).Add(float64(retries))
	}
}

// RecordStreamEvent counts one received execution event.
func (c *Collector) RecordStreamEvent(eventType string) {
	c.streamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordStreamReconnect counts one reconnect attempt.
func (c *Collector) RecordStreamReconnect() {
	c.streamReconnectsTotal.Inc()
}

// RecordStatusApply records how long a remote status update took to
// fold into the run state.
func (c *Collector) RecordStatusApply(duration time.Duration) {
	c.applyDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBConnections records the connection pool's current shape.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// statusCode groups an HTTP status code into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
