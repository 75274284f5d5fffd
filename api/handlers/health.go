package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/api"
)

// readyCheckTimeout bounds how long a readiness probe may spend on
// dependency checks.
const readyCheckTimeout = 5 * time.Second

// HealthCheck probes one dependency of the service.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// PingCheck adapts a ping function into a HealthCheck. It covers the
// common dependencies — the history store, the database pool — without
// a dedicated type per target.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck builds a check named name around ping.
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error {
	if c.ping == nil {
		return nil
	}
	return c.ping(ctx)
}

// HealthStatus is the body served by the health and readiness
// endpoints. It is written directly, without the API envelope, so
// probes stay trivial to parse.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports the outcome of a single dependency check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// HealthHandler serves liveness, readiness, and version endpoints.
type HealthHandler struct {
	mu        sync.RWMutex
	checks    []HealthCheck
	version   string
	startTime time.Time
	logger    *zap.Logger
}

// NewHealthHandler builds a handler reporting version. Readiness
// checks are added with RegisterCheck.
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		logger:    logger.With(zap.String("component", "health_handler")),
	}
}

// RegisterCheck adds a dependency check to the readiness probe.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth reports liveness. It never touches dependencies, so a
// wedged database cannot make the orchestrator look dead.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "ok",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	})
}

// HandleHealthz is HandleHealth under its Kubernetes-conventional name.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady runs every registered check and answers 503 when any
// fails.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	healthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		result := CheckResult{
			Status:   "ok",
			Duration: time.Since(start).Round(time.Millisecond).String(),
		}
		if err != nil {
			healthy = false
			result.Status = "failed"
			result.Error = err.Error()
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Error(err))
		}
		results[check.Name()] = result
	}

	status := HealthStatus{
		Status:    "ok",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
		Checks:    results,
	}
	code := http.StatusOK
	if !healthy {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleVersion serves build information in the standard envelope.
func HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, api.VersionInfo{
			Version:   version,
			BuildTime: buildTime,
			GitCommit: gitCommit,
		})
	}
}
