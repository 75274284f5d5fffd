package workflow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ActionRequest identifies one attempt of an external action.
type ActionRequest struct {
	// RunID identifies the run the attempt belongs to
	RunID string
	// NodeID identifies the node being executed
	NodeID string
	// Kind is the node kind
	Kind NodeKind
	// ToolRef names the external endpoint (integration nodes)
	ToolRef string
	// Task describes the work (agent nodes)
	Task string
	// Params carries opaque node parameters
	Params map[string]any
	// Attempt is the 1-based attempt number
	Attempt int
}

// ActionOutcome is the result of one external action attempt.
type ActionOutcome struct {
	// Success reports whether the action completed successfully
	Success bool
	// Result is the opaque action result on success
	Result any
	// ErrorMessage describes the failure on an unsuccessful attempt
	ErrorMessage string
	// Duration is how long the action took remotely
	Duration time.Duration
	// TokensUsed is the token count attributed to the attempt
	TokensUsed int
	// CostUSD is the cost attributed to the attempt
	CostUSD float64
}

// ActionExecutor invokes a named external action and reports its outcome.
// The engine treats it as an opaque collaborator: a returned error means
// the attempt could not be made at all (cancelled context, quota wait
// aborted); an unsuccessful ActionOutcome means the action itself failed
// and is subject to the retry policy.
type ActionExecutor interface {
	Execute(ctx context.Context, req ActionRequest) (ActionOutcome, error)
}

// OutcomeProvider decides the outcome of a simulated action attempt.
// Providers replace the external system in tests and local runs; the same
// engine runs unchanged against a real collaborator.
type OutcomeProvider func(req ActionRequest) ActionOutcome

// AlwaysSucceed returns a provider whose every attempt succeeds with the
// given result.
func AlwaysSucceed(result any) OutcomeProvider {
	return func(req ActionRequest) ActionOutcome {
		return ActionOutcome{Success: true, Result: result, Duration: 5 * time.Millisecond}
	}
}

// AlwaysFail returns a provider whose every attempt fails with the given
// message.
func AlwaysFail(message string) OutcomeProvider {
	return func(req ActionRequest) ActionOutcome {
		return ActionOutcome{ErrorMessage: message, Duration: 5 * time.Millisecond}
	}
}

// FailFirst returns a provider that fails the first n attempts of every
// node and succeeds afterwards. Attempt numbering comes from the request,
// so the provider itself stays stateless.
func FailFirst(n int, result any) OutcomeProvider {
	return func(req ActionRequest) ActionOutcome {
		if req.Attempt <= n {
			return ActionOutcome{
				ErrorMessage: fmt.Sprintf("transient failure on attempt %d", req.Attempt),
				Duration:     5 * time.Millisecond,
			}
		}
		return ActionOutcome{Success: true, Result: result, Duration: 5 * time.Millisecond}
	}
}

// FlakyOutcomes returns a provider that fails integration attempts with
// the given probability, using a seeded generator so runs are
// reproducible. Non-integration attempts always succeed.
func FlakyOutcomes(failureRate float64, seed int64) OutcomeProvider {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func(req ActionRequest) ActionOutcome {
		mu.Lock()
		roll := rng.Float64()
		mu.Unlock()
		if req.Kind == NodeKindIntegration && roll < failureRate {
			return ActionOutcome{
				ErrorMessage: fmt.Sprintf("simulated %s failure", req.ToolRef),
				Duration:     12 * time.Millisecond,
			}
		}
		return ActionOutcome{Success: true, Result: "ok", Duration: 12 * time.Millisecond}
	}
}

// TokenEstimator attributes token and cost figures to a successful
// attempt's textual result.
type TokenEstimator func(text string) (tokens int, costUSD float64)

// SimulatedExecutor is the default ActionExecutor. It never talks to a
// real external system: outcomes come from the configured
// OutcomeProvider, external API quotas are modeled with a token bucket,
// and token/cost figures can be attributed through a TokenEstimator.
type SimulatedExecutor struct {
	provider  OutcomeProvider
	limiter   *rate.Limiter
	estimator TokenEstimator
	latency   time.Duration
	logger    *zap.Logger
}

// SimulatedExecutorOption configures a SimulatedExecutor.
type SimulatedExecutorOption func(*SimulatedExecutor)

// WithRateLimit caps simulated external calls at rps requests per second
// with the given burst.
func WithRateLimit(rps float64, burst int) SimulatedExecutorOption {
	return func(e *SimulatedExecutor) {
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTokenEstimator attributes tokens and cost to successful attempts
// whose result is a string and whose outcome carries no figures yet.
func WithTokenEstimator(est TokenEstimator) SimulatedExecutorOption {
	return func(e *SimulatedExecutor) {
		e.estimator = est
	}
}

// WithLatency adds a fixed artificial latency to every attempt.
func WithLatency(d time.Duration) SimulatedExecutorOption {
	return func(e *SimulatedExecutor) {
		e.latency = d
	}
}

// WithExecutorLogger sets a custom logger.
func WithExecutorLogger(logger *zap.Logger) SimulatedExecutorOption {
	return func(e *SimulatedExecutor) {
		e.logger = logger.With(zap.String("component", "simulated_executor"))
	}
}

// NewSimulatedExecutor creates a simulated executor backed by the given
// outcome provider. A nil provider defaults to AlwaysSucceed("ok").
func NewSimulatedExecutor(provider OutcomeProvider, opts ...SimulatedExecutorOption) *SimulatedExecutor {
	if provider == nil {
		provider = AlwaysSucceed("ok")
	}
	e := &SimulatedExecutor{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements ActionExecutor.
func (e *SimulatedExecutor) Execute(ctx context.Context, req ActionRequest) (ActionOutcome, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return ActionOutcome{}, fmt.Errorf("rate limit wait: %w", err)
	}
	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return ActionOutcome{}, ctx.Err()
		}
	}

	out := e.provider(req)

	if out.Success && e.estimator != nil && out.TokensUsed == 0 {
		if text, ok := out.Result.(string); ok {
			out.TokensUsed, out.CostUSD = e.estimator(text)
		}
	}

	e.logger.Debug("simulated action executed",
		zap.String("node_id", req.NodeID),
		zap.String("kind", string(req.Kind)),
		zap.Int("attempt", req.Attempt),
		zap.Bool("success", out.Success),
	)

	return out, nil
}
