package quick

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/cost"
	"github.com/canvasflow/canvasflow/workflow"
)

// Option configures the engine created by New.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	maxConcurrency int
	latency        time.Duration
	retry          workflow.RetryPolicy
	model          string

	// Outcome shaping — outcomes wins when set.
	outcomes    workflow.OutcomeProvider
	failureRate float64
	seed        int64
	seedSet     bool
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxConcurrency bounds how many nodes execute in parallel.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// WithFailureRate makes simulated attempts fail with the given
// probability in [0, 1]. The default is 0: every attempt succeeds.
func WithFailureRate(rate float64) Option {
	return func(o *options) { o.failureRate = rate }
}

// WithSeed fixes the random seed used by WithFailureRate so simulated
// outcomes are reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.seedSet = true
	}
}

// WithLatency adds a fixed delay to every simulated attempt.
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

// WithOutcomes supplies a custom outcome provider. Overrides
// WithFailureRate and WithSeed.
func WithOutcomes(provider workflow.OutcomeProvider) Option {
	return func(o *options) { o.outcomes = provider }
}

// WithRetryPolicy overrides the default retry policy for failed
// integration attempts.
func WithRetryPolicy(p workflow.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithModel attributes token counts and USD cost to each attempt using
// the default pricing table for the named model, e.g. "gpt-4o".
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// New assembles a workflow engine backed by a simulated executor.
func New(opts ...Option) *workflow.Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	provider := o.outcomes
	if provider == nil && o.failureRate > 0 {
		seed := o.seed
		if !o.seedSet {
			seed = time.Now().UnixNano()
		}
		provider = workflow.FlakyOutcomes(o.failureRate, seed)
	}

	var execOpts []workflow.SimulatedExecutorOption
	if o.logger != nil {
		execOpts = append(execOpts, workflow.WithExecutorLogger(o.logger))
	}
	if o.latency > 0 {
		execOpts = append(execOpts, workflow.WithLatency(o.latency))
	}
	if o.model != "" {
		est := cost.NewEstimator()
		execOpts = append(execOpts,
			workflow.WithTokenEstimator(est.TokenEstimator(o.model, cost.DefaultPriceTable())))
	}

	var engineOpts []workflow.EngineOption
	if o.logger != nil {
		engineOpts = append(engineOpts, workflow.WithEngineLogger(o.logger))
	}
	if o.maxConcurrency > 0 {
		engineOpts = append(engineOpts, workflow.WithMaxConcurrency(o.maxConcurrency))
	}
	if o.retry != nil {
		engineOpts = append(engineOpts, workflow.WithRetryPolicy(o.retry))
	}

	return workflow.NewEngine(workflow.NewSimulatedExecutor(provider, execOpts...), engineOpts...)
}

// Run builds the definition's graph and executes it to completion on a
// fresh engine, returning the final snapshot.
func Run(ctx context.Context, def *workflow.Definition, opts ...Option) (workflow.RunSnapshot, error) {
	g, err := def.BuildGraph()
	if err != nil {
		return workflow.RunSnapshot{}, err
	}
	return New(opts...).Execute(ctx, def.Name, g)
}

// RunFile loads a workflow definition from a YAML or JSON file and
// executes it to completion.
func RunFile(ctx context.Context, path string, opts ...Option) (workflow.RunSnapshot, error) {
	def, err := workflow.LoadDefinition(path)
	if err != nil {
		return workflow.RunSnapshot{}, err
	}
	return Run(ctx, def, opts...)
}
