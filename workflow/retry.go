package workflow

import "time"

// RetryDecision is the outcome of a retry policy query.
type RetryDecision struct {
	// Retry reports whether another attempt should be made
	Retry bool
	// Delay is how long to wait before the next attempt
	Delay time.Duration
}

// RetryPolicy decides whether a failed attempt should be retried. The
// decision must be stateless and deterministic given the node kind and the
// number of attempts already made; probabilistic failure simulation belongs
// to the external collaborator, never to the policy.
type RetryPolicy interface {
	// ShouldRetry is consulted after attempt number `attempt` (1-based)
	// has failed.
	ShouldRetry(kind NodeKind, attempt int) RetryDecision
}

// FixedDelayPolicy retries integration nodes with a constant delay between
// attempts. Trigger, agent, and output nodes never retry at this layer: a
// failure there is terminal for the node.
type FixedDelayPolicy struct {
	// MaxAttempts caps the total attempts, the initial one included
	MaxAttempts int
	// Delay is the fixed wait before each retry
	Delay time.Duration
}

// DefaultRetryPolicy returns the standard policy: 3 attempts for
// integration nodes (1 initial + 2 retries) with a fixed 1200ms delay.
func DefaultRetryPolicy() FixedDelayPolicy {
	return FixedDelayPolicy{
		MaxAttempts: 3,
		Delay:       1200 * time.Millisecond,
	}
}

// ShouldRetry implements RetryPolicy.
func (p FixedDelayPolicy) ShouldRetry(kind NodeKind, attempt int) RetryDecision {
	if kind != NodeKindIntegration {
		return RetryDecision{}
	}
	if attempt >= p.MaxAttempts {
		return RetryDecision{}
	}
	return RetryDecision{Retry: true, Delay: p.Delay}
}

// NoRetryPolicy never retries, regardless of node kind.
type NoRetryPolicy struct{}

// ShouldRetry implements RetryPolicy.
func (NoRetryPolicy) ShouldRetry(NodeKind, int) RetryDecision {
	return RetryDecision{}
}
