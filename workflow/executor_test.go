package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedExecutor_Providers(t *testing.T) {
	ctx := context.Background()
	req := ActionRequest{NodeID: "n1", Kind: NodeKindIntegration, Attempt: 1}

	out, err := NewSimulatedExecutor(AlwaysSucceed("done")).Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Result)

	out, err = NewSimulatedExecutor(AlwaysFail("nope")).Execute(ctx, req)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "nope", out.ErrorMessage)
}

func TestFailFirst_SucceedsAfterNAttempts(t *testing.T) {
	provider := FailFirst(2, "recovered")

	first := provider(ActionRequest{Attempt: 1})
	assert.False(t, first.Success)
	second := provider(ActionRequest{Attempt: 2})
	assert.False(t, second.Success)
	third := provider(ActionRequest{Attempt: 3})
	assert.True(t, third.Success)
	assert.Equal(t, "recovered", third.Result)
}

func TestFlakyOutcomes_DeterministicPerSeed(t *testing.T) {
	req := ActionRequest{NodeID: "n1", Kind: NodeKindIntegration, ToolRef: "api.call", Attempt: 1}

	run := func(seed int64) []bool {
		provider := FlakyOutcomes(0.5, seed)
		var results []bool
		for i := 0; i < 20; i++ {
			results = append(results, provider(req).Success)
		}
		return results
	}

	assert.Equal(t, run(7), run(7))
}

func TestFlakyOutcomes_OnlyIntegrationsFail(t *testing.T) {
	provider := FlakyOutcomes(1.0, 1)

	agent := provider(ActionRequest{Kind: NodeKindAgent, Attempt: 1})
	assert.True(t, agent.Success)

	integration := provider(ActionRequest{Kind: NodeKindIntegration, ToolRef: "api.call", Attempt: 1})
	assert.False(t, integration.Success)
}

func TestSimulatedExecutor_TokenEstimator(t *testing.T) {
	est := func(text string) (int, float64) {
		return len(text), float64(len(text)) * 0.001
	}
	e := NewSimulatedExecutor(AlwaysSucceed("four"), WithTokenEstimator(est))

	out, err := e.Execute(context.Background(), ActionRequest{NodeID: "n1", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, out.TokensUsed)
	assert.InDelta(t, 0.004, out.CostUSD, 1e-9)
}

func TestSimulatedExecutor_RateLimitHonorsContext(t *testing.T) {
	e := NewSimulatedExecutor(AlwaysSucceed("ok"), WithRateLimit(0.001, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// First call consumes the burst, second waits on the bucket until
	// the context deadline cuts it off.
	_, err := e.Execute(ctx, ActionRequest{NodeID: "n1", Attempt: 1})
	require.NoError(t, err)

	_, err = e.Execute(ctx, ActionRequest{NodeID: "n2", Attempt: 1})
	require.Error(t, err)
}
