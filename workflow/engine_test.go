package workflow

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/canvasflow/types"
)

// integrationPipeline is the canonical three node workflow: a trigger
// feeding an integration feeding an output.
func integrationPipeline(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().
		AddTrigger("trigger-1", "Manual Trigger").
		AddIntegration("int-1", "Send Email", "gmail.send").
		AddOutput("out-1", "Summary").
		Connect("trigger-1", "int-1").
		Connect("int-1", "out-1").
		Build()
	require.NoError(t, err)
	return g
}

// fastRetries keeps retry pauses out of the test clock while preserving
// the three attempt budget.
func fastRetries() FixedDelayPolicy {
	return FixedDelayPolicy{MaxAttempts: 3, Delay: time.Millisecond}
}

func TestEngine_RunRecoversFromTransientFailures(t *testing.T) {
	// The integration fails twice and succeeds on the third attempt.
	provider := func(req ActionRequest) ActionOutcome {
		if req.Kind == NodeKindIntegration && req.Attempt <= 2 {
			return ActionOutcome{ErrorMessage: "rate limited"}
		}
		return ActionOutcome{Success: true, Result: "sent"}
	}
	e := NewEngine(NewSimulatedExecutor(provider), WithRetryPolicy(fastRetries()))

	snap, err := e.Execute(context.Background(), "wf-1", integrationPipeline(t))
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.CompletedCount)

	trigger, _ := snap.Node("trigger-1")
	assert.Equal(t, StatusSuccess, trigger.Status)
	assert.Equal(t, 0, trigger.RetryCount)

	integration, _ := snap.Node("int-1")
	assert.Equal(t, StatusSuccess, integration.Status)
	assert.Equal(t, 2, integration.RetryCount)
	assert.Equal(t, "sent", integration.Result)

	output, _ := snap.Node("out-1")
	assert.Equal(t, StatusSuccess, output.Status)

	for _, edge := range snap.Edges {
		assert.Equal(t, EdgeStatusSuccess, edge.Status, "edge %s", edge.ID)
	}

	summary, ok := e.Progress()
	require.True(t, ok)
	assert.Equal(t, 100, summary.ProgressPercent)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
}

func TestEngine_RunCompletesWithFailures(t *testing.T) {
	provider := func(req ActionRequest) ActionOutcome {
		if req.Kind == NodeKindIntegration {
			return ActionOutcome{ErrorMessage: "service unavailable"}
		}
		return ActionOutcome{Success: true, Result: "ok"}
	}
	e := NewEngine(NewSimulatedExecutor(provider), WithRetryPolicy(fastRetries()))

	snap, err := e.Execute(context.Background(), "wf-1", integrationPipeline(t))
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompletedWithFailures, snap.Status)
	assert.True(t, e.IsComplete())
	assert.True(t, e.HasFailures())
	assert.False(t, e.IsRunning())

	trigger, _ := snap.Node("trigger-1")
	assert.Equal(t, StatusSuccess, trigger.Status)

	integration, _ := snap.Node("int-1")
	assert.Equal(t, StatusError, integration.Status)
	assert.Equal(t, 2, integration.RetryCount, "two retries after the first failure")
	assert.Equal(t, "service unavailable", integration.Error)

	output, _ := snap.Node("out-1")
	assert.Equal(t, StatusSkipped, output.Status)

	feed, _ := snap.Edge("trigger-1->int-1")
	assert.Equal(t, EdgeStatusSuccess, feed.Status, "delivery into the failed node still completed")
	dead, _ := snap.Edge("int-1->out-1")
	assert.Equal(t, EdgeStatusSkipped, dead.Status)

	summary, _ := e.Progress()
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 33, summary.ProgressPercent)
}

func TestEngine_NonIntegrationNodesNeverRetry(t *testing.T) {
	var agentAttempts atomic.Int32
	provider := func(req ActionRequest) ActionOutcome {
		if req.Kind == NodeKindAgent {
			agentAttempts.Add(1)
			return ActionOutcome{ErrorMessage: "model overloaded"}
		}
		return ActionOutcome{Success: true}
	}
	g, err := NewGraphBuilder().
		AddTrigger("t", "Trigger").
		AddAgent("a", "Agent", "summarize").
		Connect("t", "a").
		Build()
	require.NoError(t, err)

	e := NewEngine(NewSimulatedExecutor(provider), WithRetryPolicy(fastRetries()))
	snap, err := e.Execute(context.Background(), "wf-1", g)
	require.NoError(t, err)

	assert.Equal(t, int32(1), agentAttempts.Load())
	agent, _ := snap.Node("a")
	assert.Equal(t, StatusError, agent.Status)
	assert.Equal(t, 0, agent.RetryCount)
}

func TestEngine_SiblingBranchesContinuePastFailure(t *testing.T) {
	g, err := NewGraphBuilder().
		AddTrigger("t", "Trigger").
		AddIntegration("broken", "Broken API", "broken.call").
		AddIntegration("healthy", "Healthy API", "healthy.call").
		AddOutput("after-broken", "After Broken").
		AddOutput("after-healthy", "After Healthy").
		Connect("t", "broken").
		Connect("t", "healthy").
		Connect("broken", "after-broken").
		Connect("healthy", "after-healthy").
		Build()
	require.NoError(t, err)

	provider := func(req ActionRequest) ActionOutcome {
		if req.NodeID == "broken" {
			return ActionOutcome{ErrorMessage: "boom"}
		}
		return ActionOutcome{Success: true, Result: "ok"}
	}
	e := NewEngine(NewSimulatedExecutor(provider), WithRetryPolicy(fastRetries()))

	snap, err := e.Execute(context.Background(), "wf-1", g)
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompletedWithFailures, snap.Status)

	broken, _ := snap.Node("broken")
	assert.Equal(t, StatusError, broken.Status)
	afterBroken, _ := snap.Node("after-broken")
	assert.Equal(t, StatusSkipped, afterBroken.Status)

	healthy, _ := snap.Node("healthy")
	assert.Equal(t, StatusSuccess, healthy.Status)
	afterHealthy, _ := snap.Node("after-healthy")
	assert.Equal(t, StatusSuccess, afterHealthy.Status, "independent branch finishes despite the sibling failure")
}

func TestEngine_StartRunRejectsConcurrentRuns(t *testing.T) {
	e := NewEngine(nil)
	g := integrationPipeline(t)

	_, err := e.StartRun("wf-1", g)
	require.NoError(t, err)

	_, err = e.StartRun("wf-1", g)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAlreadyRunning))

	var appErr *types.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 409, appErr.HTTPStatus)
}

func TestEngine_StartRunAfterCompletionResets(t *testing.T) {
	e := NewEngine(nil)
	g := integrationPipeline(t)

	first, err := e.Execute(context.Background(), "wf-1", g)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, first.Status)

	runID, err := e.StartRun("wf-1", g)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, runID)
	assert.True(t, strings.HasPrefix(runID, "run_"))

	snap, ok := e.Snapshot()
	require.True(t, ok)
	assert.Equal(t, RunStatusRunning, snap.Status)
	assert.Equal(t, 0, snap.CompletedCount)
	for _, n := range snap.Nodes {
		assert.Equal(t, StatusPending, n.Status)
	}
	for _, edge := range snap.Edges {
		assert.Equal(t, EdgeStatusIdle, edge.Status)
	}
}

func TestEngine_RunWithoutStartFails(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNoActiveRun))
}

func TestEngine_StartRunRejectsEmptyGraph(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.StartRun("wf-1", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEmptyGraph))
}

func TestEngine_CancelLeavesUndispatchedPending(t *testing.T) {
	g, err := NewGraphBuilder().
		AddTrigger("t", "Trigger").
		AddIntegration("slow", "Slow API", "slow.call").
		AddOutput("o", "Out").
		Connect("t", "slow").
		Connect("slow", "o").
		Build()
	require.NoError(t, err)

	e := NewEngine(NewSimulatedExecutor(AlwaysSucceed("ok"), WithLatency(100*time.Millisecond)))
	_, err = e.StartRun("wf-1", g)
	require.NoError(t, err)

	type result struct {
		snap RunSnapshot
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		snap, runErr := e.Run(context.Background())
		resCh <- result{snap, runErr}
	}()

	// Let the trigger complete and the slow integration start, then
	// cancel while it is in flight.
	time.Sleep(150 * time.Millisecond)
	e.Cancel()

	res := <-resCh
	require.Error(t, res.err)
	assert.True(t, types.IsCode(res.err, types.ErrRunCancelled))
	assert.Equal(t, RunStatusCancelled, res.snap.Status)

	trigger, _ := res.snap.Node("t")
	assert.Equal(t, StatusSuccess, trigger.Status)

	// The in-flight node was allowed to finish.
	slow, _ := res.snap.Node("slow")
	assert.Equal(t, StatusSuccess, slow.Status)

	// The output never dispatched and stays pending.
	out, _ := res.snap.Node("o")
	assert.Equal(t, StatusPending, out.Status)
}

func TestEngine_CancelCutsRetryBackoffShort(t *testing.T) {
	g, err := NewGraphBuilder().
		AddTrigger("t", "Trigger").
		AddIntegration("flaky", "Flaky API", "flaky.call").
		Connect("t", "flaky").
		Build()
	require.NoError(t, err)

	provider := func(req ActionRequest) ActionOutcome {
		if req.Kind == NodeKindIntegration {
			return ActionOutcome{ErrorMessage: "boom"}
		}
		return ActionOutcome{Success: true}
	}
	e := NewEngine(NewSimulatedExecutor(provider),
		WithRetryPolicy(FixedDelayPolicy{MaxAttempts: 3, Delay: time.Minute}))

	_, err = e.StartRun("wf-1", g)
	require.NoError(t, err)

	resCh := make(chan RunSnapshot, 1)
	go func() {
		snap, _ := e.Run(context.Background())
		resCh <- snap
	}()

	// Let the first attempt fail and enter its one minute backoff, then
	// cancel. The node must settle with its last failure instead of
	// waiting out the delay.
	time.Sleep(100 * time.Millisecond)
	e.Cancel()

	select {
	case snap := <-resCh:
		assert.Equal(t, RunStatusCompletedWithFailures, snap.Status)
		flaky, _ := snap.Node("flaky")
		assert.Equal(t, StatusError, flaky.Status)
		assert.Equal(t, "boom", flaky.Error)
		assert.Equal(t, 1, flaky.RetryCount)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation during retry backoff")
	}
}

func TestEngine_StartRunWaitsForDrainingLoop(t *testing.T) {
	g := integrationPipeline(t)
	e := NewEngine(NewSimulatedExecutor(AlwaysSucceed("ok"), WithLatency(300*time.Millisecond)))

	_, err := e.StartRun("wf-1", g)
	require.NoError(t, err)

	resCh := make(chan RunSnapshot, 1)
	go func() {
		snap, _ := e.Run(context.Background())
		resCh <- snap
	}()

	// Wait for the trigger to finish and the integration to go in
	// flight, then let the remote service declare the run done.
	time.Sleep(450 * time.Millisecond)
	require.NoError(t, e.Finalize(RunStatusCompleted, RunUpdate{}))

	// The loop still owns the run until its in-flight node drains.
	_, err = e.StartRun("wf-2", g)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAlreadyRunning))

	snap := <-resCh
	assert.Equal(t, RunStatusCompleted, snap.Status)

	_, err = e.StartRun("wf-2", g)
	require.NoError(t, err)
}

func TestEngine_ApplyExternalStatusIsIdempotent(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	changed, err := e.ApplyExternalStatus("trigger-1", StatusUpdate{Status: StatusSuccess})
	require.NoError(t, err)
	assert.True(t, changed)

	// Redelivered event: same terminal status again.
	changed, err = e.ApplyExternalStatus("trigger-1", StatusUpdate{Status: StatusSuccess})
	require.NoError(t, err)
	assert.False(t, changed)

	// A stale non-terminal update after the terminal one is dropped too.
	changed, err = e.ApplyExternalStatus("trigger-1", StatusUpdate{Status: StatusConnecting})
	require.NoError(t, err)
	assert.False(t, changed)

	snap, _ := e.Snapshot()
	trigger, _ := snap.Node("trigger-1")
	assert.Equal(t, StatusSuccess, trigger.Status)
	assert.Equal(t, 1, snap.CompletedCount)
}

func TestEngine_ApplyExternalStatusSynthesizesSkippedSteps(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	// Completion arrives for a node that never reported starting.
	changed, err := e.ApplyExternalStatus("int-1", StatusUpdate{
		Status:     StatusSuccess,
		Result:     "sent",
		Duration:   150 * time.Millisecond,
		TokensUsed: 42,
		CostUSD:    0.003,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	snap, _ := e.Snapshot()
	integration, _ := snap.Node("int-1")
	assert.Equal(t, StatusSuccess, integration.Status)
	assert.Equal(t, "sent", integration.Result)
	assert.Equal(t, 150*time.Millisecond, integration.Duration)
	assert.False(t, integration.StartedAt.IsZero())
	assert.False(t, integration.FinishedAt.IsZero())
	assert.Equal(t, 42, snap.TokensUsed)
	assert.InDelta(t, 0.003, snap.CostUSD, 1e-9)

	feed, _ := snap.Edge("trigger-1->int-1")
	assert.Equal(t, EdgeStatusSuccess, feed.Status)
}

func TestEngine_ApplyExternalStatusUnknownNode(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	changed, err := e.ApplyExternalStatus("phantom", StatusUpdate{Status: StatusSuccess})
	assert.False(t, changed)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestEngine_RemoteOverridesLocalFailure(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	_, err = e.ApplyExternalStatus("int-1", StatusUpdate{Status: StatusError, Error: "timeout"})
	require.NoError(t, err)

	// The remote service later reports the step actually succeeded.
	changed, err := e.ApplyExternalStatus("int-1", StatusUpdate{Status: StatusSuccess, Result: "sent"})
	require.NoError(t, err)
	assert.True(t, changed)

	snap, _ := e.Snapshot()
	integration, _ := snap.Node("int-1")
	assert.Equal(t, StatusSuccess, integration.Status)
	assert.Equal(t, 1, snap.CompletedCount)
}

func TestEngine_FinalizeCompletedSettlesStragglers(t *testing.T) {
	var finalSnaps []RunSnapshot
	e := NewEngine(nil, WithFinalizeHook(func(snap RunSnapshot) {
		finalSnaps = append(finalSnaps, snap)
	}))
	_, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	_, err = e.ApplyExternalStatus("trigger-1", StatusUpdate{Status: StatusSuccess})
	require.NoError(t, err)

	err = e.Finalize(RunStatusCompleted, RunUpdate{
		TokensUsed: 1234,
		CostUSD:    0.05,
		Duration:   2 * time.Second,
	})
	require.NoError(t, err)

	snap, _ := e.Snapshot()
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Equal(t, 1234, snap.TokensUsed)
	assert.InDelta(t, 0.05, snap.CostUSD, 1e-9)
	assert.Equal(t, int64(2000), snap.Elapsed().Milliseconds())
	assert.True(t, e.IsComplete())

	for _, n := range snap.Nodes {
		assert.Equal(t, StatusSuccess, n.Status, "node %s", n.ID)
	}

	require.Len(t, finalSnaps, 1)
	assert.Equal(t, RunStatusCompleted, finalSnaps[0].Status)

	// Redelivered completion event changes nothing.
	err = e.Finalize(RunStatusCompleted, RunUpdate{})
	require.NoError(t, err)
	assert.Len(t, finalSnaps, 1)
}

func TestEngine_FinalizeFailedSkipsStragglers(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	_, err = e.ApplyExternalStatus("trigger-1", StatusUpdate{Status: StatusSuccess})
	require.NoError(t, err)

	err = e.Finalize(RunStatusFailed, RunUpdate{Error: "execution aborted upstream"})
	require.NoError(t, err)

	snap, _ := e.Snapshot()
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "execution aborted upstream", snap.Error)

	trigger, _ := snap.Node("trigger-1")
	assert.Equal(t, StatusSuccess, trigger.Status)
	integration, _ := snap.Node("int-1")
	assert.Equal(t, StatusSkipped, integration.Status)
	output, _ := snap.Node("out-1")
	assert.Equal(t, StatusSkipped, output.Status)
}

func TestEngine_FinalizeRequiresTerminalStatus(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	err = e.Finalize(RunStatusRunning, RunUpdate{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestEngine_ElapsedFreezesAtCompletion(t *testing.T) {
	e := NewEngine(nil)
	snap, err := e.Execute(context.Background(), "wf-1", integrationPipeline(t))
	require.NoError(t, err)

	frozen := snap.Elapsed()
	time.Sleep(15 * time.Millisecond)

	again, _ := e.Snapshot()
	assert.Equal(t, frozen, again.Elapsed())
}

func TestEngine_ProgressPercentRounds(t *testing.T) {
	b := NewGraphBuilder()
	for _, id := range []string{"n0", "n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8", "n9"} {
		b.AddAgent(id, id, "task")
	}
	g, err := b.Build()
	require.NoError(t, err)

	e := NewEngine(nil)
	_, err = e.StartRun("wf-1", g)
	require.NoError(t, err)

	for _, id := range []string{"n0", "n1", "n2", "n3", "n4", "n5"} {
		_, err := e.ApplyExternalStatus(id, StatusUpdate{Status: StatusSuccess})
		require.NoError(t, err)
	}

	summary, ok := e.Progress()
	require.True(t, ok)
	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 6, summary.Completed)
	assert.Equal(t, 60, summary.ProgressPercent)
}

func TestEngine_FinalizeHookFiresOnLocalCompletion(t *testing.T) {
	var hookRuns atomic.Int32
	var got RunSnapshot
	e := NewEngine(nil, WithFinalizeHook(func(snap RunSnapshot) {
		hookRuns.Add(1)
		got = snap
	}))

	snap, err := e.Execute(context.Background(), "wf-1", integrationPipeline(t))
	require.NoError(t, err)

	assert.Equal(t, int32(1), hookRuns.Load())
	assert.Equal(t, snap.RunID, got.RunID)
	assert.Equal(t, RunStatusCompleted, got.Status)
}

func TestEngine_StartHookFiresOnStartRun(t *testing.T) {
	var gotRunID, gotWorkflowID string
	e := NewEngine(nil, WithStartHook(func(runID, workflowID string) {
		gotRunID = runID
		gotWorkflowID = workflowID
	}))

	runID, err := e.StartRun("wf-1", integrationPipeline(t))
	require.NoError(t, err)

	assert.Equal(t, runID, gotRunID)
	assert.Equal(t, "wf-1", gotWorkflowID)
}

func TestEngine_ExternalSuccessUnblocksLocalDispatch(t *testing.T) {
	// The integration is executed remotely; only its completion event
	// reaches the engine. The local run loop must pick up the output
	// node once the event lands.
	provider := func(req ActionRequest) ActionOutcome {
		if req.Kind == NodeKindIntegration {
			// Stall so the remote event always wins the race.
			return ActionOutcome{ErrorMessage: "should be preempted"}
		}
		return ActionOutcome{Success: true, Result: "ok"}
	}
	g := integrationPipeline(t)
	e := NewEngine(
		NewSimulatedExecutor(provider, WithLatency(100*time.Millisecond)),
		WithRetryPolicy(NoRetryPolicy{}),
	)

	_, err := e.StartRun("wf-1", g)
	require.NoError(t, err)

	resCh := make(chan RunSnapshot, 1)
	go func() {
		snap, _ := e.Run(context.Background())
		resCh <- snap
	}()

	// Trigger completes at ~100ms, integration starts. Apply the remote
	// success while the local attempt is still in flight.
	time.Sleep(150 * time.Millisecond)
	_, err = e.ApplyExternalStatus("int-1", StatusUpdate{Status: StatusSuccess, Result: "remote"})
	require.NoError(t, err)

	snap := <-resCh
	assert.Equal(t, RunStatusCompleted, snap.Status)

	integration, _ := snap.Node("int-1")
	assert.Equal(t, StatusSuccess, integration.Status)
	assert.Equal(t, "remote", integration.Result)

	output, _ := snap.Node("out-1")
	assert.Equal(t, StatusSuccess, output.Status)
}
