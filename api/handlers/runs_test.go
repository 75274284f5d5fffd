package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/api"
	"github.com/canvasflow/canvasflow/history"
	"github.com/canvasflow/canvasflow/types"
	"github.com/canvasflow/canvasflow/workflow"
)

// envelope mirrors Response with raw data for per-test decoding.
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorInfo      `json:"error"`
	RequestID string          `json:"request_id"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func linearDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "render-pipeline",
		Nodes: []workflow.NodeSpec{
			{ID: "ingest", Kind: "trigger", Label: "Ingest"},
			{ID: "render", Kind: "agent", Task: "render the canvas"},
		},
		Edges: []workflow.EdgeSpec{{Source: "ingest", Target: "render"}},
	}
}

func startRequest(t *testing.T, def workflow.Definition, workflowID string) *http.Request {
	t.Helper()
	body, err := json.Marshal(api.StartRunRequest{WorkflowID: workflowID, Definition: def})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// gatedProvider blocks every attempt until release is closed, keeping
// the run in flight for as long as a test needs it.
func gatedProvider(release <-chan struct{}) workflow.OutcomeProvider {
	return func(req workflow.ActionRequest) workflow.ActionOutcome {
		<-release
		return workflow.ActionOutcome{Success: true, Result: "ok", Duration: time.Millisecond}
	}
}

func waitTerminal(t *testing.T, engine *workflow.Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !engine.IsRunning()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleStart(t *testing.T) {
	t.Run("starts a run", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleStart(rec, startRequest(t, linearDefinition(), ""))

		require.Equal(t, http.StatusAccepted, rec.Code)

		env := decodeEnvelope(t, rec)
		require.True(t, env.Success)

		var resp api.StartRunResponse
		require.NoError(t, json.Unmarshal(env.Data, &resp))
		assert.NotEmpty(t, resp.RunID)
		assert.Equal(t, "render-pipeline", resp.WorkflowID)
		assert.Equal(t, workflow.RunStatusRunning, resp.Status)
		assert.Equal(t, 2, resp.TotalSteps)

		waitTerminal(t, engine)
	})

	t.Run("explicit workflow id wins over name", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleStart(rec, startRequest(t, linearDefinition(), "wf-custom"))

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp api.StartRunResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		assert.Equal(t, "wf-custom", resp.WorkflowID)

		waitTerminal(t, engine)
	})

	t.Run("rejects missing content type", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader([]byte("{}")))
		rec := httptest.NewRecorder()
		h.HandleStart(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects cyclic definition", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		def := workflow.Definition{
			Name: "loop",
			Nodes: []workflow.NodeSpec{
				{ID: "a", Kind: "agent"},
				{ID: "b", Kind: "agent"},
			},
			Edges: []workflow.EdgeSpec{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "a"},
			},
		}

		rec := httptest.NewRecorder()
		h.HandleStart(rec, startRequest(t, def, ""))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		env := decodeEnvelope(t, rec)
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrCyclicGraph), env.Error.Code)
	})

	t.Run("second start conflicts while running", func(t *testing.T) {
		release := make(chan struct{})
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(gatedProvider(release)))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleStart(rec, startRequest(t, linearDefinition(), ""))
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec2 := httptest.NewRecorder()
		h.HandleStart(rec2, startRequest(t, linearDefinition(), ""))
		assert.Equal(t, http.StatusConflict, rec2.Code)

		env := decodeEnvelope(t, rec2)
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrAlreadyRunning), env.Error.Code)

		close(release)
		waitTerminal(t, engine)
	})
}

func TestHandleCurrent(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleCurrent(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		env := decodeEnvelope(t, rec)
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrNoActiveRun), env.Error.Code)
	})

	t.Run("reports finished run", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		def := linearDefinition()
		graph, err := def.BuildGraph()
		require.NoError(t, err)
		_, err = engine.Execute(context.Background(), "wf-1", graph)
		require.NoError(t, err)

		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleCurrent(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var summary workflow.Summary
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &summary))
		assert.Equal(t, workflow.RunStatusCompleted, summary.Status)
		assert.Equal(t, 2, summary.Total)
		assert.Equal(t, 2, summary.Completed)
	})
}

func TestHandleSnapshot(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current/snapshot", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("serves node detail", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		def := linearDefinition()
		graph, err := def.BuildGraph()
		require.NoError(t, err)
		_, err = engine.Execute(context.Background(), "wf-1", graph)
		require.NoError(t, err)

		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current/snapshot", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var snap workflow.RunSnapshot
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &snap))
		assert.Equal(t, workflow.RunStatusCompleted, snap.Status)
		require.Len(t, snap.Nodes, 2)
		assert.Equal(t, "render", snap.Nodes[1].ID)
		assert.Equal(t, workflow.StatusSuccess, snap.Nodes[1].Status)
	})
}

func TestHandleCancel(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleCancel(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs/current/cancel", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("finished run conflicts", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		def := linearDefinition()
		graph, err := def.BuildGraph()
		require.NoError(t, err)
		_, err = engine.Execute(context.Background(), "wf-1", graph)
		require.NoError(t, err)

		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleCancel(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs/current/cancel", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
		env := decodeEnvelope(t, rec)
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrInvalidTransition), env.Error.Code)
	})

	t.Run("cancels active run", func(t *testing.T) {
		release := make(chan struct{})
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(gatedProvider(release)))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleStart(rec, startRequest(t, linearDefinition(), ""))
		require.Equal(t, http.StatusAccepted, rec.Code)

		// Wait until the background loop has dispatched the first node,
		// so cancellation hits an executing run.
		require.Eventually(t, func() bool {
			snap, ok := engine.Snapshot()
			if !ok {
				return false
			}
			for _, n := range snap.Nodes {
				if n.ID == "ingest" && n.Status != workflow.StatusPending {
					return true
				}
			}
			return false
		}, 2*time.Second, 5*time.Millisecond)

		cancelRec := httptest.NewRecorder()
		h.HandleCancel(cancelRec, httptest.NewRequest(http.MethodPost, "/api/v1/runs/current/cancel", nil))
		assert.Equal(t, http.StatusAccepted, cancelRec.Code)

		close(release)
		waitTerminal(t, engine)

		snap, ok := engine.Snapshot()
		require.True(t, ok)
		assert.Equal(t, workflow.RunStatusCancelled, snap.Status)
	})
}

func TestHandleList(t *testing.T) {
	seedStore := func(t *testing.T) *history.MemoryStore {
		t.Helper()
		store := history.NewMemoryStore(history.Config{})
		base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
		records := []*history.Record{
			{RunID: "run-1", WorkflowID: "wf-a", Status: workflow.RunStatusCompleted, StartedAt: base},
			{RunID: "run-2", WorkflowID: "wf-a", Status: workflow.RunStatusFailed, StartedAt: base.Add(time.Hour)},
			{RunID: "run-3", WorkflowID: "wf-b", Status: workflow.RunStatusCompleted, StartedAt: base.Add(2 * time.Hour)},
		}
		for _, rec := range records {
			require.NoError(t, store.SaveRun(context.Background(), rec))
		}
		return store
	}

	t.Run("store not configured", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("lists newest first by default", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, seedStore(t), zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp api.RunListResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		require.Equal(t, 3, resp.Count)
		assert.Equal(t, "run-3", resp.Runs[0].RunID)
		assert.Equal(t, "run-1", resp.Runs[2].RunID)
	})

	t.Run("filters by workflow and status", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, seedStore(t), zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet,
			"/api/v1/runs?workflow_id=wf-a&status=failed", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp api.RunListResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "run-2", resp.Runs[0].RunID)
	})

	t.Run("ascending order with limit", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, seedStore(t), zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet,
			"/api/v1/runs?order=asc&limit=2", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp api.RunListResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, "run-1", resp.Runs[0].RunID)
		assert.Equal(t, "run-2", resp.Runs[1].RunID)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, seedStore(t), zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=paused", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed limit", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, seedStore(t), zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=nope", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed since", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, seedStore(t), zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?since=yesterday", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("time window", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, seedStore(t), zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleList(rec, httptest.NewRequest(http.MethodGet,
			"/api/v1/runs?since=2026-08-20T10%3A30%3A00Z&until=2026-08-20T11%3A30%3A00Z", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp api.RunListResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "run-2", resp.Runs[0].RunID)
	})
}

func TestHandleGet(t *testing.T) {
	t.Run("store not configured", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, nil, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil)
		req.SetPathValue("id", "run-1")
		rec := httptest.NewRecorder()
		h.HandleGet(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		h := NewRunsHandler(engine, history.NewMemoryStore(history.Config{}), zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/ghost", nil)
		req.SetPathValue("id", "ghost")
		rec := httptest.NewRecorder()
		h.HandleGet(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		env := decodeEnvelope(t, rec)
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrNotFound), env.Error.Code)
	})

	t.Run("serves record", func(t *testing.T) {
		engine := workflow.NewEngine(workflow.NewSimulatedExecutor(nil))
		store := history.NewMemoryStore(history.Config{})
		require.NoError(t, store.SaveRun(context.Background(), &history.Record{
			RunID:      "run-42",
			WorkflowID: "wf-a",
			Status:     workflow.RunStatusCompleted,
			StartedAt:  time.Now().Add(-time.Minute),
		}))
		h := NewRunsHandler(engine, store, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-42", nil)
		req.SetPathValue("id", "run-42")
		rec := httptest.NewRecorder()
		h.HandleGet(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var record history.Record
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &record))
		assert.Equal(t, "run-42", record.RunID)
		assert.Equal(t, workflow.RunStatusCompleted, record.Status)
	})
}
