package history

import (
	"time"

	"github.com/canvasflow/canvasflow/workflow"
)

// Record is the durable form of a workflow run: the final status, one
// StepRecord per node in declaration order, and the run totals.
type Record struct {
	RunID      string             `json:"run_id"`
	WorkflowID string             `json:"workflow_id"`
	Status     workflow.RunStatus `json:"status"`
	Steps      []StepRecord       `json:"steps"`

	TotalSteps     int `json:"total_steps"`
	CompletedCount int `json:"completed_count"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	TokensUsed int       `json:"tokens_used"`
	CostUSD    float64   `json:"cost_usd"`
	Error      string    `json:"error,omitempty"`

	// Set by the store on save.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepRecord is the persisted outcome of one node.
type StepRecord struct {
	ID         string              `json:"id"`
	Kind       workflow.NodeKind   `json:"kind"`
	Label      string              `json:"label,omitempty"`
	Status     workflow.NodeStatus `json:"status"`
	RetryCount int                 `json:"retry_count"`
	Error      string              `json:"error,omitempty"`
	Result     any                 `json:"result,omitempty"`
	DurationMs int64               `json:"duration_ms"`
	TokensUsed int                 `json:"tokens_used,omitempty"`
	CostUSD    float64             `json:"cost_usd,omitempty"`
}

// RecordFromSnapshot converts a run snapshot into its persisted form.
// It is typically installed as the engine's finalize hook.
func RecordFromSnapshot(snap workflow.RunSnapshot) *Record {
	rec := &Record{
		RunID:          snap.RunID,
		WorkflowID:     snap.WorkflowID,
		Status:         snap.Status,
		Steps:          make([]StepRecord, 0, len(snap.Nodes)),
		TotalSteps:     len(snap.Nodes),
		CompletedCount: snap.CompletedCount,
		StartedAt:      snap.StartedAt,
		FinishedAt:     snap.FinishedAt,
		DurationMs:     snap.Elapsed().Milliseconds(),
		TokensUsed:     snap.TokensUsed,
		CostUSD:        snap.CostUSD,
		Error:          snap.Error,
	}
	for _, n := range snap.Nodes {
		rec.Steps = append(rec.Steps, StepRecord{
			ID:         n.ID,
			Kind:       n.Kind,
			Label:      n.Label,
			Status:     n.Status,
			RetryCount: n.RetryCount,
			Error:      n.Error,
			Result:     n.Result,
			DurationMs: n.Duration.Milliseconds(),
			TokensUsed: n.TokensUsed,
			CostUSD:    n.CostUSD,
		})
	}
	return rec
}

// Step returns the step record with the given node id, if present.
func (r *Record) Step(id string) (StepRecord, bool) {
	for _, s := range r.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepRecord{}, false
}
