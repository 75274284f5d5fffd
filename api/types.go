package api

import (
	"github.com/canvasflow/canvasflow/history"
	"github.com/canvasflow/canvasflow/workflow"
)

// StartRunRequest asks the service to execute a workflow definition.
type StartRunRequest struct {
	// WorkflowID overrides the definition name as the id stamped on
	// status reports and history records. Optional.
	WorkflowID string `json:"workflow_id,omitempty"`

	// Definition is the workflow to execute.
	Definition workflow.Definition `json:"definition"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	RunID      string             `json:"run_id"`
	WorkflowID string             `json:"workflow_id"`
	Status     workflow.RunStatus `json:"status"`
	TotalSteps int                `json:"total_steps"`
}

// RunListResponse pages run history records.
type RunListResponse struct {
	Runs  []*history.Record `json:"runs"`
	Count int               `json:"count"`
}

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}
