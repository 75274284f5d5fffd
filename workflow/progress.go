package workflow

import (
	"math"
)

// Summary is a flat progress report over one run, shaped for status
// endpoints and dashboards.
type Summary struct {
	RunID           string    `json:"run_id"`
	Status          RunStatus `json:"status"`
	Total           int       `json:"total"`
	Completed       int       `json:"completed"`
	Failed          int       `json:"failed"`
	Running         int       `json:"running"`
	Pending         int       `json:"pending"`
	Skipped         int       `json:"skipped"`
	ProgressPercent int       `json:"progress_percent"`
	ElapsedMs       int64     `json:"elapsed_ms"`
	TokensUsed      int       `json:"tokens_used"`
	CostUSD         float64   `json:"cost_usd"`
}

// Summarize reduces a snapshot to counters. Completed counts successful
// nodes only; failed and skipped are reported separately so a caller can
// distinguish a clean finish from one with failures. The elapsed figure
// comes from the snapshot, so it stops moving once the run has finished.
func Summarize(snap RunSnapshot) Summary {
	s := Summary{
		RunID:      snap.RunID,
		Status:     snap.Status,
		Total:      len(snap.Nodes),
		ElapsedMs:  snap.Elapsed().Milliseconds(),
		TokensUsed: snap.TokensUsed,
		CostUSD:    snap.CostUSD,
	}
	for _, n := range snap.Nodes {
		switch n.Status {
		case StatusSuccess:
			s.Completed++
		case StatusError:
			s.Failed++
		case StatusConnecting, StatusRetrying:
			s.Running++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Pending++
		}
	}
	if s.Total > 0 {
		s.ProgressPercent = int(math.Round(100 * float64(s.Completed) / float64(s.Total)))
	}
	return s
}
