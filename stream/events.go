package stream

import (
	"encoding/json"
	"time"

	"github.com/canvasflow/canvasflow/types"
)

// EventType identifies the kind of an execution event.
type EventType string

const (
	// EventConnected confirms a subscription, sent by the service after
	// every successful (re)connect.
	EventConnected EventType = "connected"
	// EventWorkflowStarted announces that execution of a run began.
	EventWorkflowStarted EventType = "workflow_started"
	// EventStepStarted announces that a step began executing.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted carries a step's successful result.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed carries a step's terminal failure.
	EventStepFailed EventType = "step_failed"
	// EventWorkflowCompleted carries final run totals on success.
	EventWorkflowCompleted EventType = "workflow_completed"
	// EventWorkflowFailed announces a run-level failure.
	EventWorkflowFailed EventType = "workflow_failed"
)

// Known reports whether the event type is one this package understands.
// Unknown types are skipped by consumers, never treated as fatal, so a
// newer service can add event kinds without breaking older clients.
func (t EventType) Known() bool {
	switch t {
	case EventConnected, EventWorkflowStarted,
		EventStepStarted, EventStepCompleted, EventStepFailed,
		EventWorkflowCompleted, EventWorkflowFailed:
		return true
	}
	return false
}

// Event is one execution event on the wire. The type field discriminates;
// the remaining fields are populated per type and omitted otherwise.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id,omitempty"`
	StepID      string    `json:"step_id,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Integration string    `json:"integration,omitempty"`
	Action      string    `json:"action,omitempty"`
	Result      any       `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	RetryCount  int       `json:"retry_count,omitempty"`
	TotalSteps  int       `json:"total_steps,omitempty"`
	TotalTokens int       `json:"total_tokens,omitempty"`
	TotalCost   float64   `json:"total_cost,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// ParseEvent decodes one event frame. Malformed JSON or a missing type
// field is an error; an unrecognized type is not, so callers can log and
// skip it.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, types.NewError(types.ErrUnknownEvent, "malformed event frame").WithCause(err)
	}
	if ev.Type == "" {
		return Event{}, types.NewError(types.ErrUnknownEvent, "event frame missing type")
	}
	return ev, nil
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
