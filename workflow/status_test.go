package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeStatus_Transitions(t *testing.T) {
	cases := []struct {
		from    NodeStatus
		to      NodeStatus
		allowed bool
	}{
		{StatusIdle, StatusPending, true},
		{StatusIdle, StatusConnecting, true},
		{StatusPending, StatusConnecting, true},
		{StatusPending, StatusSkipped, true},
		{StatusConnecting, StatusSuccess, true},
		{StatusConnecting, StatusError, true},
		{StatusConnecting, StatusRetrying, true},
		{StatusRetrying, StatusConnecting, true},
		{StatusRetrying, StatusSuccess, true},
		{StatusRetrying, StatusError, true},

		{StatusPending, StatusSuccess, false},
		{StatusIdle, StatusSuccess, false},
		{StatusSuccess, StatusConnecting, false},
		{StatusSuccess, StatusError, false},
		{StatusError, StatusConnecting, false},
		{StatusSkipped, StatusConnecting, false},
		{StatusConnecting, StatusPending, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestNodeStatus_Terminal(t *testing.T) {
	terminal := []NodeStatus{StatusSuccess, StatusError, StatusSkipped}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s", s)
	}

	live := []NodeStatus{StatusIdle, StatusPending, StatusConnecting, StatusRetrying}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), "%s", s)
	}
}

func TestNodeStatus_Valid(t *testing.T) {
	assert.True(t, StatusRetrying.Valid())
	assert.False(t, NodeStatus("finished").Valid())
}

func TestEdgeStatus_MonotonicAdvance(t *testing.T) {
	assert.True(t, EdgeStatusIdle.canAdvanceTo(EdgeStatusConnecting))
	assert.True(t, EdgeStatusIdle.canAdvanceTo(EdgeStatusSuccess))
	assert.True(t, EdgeStatusConnecting.canAdvanceTo(EdgeStatusSuccess))
	assert.True(t, EdgeStatusConnecting.canAdvanceTo(EdgeStatusSkipped))

	// Completed edges never move again, in either direction.
	assert.False(t, EdgeStatusSuccess.canAdvanceTo(EdgeStatusConnecting))
	assert.False(t, EdgeStatusSuccess.canAdvanceTo(EdgeStatusSkipped))
	assert.False(t, EdgeStatusSkipped.canAdvanceTo(EdgeStatusSuccess))
	assert.False(t, EdgeStatusConnecting.canAdvanceTo(EdgeStatusIdle))
}
