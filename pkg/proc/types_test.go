package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNodeState_String tests state name rendering
func TestNodeState_String(t *testing.T) {
	cases := []struct {
		state NodeState
		want  string
	}{
		{StateIdle, "Idle"},
		{StateInitializing, "Initializing"},
		{StateReady, "Ready"},
		{StateProcessing, "Processing"},
		{StateStopping, "Stopping"},
		{StateStopped, "Stopped"},
		{StateError, "Error"},
		{NodeState(99), "Unknown"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.state.String())
	}
}

// TestNodeState_Terminal tests terminal state detection
func TestNodeState_Terminal(t *testing.T) {
	assert.True(t, StateStopped.Terminal())
	assert.True(t, StateError.Terminal())

	for _, s := range []NodeState{StateIdle, StateInitializing, StateReady, StateProcessing, StateStopping} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

// TestMakeProcessID tests the canonical process id format
func TestMakeProcessID(t *testing.T) {
	id := MakeProcessID("sess-1", "vad")
	assert.Equal(t, ProcessID("sess-1/vad"), id)
}

// TestExitStatus_String tests exit status rendering
func TestExitStatus_String(t *testing.T) {
	assert.Equal(t, "Normal", ExitStatus{Class: ExitNormal}.String())
	assert.Equal(t, "Errored(3)", ExitStatus{Class: ExitErrored, Code: 3}.String())
	assert.Equal(t, "Killed(killed)", ExitStatus{Class: ExitKilled, Code: -1, Signal: "killed"}.String())
	assert.Equal(t, "Timeout(killed)", ExitStatus{Class: ExitTimeout, Code: -1, Signal: "killed"}.String())
	assert.Equal(t, "Killed", ExitStatus{Class: ExitKilled, Code: -1}.String())
}
