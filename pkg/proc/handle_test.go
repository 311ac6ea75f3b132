package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/nodespec"
)

func testSpec() *nodespec.Spec {
	return &nodespec.Spec{
		NodeType:   "test-node",
		Runtime:    nodespec.RuntimeProcess,
		Executable: "/bin/true",
	}
}

// TestHandle_AdvanceForward tests the forward-only lifecycle
func TestHandle_AdvanceForward(t *testing.T) {
	h := newHandle("sess-1", "node-1", "test-node", testSpec())
	require.Equal(t, StateIdle, h.State())

	require.NoError(t, h.Advance(StateInitializing))
	require.NoError(t, h.Advance(StateReady))
	require.NoError(t, h.Advance(StateProcessing))
	require.NoError(t, h.Advance(StateStopping))
	assert.Equal(t, StateStopping, h.State())
}

// TestHandle_AdvanceSkipsStates tests that forward jumps are allowed
func TestHandle_AdvanceSkipsStates(t *testing.T) {
	h := newHandle("sess-1", "node-1", "test-node", testSpec())

	require.NoError(t, h.Advance(StateReady))
	require.NoError(t, h.Advance(StateStopping))
	assert.Equal(t, StateStopping, h.State())
}

// TestHandle_AdvanceRejectsBackward tests that regressions are refused
func TestHandle_AdvanceRejectsBackward(t *testing.T) {
	h := newHandle("sess-1", "node-1", "test-node", testSpec())
	require.NoError(t, h.Advance(StateProcessing))

	err := h.Advance(StateReady)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateProcessing, h.State(), "failed transition must not change state")

	err = h.Advance(StateProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition, "self transition should be rejected")
}

// TestHandle_TerminalAbsorbs tests that terminal states reject everything
func TestHandle_TerminalAbsorbs(t *testing.T) {
	h := newHandle("sess-1", "node-1", "test-node", testSpec())
	h.setExit(ExitStatus{Class: ExitNormal})
	require.Equal(t, StateStopped, h.State())

	for _, to := range []NodeState{StateInitializing, StateReady, StateProcessing, StateStopping, StateError} {
		err := h.Advance(to)
		assert.ErrorIs(t, err, ErrInvalidTransition, "Stopped should absorb %s", to)
	}
	assert.Equal(t, StateStopped, h.State())
}

// TestHandle_ExitSettlement tests crash vs deliberate-stop terminal settling
func TestHandle_ExitSettlement(t *testing.T) {
	crashed := newHandle("sess-1", "node-1", "test-node", testSpec())
	require.NoError(t, crashed.Advance(StateProcessing))
	crashed.setExit(ExitStatus{Class: ExitErrored, Code: 2})
	assert.Equal(t, StateError, crashed.State())

	stopping := newHandle("sess-1", "node-2", "test-node", testSpec())
	require.NoError(t, stopping.Advance(StateStopping))
	stopping.setExit(ExitStatus{Class: ExitKilled, Code: -1, Signal: "killed"})
	assert.Equal(t, StateStopped, stopping.State(), "a requested stop settles in Stopped regardless of exit class")

	clean := newHandle("sess-1", "node-3", "test-node", testSpec())
	clean.setExit(ExitStatus{Class: ExitNormal})
	assert.Equal(t, StateStopped, clean.State())
}

// TestHandle_ExitStatusBeforeExit tests the not-yet-exited case
func TestHandle_ExitStatusBeforeExit(t *testing.T) {
	h := newHandle("sess-1", "node-1", "test-node", testSpec())

	_, ok := h.ExitStatus()
	assert.False(t, ok)
	assert.False(t, h.Alive(), "never-spawned handle is not alive")
}
