package errdefs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeSpawnFailed, "failed to spawn worker").
		WithContext("node_id", "stt-1").
		WithCause(errors.New("exec: not found")).
		WithSuggestion("check the executable path")

	msg := err.Error()
	assert.Contains(t, msg, "[SPAWN_FAILED]")
	assert.Contains(t, msg, "failed to spawn worker")
	assert.Contains(t, msg, "node_id=stt-1")
	assert.Contains(t, msg, "Cause: exec: not found")
	assert.Contains(t, msg, "Suggestion: check the executable path")
}

func TestSentinelMatching(t *testing.T) {
	err := SessionNotFound("sess-1")
	require.True(t, errors.Is(err, ErrSessionNotFound))
	require.False(t, errors.Is(err, ErrSessionExists))

	// Sentinels survive further wrapping.
	wrapped := fmt.Errorf("terminate: %w", err)
	require.True(t, errors.Is(wrapped, ErrSessionNotFound))
}

func TestCodeMatching(t *testing.T) {
	err := ProcessLimitExceeded("sess-1", 3)
	require.True(t, IsCode(err, CodeProcessLimitExceeded))
	require.Equal(t, CodeProcessLimitExceeded, CodeOf(err))

	wrapped := fmt.Errorf("spawn node: %w", err)
	require.True(t, IsCode(wrapped, CodeProcessLimitExceeded))
	require.Equal(t, CodeProcessLimitExceeded, CodeOf(wrapped))

	require.False(t, IsCode(errors.New("plain"), CodeProcessLimitExceeded))
	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"session exists is validation", SessionExists("s"), ClassValidation},
		{"spawn failure is spawn", SpawnFailed("stt", "n1", errors.New("boom")), ClassSpawn},
		{"crash is runtime", WorkerCrashed("s", "n1", 42, "tail"), ClassRuntime},
		{"init timeout is timeout", InitTimeout("s", "n1", 5*time.Second), ClassTimeout},
		{"channel full is resource", ChannelFull("s", "n1", 16), ClassResource},
		{"plain error is internal", errors.New("plain"), ClassInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := EngineUnavailable("podman", cause)
	require.True(t, errors.Is(err, ErrEngineUnavailable))
	require.True(t, errors.Is(err, cause))
}
