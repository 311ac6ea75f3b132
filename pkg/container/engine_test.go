package container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/nodespec"
)

// TestContainerName tests deterministic name derivation
func TestContainerName(t *testing.T) {
	cases := []struct {
		nodeType string
		want     string
	}{
		{"stt", "remotemedia-node-stt"},
		{"STT Node!", "remotemedia-node-stt-node"},
		{"a.b_c-d", "remotemedia-node-a.b_c-d"},
		{"  whisper/v2  ", "remotemedia-node-whisper-v2"},
		{"", "remotemedia-node-node"},
		{"!!!", "remotemedia-node-node"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ContainerName(tc.nodeType), "nodeType=%q", tc.nodeType)
	}
}

// TestCreateArgs tests the full run invocation line
func TestCreateArgs(t *testing.T) {
	req := CreateRequest{
		Name:  "remotemedia-node-stt",
		Image: "stt:1",
		Cmd:   []string{"--serve"},
		Env: map[string]string{
			"B_VAR": "2",
			"A_VAR": "1",
		},
		Labels: map[string]string{"remotemedia.node-type": "stt"},
		Mounts: []nodespec.Mount{
			{Source: "/run/remotemedia", Target: "/ipc"},
			{Source: "/models", Target: "/models", ReadOnly: true},
		},
	}

	want := []string{
		"run", "-d", "--name", "remotemedia-node-stt",
		"--label", "remotemedia.node-type=stt",
		"-e", "A_VAR=1",
		"-e", "B_VAR=2",
		"-v", "/run/remotemedia:/ipc",
		"-v", "/models:/models:ro",
		"stt:1",
		"--serve",
	}
	assert.Equal(t, want, createArgs(req))
}

// TestCreateArgs_Minimal tests the bare invocation
func TestCreateArgs_Minimal(t *testing.T) {
	args := createArgs(CreateRequest{Name: "n", Image: "img"})
	assert.Equal(t, []string{"run", "-d", "--name", "n", "img"}, args)
}

// TestStopArgs tests timeout flag rendering
func TestStopArgs(t *testing.T) {
	assert.Equal(t, []string{"stop", "-t", "10", "c1"}, stopArgs("c1", 10*time.Second))
	assert.Equal(t, []string{"stop", "-t", "1", "c1"}, stopArgs("c1", 0), "zero timeout uses the floor")
	assert.Equal(t, []string{"stop", "-t", "1", "c1"}, stopArgs("c1", 1500*time.Millisecond))
}

// TestRemoveArgs tests force flag rendering
func TestRemoveArgs(t *testing.T) {
	assert.Equal(t, []string{"rm", "c1"}, removeArgs("c1", false))
	assert.Equal(t, []string{"rm", "-f", "c1"}, removeArgs("c1", true))
}
