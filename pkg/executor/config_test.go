package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
)

// TestDefaultConfig tests the baseline configuration values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "python3", cfg.WorkerExecutable)
	assert.Equal(t, 64, cfg.ChannelCapacity)
	assert.Equal(t, 256<<10, cfg.InlineMaxBytes)
	assert.True(t, cfg.EnableBackpressure)
	assert.Equal(t, 120*time.Second, cfg.InitTimeout())
	assert.Equal(t, 10*time.Second, cfg.GracePeriod())
	assert.NoError(t, cfg.Validate())
}

// TestLoadConfig tests loading a YAML file over the defaults.
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	content := `
worker_executable: /usr/bin/python3.11
manifest_dir: /etc/remotemedia/nodes
max_sessions: 16
channel_capacity: 128
init_timeout_secs: 45
enable_containers: true
engine_binary: /usr/bin/podman
events:
  url: nats://localhost:4222
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/python3.11", cfg.WorkerExecutable)
	assert.Equal(t, "/etc/remotemedia/nodes", cfg.ManifestDir)
	assert.Equal(t, 16, cfg.MaxSessions)
	assert.Equal(t, 128, cfg.ChannelCapacity)
	assert.Equal(t, 45, cfg.InitTimeoutSecs)
	assert.True(t, cfg.EnableContainers)
	assert.Equal(t, "/usr/bin/podman", cfg.EngineBinary)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.URL)
	assert.Equal(t, "remotemedia.runtime", cfg.Events.SubjectPrefix)

	// Values the file left out keep their defaults.
	assert.True(t, cfg.EnableBackpressure)
	assert.Equal(t, 10, cfg.GracePeriodSecs)
}

// TestLoadConfig_Missing tests the error for an absent file.
func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// TestConfigValidate tests rejection and default filling.
func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerExecutable = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeValidationFailed))

	cfg = DefaultConfig()
	cfg.MaxSessions = -1
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ChannelCapacity = 0
	cfg.GracePeriodSecs = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.ChannelCapacity)
	assert.Equal(t, 10, cfg.GracePeriodSecs)
}
