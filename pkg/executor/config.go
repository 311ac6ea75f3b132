package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
)

// EventsConfig configures the optional NATS lifecycle event stream. An
// empty URL disables publishing.
type EventsConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Config holds the runtime configuration for the executor.
type Config struct {
	// ManifestDir is scanned for per-node-type manifest.yaml files.
	// Empty disables manifest discovery; every node type then runs as a
	// plain process worker.
	ManifestDir string `yaml:"manifest_dir"`

	// RuntimeDir roots the per-session channel sockets, params files, and
	// artifact spill directories. Keep it short, Unix socket paths have a
	// hard length limit around 100 bytes.
	RuntimeDir string `yaml:"runtime_dir"`

	// WorkerExecutable is the interpreter launched for process workers.
	WorkerExecutable string `yaml:"worker_executable"`

	// MaxSessions caps live sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// MaxProcessesPerSession caps worker processes per session.
	MaxProcessesPerSession int `yaml:"max_processes_per_session"`

	// ChannelCapacity is the default per-channel send queue depth.
	ChannelCapacity int `yaml:"channel_capacity"`

	// InlineMaxBytes is the largest payload carried inline on a channel;
	// larger payloads spill to the artifact directory.
	InlineMaxBytes int `yaml:"inline_max_bytes"`

	// EnableBackpressure makes a full channel block the sender instead of
	// failing fast.
	EnableBackpressure bool `yaml:"enable_backpressure"`

	// InitTimeoutSecs bounds worker initialization. A node that has not
	// reported ready within the window fails its session.
	InitTimeoutSecs int `yaml:"init_timeout_secs"`

	// GracePeriodSecs is the window between SIGTERM and SIGKILL during
	// worker termination.
	GracePeriodSecs int `yaml:"grace_period_secs"`

	// ContainerStopTimeoutSecs is passed to the engine when stopping a
	// shared container.
	ContainerStopTimeoutSecs int `yaml:"container_stop_timeout_secs"`

	// EnableContainers turns on the container engine. When off, manifests
	// declaring a container runtime fail to spawn.
	EnableContainers bool `yaml:"enable_containers"`

	// EngineBinary pins the container runtime command. Empty autodetects,
	// preferring podman over docker.
	EngineBinary string `yaml:"engine_binary"`

	// HealthCheckSecs is the container health probe interval.
	HealthCheckSecs int `yaml:"health_check_secs"`

	// OrphanSweepSecs is the orphaned worker sweep interval. Zero
	// disables the sweep.
	OrphanSweepSecs int `yaml:"orphan_sweep_secs"`

	// WatchManifests reloads the manifest directory on file changes.
	WatchManifests bool `yaml:"watch_manifests"`

	// JournalPath is the SQLite lifecycle journal. Empty disables it.
	JournalPath string `yaml:"journal_path"`

	// EnableTracing exports OpenTelemetry spans for session and node
	// lifecycle operations.
	EnableTracing bool `yaml:"enable_tracing"`

	// TraceExporter selects the span exporter when tracing is enabled.
	TraceExporter string `yaml:"trace_exporter"`

	// Events configures lifecycle event publishing.
	Events EventsConfig `yaml:"events"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		RuntimeDir:               filepath.Join(os.TempDir(), "remotemedia"),
		WorkerExecutable:         "python3",
		MaxProcessesPerSession:   32,
		ChannelCapacity:          64,
		InlineMaxBytes:           256 << 10,
		EnableBackpressure:       true,
		InitTimeoutSecs:          120,
		GracePeriodSecs:          10,
		ContainerStopTimeoutSecs: 10,
		HealthCheckSecs:          30,
		OrphanSweepSecs:          60,
		WatchManifests:           true,
		TraceExporter:            "stdout",
		Events: EventsConfig{
			SubjectPrefix: "remotemedia.runtime",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects unusable settings.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.RuntimeDir == "" {
		c.RuntimeDir = def.RuntimeDir
	}
	if c.WorkerExecutable == "" {
		return errdefs.Validation("worker_executable", c.WorkerExecutable,
			"worker_executable is required")
	}
	if c.MaxSessions < 0 {
		return errdefs.Validation("max_sessions", c.MaxSessions, "must be >= 0")
	}
	if c.MaxProcessesPerSession <= 0 {
		c.MaxProcessesPerSession = def.MaxProcessesPerSession
	}
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = def.ChannelCapacity
	}
	if c.InlineMaxBytes <= 0 {
		c.InlineMaxBytes = def.InlineMaxBytes
	}
	if c.InitTimeoutSecs <= 0 {
		c.InitTimeoutSecs = def.InitTimeoutSecs
	}
	if c.GracePeriodSecs <= 0 {
		c.GracePeriodSecs = def.GracePeriodSecs
	}
	if c.ContainerStopTimeoutSecs <= 0 {
		c.ContainerStopTimeoutSecs = def.ContainerStopTimeoutSecs
	}
	if c.HealthCheckSecs <= 0 {
		c.HealthCheckSecs = def.HealthCheckSecs
	}
	if c.OrphanSweepSecs < 0 {
		return errdefs.Validation("orphan_sweep_secs", c.OrphanSweepSecs, "must be >= 0")
	}
	if c.TraceExporter == "" {
		c.TraceExporter = def.TraceExporter
	}
	if c.Events.URL != "" && c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = def.Events.SubjectPrefix
	}
	return nil
}

// InitTimeout returns the default initialization deadline as a duration.
func (c *Config) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSecs) * time.Second
}

// GracePeriod returns the termination grace window as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSecs) * time.Second
}

// ContainerStopTimeout returns the container stop window as a duration.
func (c *Config) ContainerStopTimeout() time.Duration {
	return time.Duration(c.ContainerStopTimeoutSecs) * time.Second
}
