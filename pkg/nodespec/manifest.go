package nodespec

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the declarative per-node-type configuration loaded from a
// manifest.yaml in the manifest directory. Manifests are optional: node types
// without one run as plain process workers with runtime defaults.
type Manifest struct {
	// Name of the node type (e.g., "whisper-stt", "vad")
	Name string `yaml:"name"`

	// Version of the node type definition
	Version string `yaml:"version"`

	// Runtime is "process" or "container" (default: process)
	Runtime string `yaml:"runtime"`

	// Entrypoint overrides the worker bootstrap module for process workers
	Entrypoint string `yaml:"entrypoint"`

	// Args are extra arguments passed before runtime-injected ones
	Args []string `yaml:"args"`

	// Image is the container image (required for container runtime)
	Image string `yaml:"image"`

	// Environment variables for the worker
	Environment map[string]string `yaml:"environment"`

	// Mounts for container workers
	Mounts []Mount `yaml:"mounts"`

	// WorkingDir for the worker process
	WorkingDir string `yaml:"working_dir"`

	// ExtraPaths prepended to the worker's PATH
	ExtraPaths []string `yaml:"extra_paths"`

	// CaptureOutput controls stderr capture (default: true)
	CaptureOutput *bool `yaml:"capture_output"`

	// ChannelCapacity overrides the runtime default when > 0
	ChannelCapacity int `yaml:"channel_capacity"`

	// InitTimeoutSecs overrides the runtime default when > 0
	InitTimeoutSecs int `yaml:"init_timeout_secs"`

	// Optional: description of the node type
	Description string `yaml:"description"`

	// Internal: absolute path to manifest file (populated during load)
	manifestPath string `yaml:"-"`
}

// LoadManifest loads a manifest from a YAML file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	manifest.manifestPath = absPath

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}

	return &manifest, nil
}

// Validate checks the manifest and applies defaults in place.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	if m.Runtime == "" {
		m.Runtime = string(RuntimeProcess)
	}

	switch RuntimeKind(m.Runtime) {
	case RuntimeProcess:
		// Entrypoint is optional; the runtime's worker bootstrap is used
		// when absent.
	case RuntimeContainer:
		if m.Image == "" {
			return fmt.Errorf("image is required for container runtime")
		}
	default:
		return fmt.Errorf("invalid runtime: %q (must be process or container)", m.Runtime)
	}

	for _, mount := range m.Mounts {
		if mount.Source == "" || mount.Target == "" {
			return fmt.Errorf("mount requires source and target, got %q", mount)
		}
	}

	if m.ChannelCapacity < 0 {
		return fmt.Errorf("channel_capacity must be >= 0, got %d", m.ChannelCapacity)
	}

	if m.InitTimeoutSecs < 0 {
		return fmt.Errorf("init_timeout_secs must be >= 0, got %d", m.InitTimeoutSecs)
	}

	return nil
}

// ManifestPath returns the absolute path to the manifest file
func (m *Manifest) ManifestPath() string {
	return m.manifestPath
}

// captureOutput resolves the capture flag with its default.
func (m *Manifest) captureOutput() bool {
	if m.CaptureOutput == nil {
		return true
	}
	return *m.CaptureOutput
}

// SpawnSpec builds the immutable spawn configuration for this node type.
// workerExecutable is the configured interpreter for process workers; the
// manifest's entrypoint and arguments layer on top of it.
func (m *Manifest) SpawnSpec(workerExecutable string) *Spec {
	args := make([]string, 0, len(m.Args)+1)
	if m.Entrypoint != "" {
		args = append(args, m.Entrypoint)
	}
	args = append(args, m.Args...)

	env := make(map[string]string, len(m.Environment))
	for k, v := range m.Environment {
		env[k] = v
	}

	var initTimeout time.Duration
	if m.InitTimeoutSecs > 0 {
		initTimeout = time.Duration(m.InitTimeoutSecs) * time.Second
	}

	return &Spec{
		NodeType:        m.Name,
		Runtime:         RuntimeKind(m.Runtime),
		Executable:      workerExecutable,
		Args:            args,
		Env:             env,
		ExtraPaths:      append([]string{}, m.ExtraPaths...),
		WorkingDir:      m.WorkingDir,
		CaptureOutput:   m.captureOutput(),
		Image:           m.Image,
		Mounts:          append([]Mount{}, m.Mounts...),
		ChannelCapacity: m.ChannelCapacity,
		InitTimeout:     initTimeout,
	}
}
