// Package nodespec describes how node workers are launched: the immutable
// spawn configuration derived from runtime defaults plus per-node-type
// manifests, and the manifest registry that discovers node types on disk.
package nodespec

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RuntimeKind selects the execution environment for a node type.
type RuntimeKind string

const (
	// RuntimeProcess runs the node in a dedicated worker process per session.
	RuntimeProcess RuntimeKind = "process"

	// RuntimeContainer runs the node in a container that may be shared by
	// multiple sessions of the same node type.
	RuntimeContainer RuntimeKind = "container"
)

// Mount maps a host path into a container worker.
type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`
}

func (m Mount) String() string {
	s := fmt.Sprintf("%s:%s", m.Source, m.Target)
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

// Spec is the immutable description of how to launch one worker. One instance
// is derived from global configuration plus per-node-type overrides; identity
// (session, node id) and parameters are supplied at spawn time, not here.
type Spec struct {
	// NodeType names the pipeline node class the worker will host.
	NodeType string

	// Runtime selects process or container execution.
	Runtime RuntimeKind

	// Executable is the worker binary for process workers, typically the
	// configured Python interpreter.
	Executable string

	// Args are passed to the executable before the runtime-injected ones.
	Args []string

	// Env holds extra environment variables for the worker.
	Env map[string]string

	// ExtraPaths are prepended to the worker's PATH.
	ExtraPaths []string

	// WorkingDir is the working directory for the worker process.
	WorkingDir string

	// CaptureOutput controls whether the worker's stderr is drained and
	// logged by the monitor. Disabled only for workers that manage their
	// own logging sink.
	CaptureOutput bool

	// Image is the container image for container workers.
	Image string

	// Mounts are bind mounts for container workers. The runtime directory
	// is always mounted in addition, so the IPC socket is reachable.
	Mounts []Mount

	// ChannelCapacity overrides the runtime's channel_capacity when > 0.
	ChannelCapacity int

	// InitTimeout overrides the runtime's init_timeout_secs when > 0.
	InitTimeout time.Duration
}

// Validate checks the spec is launchable.
func (s *Spec) Validate() error {
	if s.NodeType == "" {
		return fmt.Errorf("node type is required")
	}

	switch s.Runtime {
	case RuntimeProcess:
		if s.Executable == "" {
			return fmt.Errorf("executable is required for process workers")
		}
	case RuntimeContainer:
		if s.Image == "" {
			return fmt.Errorf("image is required for container workers")
		}
	default:
		return fmt.Errorf("invalid runtime: %q (must be process or container)", s.Runtime)
	}

	for _, m := range s.Mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("mount requires source and target, got %q", m)
		}
		if !filepath.IsAbs(m.Target) {
			return fmt.Errorf("mount target must be absolute, got %q", m.Target)
		}
	}

	return nil
}

// PathEnv renders ExtraPaths as a PATH prefix for the given base PATH value.
func (s *Spec) PathEnv(base string) string {
	if len(s.ExtraPaths) == 0 {
		return base
	}
	parts := append(append([]string{}, s.ExtraPaths...), base)
	return strings.Join(parts, string(filepath.ListSeparator))
}
