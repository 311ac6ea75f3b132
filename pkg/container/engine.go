package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/nodespec"
)

// CreateRequest describes a container to create and start detached.
type CreateRequest struct {
	Name   string
	Image  string
	Cmd    []string
	Env    map[string]string
	Mounts []nodespec.Mount
	Labels map[string]string
}

// Engine is the interface over the container runtime CLI. All methods block
// until the operation completes.
type Engine interface {
	// Create creates and starts a detached container, returning its id.
	Create(ctx context.Context, req CreateRequest) (string, error)

	// Stop stops a running container, waiting up to timeout before the
	// engine escalates to a kill.
	Stop(ctx context.Context, nameOrID string, timeout time.Duration) error

	// Remove deletes a container; force also removes a running one.
	Remove(ctx context.Context, nameOrID string, force bool) error

	// Running reports whether the container exists and is running.
	Running(ctx context.Context, nameOrID string) (bool, error)
}

// CLIEngine implements Engine over the podman or docker command line.
type CLIEngine struct {
	binary string
	name   string
	logger *slog.Logger
}

// NewCLIEngine locates a container runtime binary and verifies it is
// usable. With an empty binary it autodetects, preferring podman over
// docker; a configured binary is used as given, with no fallback.
func NewCLIEngine(ctx context.Context, binary string, logger *slog.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	candidates := []string{"podman", "docker"}
	if binary != "" {
		candidates = []string{binary}
	}

	var lastErr error
	for _, candidate := range candidates {
		path, err := exec.LookPath(candidate)
		if err != nil {
			lastErr = err
			continue
		}

		name := filepath.Base(candidate)
		engine := &CLIEngine{
			binary: path,
			name:   name,
			logger: logger.With("component", "container-engine", "engine", name),
		}
		if err := engine.Preflight(ctx); err != nil {
			logger.Warn("container runtime found but not usable", "engine", name, "error", err)
			lastErr = err
			continue
		}

		engine.logger.Info("container engine selected", "path", path)
		return engine, nil
	}

	return nil, errdefs.EngineUnavailable(strings.Join(candidates, ", "), lastErr)
}

// Name returns the engine binary name, podman or docker.
func (e *CLIEngine) Name() string { return e.name }

// Preflight checks that the engine daemon/runtime is reachable.
func (e *CLIEngine) Preflight(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.binary, "info")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s info: %w", e.name, err)
	}
	return nil
}

// createArgs returns the CLI arguments for a detached run invocation.
func createArgs(req CreateRequest) []string {
	args := []string{"run", "-d", "--name", req.Name}
	for _, k := range sortedKeys(req.Labels) {
		args = append(args, "--label", k+"="+req.Labels[k])
	}
	for _, k := range sortedKeys(req.Env) {
		args = append(args, "-e", k+"="+req.Env[k])
	}
	for _, m := range req.Mounts {
		args = append(args, "-v", m.String())
	}
	args = append(args, req.Image)
	args = append(args, req.Cmd...)
	return args
}

// stopArgs returns the CLI arguments for a stop invocation.
func stopArgs(nameOrID string, timeout time.Duration) []string {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{"stop", "-t", strconv.Itoa(secs), nameOrID}
}

// removeArgs returns the CLI arguments for an rm invocation.
func removeArgs(nameOrID string, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, nameOrID)
}

// Create creates and starts a detached container, returning the id the
// engine printed.
func (e *CLIEngine) Create(ctx context.Context, req CreateRequest) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary, createArgs(req)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", e.cliError("run", err, &stderr)
	}

	id := strings.TrimSpace(stdout.String())
	e.logger.Debug("container created", "name", req.Name, "id", id, "image", req.Image)
	return id, nil
}

// Stop stops a running container.
func (e *CLIEngine) Stop(ctx context.Context, nameOrID string, timeout time.Duration) error {
	cmd := exec.CommandContext(ctx, e.binary, stopArgs(nameOrID, timeout)...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return e.cliError("stop", err, &stderr)
	}
	return nil
}

// Remove deletes a container.
func (e *CLIEngine) Remove(ctx context.Context, nameOrID string, force bool) error {
	cmd := exec.CommandContext(ctx, e.binary, removeArgs(nameOrID, force)...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return e.cliError("rm", err, &stderr)
	}
	return nil
}

// Running reports whether the container exists and is running. A container
// the engine does not know simply reports false.
func (e *CLIEngine) Running(ctx context.Context, nameOrID string) (bool, error) {
	cmd := exec.CommandContext(ctx, e.binary, "inspect", "--format", "{{.State.Running}}", nameOrID)
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, nil
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func (e *CLIEngine) cliError(op string, err error, stderr *bytes.Buffer) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s %s: exit code %d: %s",
			filepath.Base(e.binary), op, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	return fmt.Errorf("%s %s: %w", filepath.Base(e.binary), op, err)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compile-time interface compliance check
var _ Engine = (*CLIEngine)(nil)
