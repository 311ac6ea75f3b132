// Package proc spawns and monitors the worker processes that host pipeline
// nodes. Each worker belongs to one (session, node) pair; the Manager owns
// the active-process registry, the per-worker monitor goroutines, and the
// graceful-stop escalation ladder.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/nodespec"
)

// Environment variables exported to every worker. EnvWorkerMarker doubles as
// the orphan-scan discriminator: any process carrying it that the manager
// does not track is a leak.
const (
	EnvWorkerMarker = "REMOTEMEDIA_WORKER"
	EnvSessionID    = "REMOTEMEDIA_SESSION_ID"
	EnvNodeID       = "REMOTEMEDIA_NODE_ID"
	EnvNodeType     = "REMOTEMEDIA_NODE_TYPE"
	EnvProcessID    = "REMOTEMEDIA_PROCESS_ID"
	EnvSocketPath   = "REMOTEMEDIA_IPC_SOCKET"
	EnvParamsFile   = "REMOTEMEDIA_PARAMS_FILE"
)

// SpawnRequest describes one worker to launch. Node parameters travel
// through a params file referenced from the child environment, never argv,
// to avoid length and escaping limits.
type SpawnRequest struct {
	SessionID string
	NodeID    string
	NodeType  string
	Spec      *nodespec.Spec

	// Params is the opaque serialized node parameter blob.
	Params []byte

	// RuntimeDir receives the params file; created if missing. Defaults to
	// the system temp directory.
	RuntimeDir string

	// SocketPath is the IPC socket the worker should connect back to.
	SocketPath string
}

// Manager spawns workers per (node, session), monitors them to completion,
// exposes graceful and forced termination, and notifies registered observers
// on every exit.
type Manager struct {
	maxPerSession int
	defaultGrace  time.Duration
	logger        *slog.Logger
	metrics       MetricsCollector

	mu        sync.RWMutex
	processes map[ProcessID]*Handle
	bySession map[string]map[ProcessID]*Handle
	closed    bool

	observersMu sync.RWMutex
	observers   []ExitObserver

	wg sync.WaitGroup
}

// NewManager creates a process manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		defaultGrace: 10 * time.Second,
		logger:       slog.Default(),
		metrics:      NewNoopMetricsCollector(),
		processes:    make(map[ProcessID]*Handle),
		bySession:    make(map[string]map[ProcessID]*Handle),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With("component", "procmgr")
	return m
}

// OnExit registers an observer invoked with (handle, exit status) whenever
// any monitored worker terminates, for any reason.
func (m *Manager) OnExit(fn ExitObserver) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.observers = append(m.observers, fn)
}

// Spawn launches a worker process for the request, registers its handle, and
// starts a dedicated monitor goroutine. The handle starts in Initializing;
// readiness is reported by the worker through the status channel. Spawn
// failures are returned synchronously and nothing is retried here.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.NodeType == "" && req.Spec != nil {
		req.NodeType = req.Spec.NodeType
	}
	if err := validateSpawnRequest(req); err != nil {
		return nil, err
	}

	h := newHandle(req.SessionID, req.NodeID, req.NodeType, req.Spec)

	// Reserve the registry slot first so the per-session cap cannot be
	// raced past while the OS spawn is in flight.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errdefs.New(errdefs.CodeInternal, "process manager is shut down")
	}
	if _, exists := m.processes[h.id]; exists {
		m.mu.Unlock()
		return nil, errdefs.Validation("node_id", req.NodeID,
			fmt.Sprintf("node '%s' already has a worker in session '%s'", req.NodeID, req.SessionID))
	}
	if m.maxPerSession > 0 && len(m.bySession[req.SessionID]) >= m.maxPerSession {
		m.mu.Unlock()
		return nil, errdefs.ProcessLimitExceeded(req.SessionID, m.maxPerSession)
	}
	m.processes[h.id] = h
	if m.bySession[req.SessionID] == nil {
		m.bySession[req.SessionID] = make(map[ProcessID]*Handle)
	}
	m.bySession[req.SessionID][h.id] = h
	m.mu.Unlock()

	start := time.Now()
	cmd, paramsPath, stderr, err := m.launch(h, req)
	if err != nil {
		m.remove(h.id)
		m.metrics.ProcessSpawned(req.NodeType, time.Since(start), err)
		return nil, err
	}

	h.markSpawned(cmd, paramsPath)
	m.metrics.ProcessSpawned(req.NodeType, time.Since(start), nil)
	m.metrics.ActiveProcesses(m.ActiveCount())

	m.logger.Info("spawned worker",
		"session_id", req.SessionID,
		"node_id", req.NodeID,
		"node_type", req.NodeType,
		"pid", cmd.Process.Pid)

	m.wg.Add(1)
	go m.monitor(h, stderr)

	return h, nil
}

// launch builds and starts the worker command. The stderr pipe, when capture
// is enabled, is returned for the monitor to drain.
func (m *Manager) launch(h *Handle, req SpawnRequest) (*exec.Cmd, string, io.ReadCloser, error) {
	spec := req.Spec

	var paramsPath string
	if len(req.Params) > 0 {
		dir := req.RuntimeDir
		if dir == "" {
			dir = os.TempDir()
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", nil, errdefs.SpawnFailed(req.NodeType, req.NodeID, err)
		}
		paramsPath = filepath.Join(dir, req.NodeID+".params")
		if err := os.WriteFile(paramsPath, req.Params, 0o600); err != nil {
			return nil, "", nil, errdefs.SpawnFailed(req.NodeType, req.NodeID, err)
		}
	}

	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.WorkingDir

	env := os.Environ()
	env = append(env,
		fmt.Sprintf("%s=1", EnvWorkerMarker),
		fmt.Sprintf("%s=%s", EnvSessionID, req.SessionID),
		fmt.Sprintf("%s=%s", EnvNodeID, req.NodeID),
		fmt.Sprintf("%s=%s", EnvNodeType, req.NodeType),
		fmt.Sprintf("%s=%s", EnvProcessID, h.id),
	)
	if req.SocketPath != "" {
		env = append(env, fmt.Sprintf("%s=%s", EnvSocketPath, req.SocketPath))
	}
	if paramsPath != "" {
		env = append(env, fmt.Sprintf("%s=%s", EnvParamsFile, paramsPath))
	}
	if len(spec.ExtraPaths) > 0 {
		env = append(env, "PATH="+spec.PathEnv(os.Getenv("PATH")))
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stderr io.ReadCloser
	if spec.CaptureOutput {
		pipe, err := cmd.StderrPipe()
		if err != nil {
			removeIfSet(paramsPath)
			return nil, "", nil, errdefs.SpawnFailed(req.NodeType, req.NodeID, err)
		}
		stderr = pipe
	}

	if err := cmd.Start(); err != nil {
		removeIfSet(paramsPath)
		return nil, "", nil, errdefs.SpawnFailed(req.NodeType, req.NodeID, err)
	}

	return cmd, paramsPath, stderr, nil
}

// monitor waits for the worker to exit, classifies the exit, settles the
// handle, removes it from the active set, and notifies exit observers. One
// monitor goroutine runs per worker; with the blocking wait the exit is
// observed within milliseconds of occurring.
func (m *Manager) monitor(h *Handle, stderr io.ReadCloser) {
	defer m.wg.Done()

	drained := make(chan struct{})
	if stderr != nil {
		go m.drainStderr(h, stderr, drained)
	} else {
		close(drained)
	}

	// All pipe reads must finish before Wait reaps the process.
	<-drained
	waitErr := h.cmd.Wait()

	status := classifyExit(waitErr, h.wasForceKilled())
	uptime := time.Since(h.StartedAt())

	h.setExit(status)
	m.remove(h.id)
	removeIfSet(h.paramsFile())

	m.metrics.ProcessExited(h.nodeType, status.Class, uptime)
	m.metrics.ActiveProcesses(m.ActiveCount())

	if status.Class == ExitNormal {
		m.logger.Info("worker exited",
			"session_id", h.sessionID,
			"node_id", h.nodeID,
			"pid", h.PID(),
			"uptime", uptime)
	} else {
		m.logger.Warn("worker exited abnormally",
			"session_id", h.sessionID,
			"node_id", h.nodeID,
			"pid", h.PID(),
			"exit", status.String(),
			"uptime", uptime,
			"stderr_tail", h.StderrTail(5))
	}

	close(h.done)

	m.observersMu.RLock()
	observers := append([]ExitObserver(nil), m.observers...)
	m.observersMu.RUnlock()

	for _, fn := range observers {
		fn(h, status)
	}
}

// drainStderr logs every worker stderr line with the owning identity attached
// and retains the tail for crash reports. This is the primary operator-facing
// signal for silent worker failures.
func (m *Manager) drainStderr(h *Handle, r io.ReadCloser, done chan<- struct{}) {
	defer close(done)

	logger := m.logger.With(
		"session_id", h.sessionID,
		"node_id", h.nodeID,
		"pid", h.PID(),
		"stream", "stderr")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.stderr.Append(line)
		logger.Info(line)
	}
}

// classifyExit maps a wait result to the exit taxonomy: Normal for status 0,
// Errored for a non-zero status, Killed for signal death, Timeout when this
// manager escalated to SIGKILL itself.
func classifyExit(waitErr error, forced bool) ExitStatus {
	if waitErr == nil {
		return ExitStatus{Class: ExitNormal}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				class := ExitKilled
				if forced {
					class = ExitTimeout
				}
				return ExitStatus{Class: class, Code: -1, Signal: ws.Signal().String(), Err: waitErr}
			}
			return ExitStatus{Class: ExitErrored, Code: ws.ExitStatus(), Err: waitErr}
		}
		return ExitStatus{Class: ExitErrored, Code: exitErr.ExitCode(), Err: waitErr}
	}

	return ExitStatus{Class: ExitErrored, Code: -1, Err: waitErr}
}

// Terminate stops one worker: Stopping state, SIGTERM, wait up to grace,
// then SIGKILL. The handle always leaves the active set, even when the kill
// escalation itself fails.
func (m *Manager) Terminate(ctx context.Context, id ProcessID, grace time.Duration) error {
	m.mu.RLock()
	h, ok := m.processes[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("terminate %s: %w", id, ErrProcessNotFound)
	}
	return m.terminateHandle(ctx, h, grace)
}

func (m *Manager) terminateHandle(ctx context.Context, h *Handle, grace time.Duration) error {
	if grace <= 0 {
		grace = m.defaultGrace
	}
	start := time.Now()

	switch err := h.Advance(StateStopping); {
	case err == nil:
		if sigErr := h.signal(syscall.SIGTERM); sigErr != nil && !errors.Is(sigErr, ErrProcessNotFound) {
			m.logger.Warn("failed to send SIGTERM",
				"process_id", string(h.id), "error", sigErr)
		}
	case errors.Is(err, ErrInvalidTransition):
		// Already Stopping from a concurrent terminate, or already exited.
		if h.State().Terminal() {
			return nil
		}
	default:
		return err
	}

	forced := false
	select {
	case <-h.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(grace):
		forced = true
		h.markForcedKill()
		m.logger.Warn("worker ignored graceful stop, force killing",
			"process_id", string(h.id),
			"grace", grace)
		if killErr := h.kill(); killErr != nil && !errors.Is(killErr, ErrProcessNotFound) {
			m.logger.Error("force kill failed",
				"process_id", string(h.id), "error", killErr)
		}
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			m.remove(h.id)
			return errdefs.StopTimeout(string(h.id), grace)
		}
	}

	m.metrics.TerminationDuration(h.id, time.Since(start), forced)
	return nil
}

// TerminateSession terminates every worker owned by the session, in
// parallel, so teardown time is bounded by one grace period rather than the
// sum over workers.
func (m *Manager) TerminateSession(ctx context.Context, sessionID string, grace time.Duration) error {
	handles := m.ListSession(sessionID)
	if len(handles) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := m.terminateHandle(ctx, h, grace); err != nil {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Get returns the handle for a process id.
func (m *Manager) Get(id ProcessID) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.processes[id]
	return h, ok
}

// List returns a snapshot of all active handles.
func (m *Manager) List() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handles := make([]*Handle, 0, len(m.processes))
	for _, h := range m.processes {
		handles = append(handles, h)
	}
	return handles
}

// ListSession returns a snapshot of the session's active handles.
func (m *Manager) ListSession(sessionID string) []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handles := make([]*Handle, 0, len(m.bySession[sessionID]))
	for _, h := range m.bySession[sessionID] {
		handles = append(handles, h)
	}
	return handles
}

// ActiveCount returns the number of active workers.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processes)
}

// SessionCount returns the number of active workers in a session.
func (m *Manager) SessionCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession[sessionID])
}

// TrackedPIDs returns the pids of all active workers, for the orphan sweep.
func (m *Manager) TrackedPIDs() map[int]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pids := make(map[int]bool, len(m.processes))
	for _, h := range m.processes {
		if pid := h.PID(); pid > 0 {
			pids[pid] = true
		}
	}
	return pids
}

// Shutdown terminates all workers with the default grace period and waits
// for every monitor goroutine to finish, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := make([]*Handle, 0, len(m.processes))
	for _, h := range m.processes {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := m.terminateHandle(ctx, h, m.defaultGrace); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("shutdown termination failed",
					"process_id", string(h.id), "error", err)
			}
		}(h)
	}
	wg.Wait()

	waitCh := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown incomplete: %w", ctx.Err())
	}
}

func (m *Manager) remove(id ProcessID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.processes[id]
	if !ok {
		return
	}
	delete(m.processes, id)
	if sess, ok := m.bySession[h.sessionID]; ok {
		delete(sess, id)
		if len(sess) == 0 {
			delete(m.bySession, h.sessionID)
		}
	}
}

func validateSpawnRequest(req SpawnRequest) error {
	if req.SessionID == "" {
		return errdefs.Validation("session_id", req.SessionID, "session id is required")
	}
	if req.NodeID == "" {
		return errdefs.Validation("node_id", req.NodeID, "node id is required")
	}
	if req.Spec == nil {
		return errdefs.Validation("spec", nil, "spawn spec is required")
	}
	if err := req.Spec.Validate(); err != nil {
		return errdefs.Validation("spec", req.NodeType, err.Error()).WithCause(err)
	}
	if req.Spec.Runtime != nodespec.RuntimeProcess {
		return errdefs.Validation("runtime", string(req.Spec.Runtime),
			"the process manager only launches process workers; container workers go through the container registry")
	}
	return nil
}

func removeIfSet(path string) {
	if path != "" {
		os.Remove(path)
	}
}
