package proc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/nodespec"
)

// Handle is the manager's view of one running worker. It is owned exclusively
// by the Manager; other components read it through accessors and may request
// state advances, never direct mutation.
type Handle struct {
	id        ProcessID
	sessionID string
	nodeID    string
	nodeType  string
	spec      *nodespec.Spec

	mu         sync.RWMutex
	pid        int
	state      NodeState
	startedAt  time.Time
	exit       *ExitStatus
	forcedKill bool

	cmd        *exec.Cmd
	done       chan struct{}
	stderr     *LogRing
	paramsPath string
}

func newHandle(sessionID, nodeID, nodeType string, spec *nodespec.Spec) *Handle {
	return &Handle{
		id:        MakeProcessID(sessionID, nodeID),
		sessionID: sessionID,
		nodeID:    nodeID,
		nodeType:  nodeType,
		spec:      spec,
		state:     StateIdle,
		done:      make(chan struct{}),
		stderr:    NewLogRing(128),
	}
}

// ID returns the canonical "<session>/<node>" process id.
func (h *Handle) ID() ProcessID { return h.id }

// SessionID returns the owning session.
func (h *Handle) SessionID() string { return h.sessionID }

// NodeID returns the node this worker hosts.
func (h *Handle) NodeID() string { return h.nodeID }

// NodeType returns the node type name.
func (h *Handle) NodeType() string { return h.nodeType }

// Spec returns the immutable spawn configuration.
func (h *Handle) Spec() *nodespec.Spec { return h.spec }

// PID returns the OS process id, or 0 before spawn.
func (h *Handle) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pid
}

// State returns the current lifecycle state.
func (h *Handle) State() NodeState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// StartedAt returns the spawn time, zero before spawn.
func (h *Handle) StartedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.startedAt
}

// ExitStatus returns the classified exit, once the worker has terminated.
func (h *Handle) ExitStatus() (ExitStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.exit == nil {
		return ExitStatus{}, false
	}
	return *h.exit, true
}

// Done is closed when the monitor has observed the worker's exit and the
// handle has been removed from the active set.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the OS process still exists (signal 0 probe).
func (h *Handle) Alive() bool {
	h.mu.RLock()
	pid := h.pid
	exited := h.exit != nil
	h.mu.RUnlock()

	if pid <= 0 || exited {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// StderrTail returns the most recent captured stderr lines joined, for crash
// diagnostics.
func (h *Handle) StderrTail(n int) string {
	return h.stderr.TailString(n)
}

// Advance moves the state machine forward. Transitions are monotonic: the
// target must rank above the current state, terminal states absorb
// everything, and re-entering an earlier state is rejected.
func (h *Handle) Advance(to NodeState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.advanceLocked(to)
}

func (h *Handle) advanceLocked(to NodeState) error {
	if h.state.Terminal() {
		return fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, h.state, to)
	}
	if to.rank() <= h.state.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.state, to)
	}
	h.state = to
	return nil
}

// markSpawned records the started process. Called by the manager with the
// handle still unpublished, so no lock ordering concerns.
func (h *Handle) markSpawned(cmd *exec.Cmd, paramsPath string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	h.state = StateInitializing
	h.paramsPath = paramsPath
}

// markForcedKill flags that the manager is escalating to SIGKILL after an
// expired deadline, so the monitor classifies the signal death as Timeout
// rather than Killed.
func (h *Handle) markForcedKill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forcedKill = true
}

func (h *Handle) wasForceKilled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.forcedKill
}

func (h *Handle) paramsFile() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.paramsPath
}

// setExit records the classified exit and settles the terminal state. Workers
// that exited cleanly or were deliberately stopped settle in Stopped; crashes
// settle in Error.
func (h *Handle) setExit(status ExitStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.exit = &status

	if h.state.Terminal() {
		return
	}
	if status.Class == ExitNormal || h.state == StateStopping {
		h.state = StateStopped
	} else {
		h.state = StateError
	}
}

// signal delivers sig to the worker process if it is still tracked.
func (h *Handle) signal(sig syscall.Signal) error {
	h.mu.RLock()
	cmd := h.cmd
	h.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return ErrProcessNotFound
	}
	return cmd.Process.Signal(sig)
}

// kill force-terminates the worker process.
func (h *Handle) kill() error {
	h.mu.RLock()
	cmd := h.cmd
	h.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return ErrProcessNotFound
	}
	return cmd.Process.Kill()
}
