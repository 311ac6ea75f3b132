package proc

import (
	"errors"
	"fmt"
)

// NodeState represents the lifecycle state of a worker
type NodeState int32

const (
	// StateIdle - handle constructed, worker not spawned yet
	StateIdle NodeState = iota
	// StateInitializing - worker spawned, loading its node
	StateInitializing
	// StateReady - worker reported ready to process payloads
	StateReady
	// StateProcessing - worker is processing a payload
	StateProcessing
	// StateStopping - graceful stop requested
	StateStopping
	// StateStopped - worker exited cleanly or was terminated on request
	StateStopped
	// StateError - worker crashed or failed to initialize
	StateError
)

// String returns the string representation of a NodeState
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	case StateProcessing:
		return "Processing"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state absorbs all further transitions.
func (s NodeState) Terminal() bool {
	return s == StateStopped || s == StateError
}

// rank orders states for the monotonic transition check. Stopped and Error
// share the top rank; which one a worker ends in depends on how it exited.
func (s NodeState) rank() int {
	switch s {
	case StateIdle:
		return 0
	case StateInitializing:
		return 1
	case StateReady:
		return 2
	case StateProcessing:
		return 3
	case StateStopping:
		return 4
	case StateStopped, StateError:
		return 5
	default:
		return -1
	}
}

// ErrInvalidTransition is returned when a state change would move backward
// or leave a terminal state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrProcessNotFound is returned for lookups against an unknown process id.
var ErrProcessNotFound = errors.New("process not found")

// ProcessID uniquely identifies a worker process as "<session>/<node>"
type ProcessID string

// MakeProcessID builds the canonical process id for a session's node.
func MakeProcessID(sessionID, nodeID string) ProcessID {
	return ProcessID(sessionID + "/" + nodeID)
}

// ExitClass classifies how a worker exited
type ExitClass int

const (
	// ExitNormal - exit status 0
	ExitNormal ExitClass = iota
	// ExitErrored - non-zero exit status
	ExitErrored
	// ExitKilled - terminated by a signal without exiting on its own
	ExitKilled
	// ExitTimeout - force-killed by this manager after a grace or init deadline
	ExitTimeout
)

// String returns the string representation of an ExitClass
func (c ExitClass) String() string {
	switch c {
	case ExitNormal:
		return "Normal"
	case ExitErrored:
		return "Errored"
	case ExitKilled:
		return "Killed"
	case ExitTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// ExitStatus describes a finished worker.
type ExitStatus struct {
	Class ExitClass

	// Code is the exit status for Errored exits, 0 for Normal, -1 otherwise.
	Code int

	// Signal names the terminating signal for Killed/Timeout exits.
	Signal string

	// Err is the raw wait error, if any.
	Err error
}

func (e ExitStatus) String() string {
	switch e.Class {
	case ExitErrored:
		return fmt.Sprintf("Errored(%d)", e.Code)
	case ExitKilled, ExitTimeout:
		if e.Signal != "" {
			return fmt.Sprintf("%s(%s)", e.Class, e.Signal)
		}
		return e.Class.String()
	default:
		return e.Class.String()
	}
}

// ExitObserver is invoked with the handle and classified exit status whenever
// any monitored worker terminates. Observers run on the monitor goroutine and
// must not block.
type ExitObserver func(h *Handle, status ExitStatus)
