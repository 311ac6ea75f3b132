// Package errdefs defines the error taxonomy shared by the node execution
// runtime: structured errors with codes and context for operator-facing
// diagnostics, plus sentinel errors for common lookup failures.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for errors.Is checks on common conditions. Structured
// constructors below chain these as causes so both styles of matching work.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrChannelFull       = errors.New("channel full")
	ErrInstanceNotFound  = errors.New("container instance not found")
	ErrEngineUnavailable = errors.New("container engine unavailable")
)

// Error carries a code, context, and an actionable suggestion alongside the
// message, so failures in the process and container paths can be diagnosed
// without re-running the workload.
type Error struct {
	// Code identifies the error type
	Code Code

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// Code identifies categories of errors
type Code string

const (
	// Validation errors (synchronous, never retried by this subsystem)
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeSessionExists    Code = "SESSION_EXISTS"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeNodeNotFound     Code = "NODE_NOT_FOUND"
	CodeManifestInvalid  Code = "MANIFEST_INVALID"

	// Spawn errors (synchronous; the caller decides whether to retry)
	CodeSpawnFailed           Code = "SPAWN_FAILED"
	CodeContainerCreateFailed Code = "CONTAINER_CREATE_FAILED"
	CodeEngineUnavailable     Code = "ENGINE_UNAVAILABLE"

	// Runtime errors (asynchronous, surfaced via exit observers)
	CodeWorkerCrashed Code = "WORKER_CRASHED"

	// Timeout errors
	CodeInitTimeout Code = "INIT_TIMEOUT"
	CodeStopTimeout Code = "STOP_TIMEOUT"

	// Resource errors (synchronous rejection)
	CodeProcessLimitExceeded Code = "PROCESS_LIMIT_EXCEEDED"
	CodeChannelFull          Code = "CHANNEL_FULL"

	// Internal errors
	CodeInternal Code = "INTERNAL_ERROR"
)

// Class groups codes into the coarse categories callers branch on when
// deciding retry and cascade behavior.
type Class string

const (
	ClassValidation Class = "validation"
	ClassSpawn      Class = "spawn"
	ClassRuntime    Class = "runtime"
	ClassTimeout    Class = "timeout"
	ClassResource   Class = "resource"
	ClassInternal   Class = "internal"
)

// ClassOfCode maps a code to its class.
func ClassOfCode(code Code) Class {
	switch code {
	case CodeValidationFailed, CodeSessionExists, CodeSessionNotFound,
		CodeNodeNotFound, CodeManifestInvalid:
		return ClassValidation
	case CodeSpawnFailed, CodeContainerCreateFailed, CodeEngineUnavailable:
		return ClassSpawn
	case CodeWorkerCrashed:
		return ClassRuntime
	case CodeInitTimeout, CodeStopTimeout:
		return ClassTimeout
	case CodeProcessLimitExceeded, CodeChannelFull:
		return ClassResource
	default:
		return ClassInternal
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		var contextParts []string
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and message
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// Common error constructors

// SessionNotFound reports a lookup against an unknown or already terminated
// session id.
func SessionNotFound(sessionID string) *Error {
	return New(CodeSessionNotFound,
		fmt.Sprintf("session '%s' not found", sessionID)).
		WithContext("session_id", sessionID).
		WithCause(ErrSessionNotFound)
}

// SessionExists reports an attempt to create a session whose id is still
// live. Terminated ids become reusable once teardown completes.
func SessionExists(sessionID string) *Error {
	return New(CodeSessionExists,
		fmt.Sprintf("session '%s' already exists", sessionID)).
		WithContext("session_id", sessionID).
		WithCause(ErrSessionExists).
		WithSuggestion("Terminate the existing session before reusing its id, " +
			"or pick a fresh id per client interaction")
}

// NodeNotFound reports a lookup for a node that is not registered in the
// given session.
func NodeNotFound(sessionID, nodeID string) *Error {
	return New(CodeNodeNotFound,
		fmt.Sprintf("node '%s' not found in session '%s'", nodeID, sessionID)).
		WithContext("session_id", sessionID).
		WithContext("node_id", nodeID).
		WithCause(ErrNodeNotFound)
}

// ManifestInvalid reports a node-type manifest that failed validation.
func ManifestInvalid(name string, cause error) *Error {
	return New(CodeManifestInvalid,
		fmt.Sprintf("node type '%s' has an invalid manifest", name)).
		WithContext("node_type", name).
		WithCause(cause).
		WithSuggestion(
			"Check manifest.yaml syntax and ensure all required fields are present:\n" +
				"  - name\n" +
				"  - runtime (process or container)\n" +
				"  - entrypoint (process) or image (container)")
}

// SpawnFailed reports the OS refusing to start a worker process.
func SpawnFailed(nodeType, nodeID string, cause error) *Error {
	return New(CodeSpawnFailed,
		fmt.Sprintf("failed to spawn worker for node '%s'", nodeID)).
		WithContext("node_type", nodeType).
		WithContext("node_id", nodeID).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Worker executable not found or not runnable\n" +
				"  2. Missing interpreter dependencies\n" +
				"  3. Insufficient permissions on the runtime directory\n" +
				"Check the runtime log for the worker's stderr tail")
}

// ContainerCreateFailed reports the engine refusing to create or start a
// container for a shared node type.
func ContainerCreateFailed(nodeType, image string, cause error) *Error {
	return New(CodeContainerCreateFailed,
		fmt.Sprintf("failed to create container for node type '%s'", nodeType)).
		WithContext("node_type", nodeType).
		WithContext("image", image).
		WithCause(cause).
		WithSuggestion(fmt.Sprintf(
			"Verify the image is available:\n"+
				"  podman pull %s   (or docker pull)", image))
}

// EngineUnavailable reports that no usable container engine binary was found
// or the engine daemon is not responding.
func EngineUnavailable(binary string, cause error) *Error {
	return New(CodeEngineUnavailable,
		"container engine unavailable").
		WithContext("engine_binary", binary).
		WithCause(errors.Join(ErrEngineUnavailable, cause)).
		WithSuggestion(
			"Install podman or docker, or point engine_binary at the CLI.\n" +
				"Verify with: podman info  (or docker info)")
}

// WorkerCrashed reports a worker that exited unexpectedly after starting.
// The stderr tail is attached as the diagnostic message.
func WorkerCrashed(sessionID, nodeID string, pid int, detail string) *Error {
	return New(CodeWorkerCrashed,
		fmt.Sprintf("worker for node '%s' crashed", nodeID)).
		WithContext("session_id", sessionID).
		WithContext("node_id", nodeID).
		WithContext("pid", pid).
		WithContext("detail", detail).
		WithSuggestion("Check the captured stderr tail and the run journal for crash details")
}

// InitTimeout reports a node that stayed in Initializing past the configured
// deadline. Treated identically to a crash for cascading purposes.
func InitTimeout(sessionID, nodeID string, timeout time.Duration) *Error {
	return New(CodeInitTimeout,
		fmt.Sprintf("node '%s' did not become ready within %s", nodeID, timeout)).
		WithContext("session_id", sessionID).
		WithContext("node_id", nodeID).
		WithContext("timeout", timeout.String()).
		WithSuggestion(
			"Raise init_timeout_secs if the node legitimately needs longer startup,\n" +
				"or check the worker stderr tail for a hang during initialization")
}

// StopTimeout reports a worker that ignored the graceful stop signal for the
// whole grace period and had to be force-killed.
func StopTimeout(processID string, grace time.Duration) *Error {
	return New(CodeStopTimeout,
		fmt.Sprintf("process '%s' ignored graceful stop for %s, force killed", processID, grace)).
		WithContext("process_id", processID).
		WithContext("grace_period", grace.String())
}

// ProcessLimitExceeded reports a spawn request beyond the per-session cap.
func ProcessLimitExceeded(sessionID string, limit int) *Error {
	return New(CodeProcessLimitExceeded,
		fmt.Sprintf("session '%s' reached its process limit (%d)", sessionID, limit)).
		WithContext("session_id", sessionID).
		WithContext("max_processes_per_session", limit).
		WithSuggestion("Terminate an existing node in this session or raise max_processes_per_session")
}

// ChannelFull reports a send against a full channel while backpressure is
// disabled. The payload is dropped.
func ChannelFull(sessionID, nodeID string, capacity int) *Error {
	return New(CodeChannelFull,
		fmt.Sprintf("channel for node '%s' is full (capacity %d)", nodeID, capacity)).
		WithContext("session_id", sessionID).
		WithContext("node_id", nodeID).
		WithContext("capacity", capacity).
		WithCause(ErrChannelFull).
		WithSuggestion("Enable backpressure or raise channel_capacity if drops are not acceptable")
}

// Validation reports a configuration or argument validation failure.
func Validation(field string, value interface{}, reason string) *Error {
	return New(CodeValidationFailed,
		fmt.Sprintf("invalid configuration: %s", reason)).
		WithContext("field", field).
		WithContext("value", value)
}

// IsCode checks if an error carries the specified code, unwrapping as needed.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code from an error, or empty string if it carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the class of an error, or ClassInternal for plain errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return ClassOfCode(e.Code)
	}
	return ClassInternal
}

// SuggestionOf returns the suggestion from an error, or empty string.
func SuggestionOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestion
	}
	return ""
}
