// Package session tracks client sessions and the nodes each one owns.
// The registry is pure bookkeeping: it decides what exists and what belongs
// to whom, while the executor drives the actual process, container, and
// channel lifecycles around it.
package session

import (
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
)

// Status is a node's initialization state as reported by its worker.
type Status int

const (
	// StatusStarting - worker is loading its node
	StatusStarting Status = iota
	// StatusReady - node can process payloads
	StatusReady
	// StatusError - initialization failed or the worker crashed
	StatusError
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "Starting"
	case StatusReady:
		return "Ready"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// NodeKind discriminates how a session's node is backed.
type NodeKind int

const (
	// KindProcess - dedicated worker process, terminated with the session
	KindProcess NodeKind = iota
	// KindContainer - shared container, detached by ref count
	KindContainer
)

// String returns the string representation of a NodeKind
func (k NodeKind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindContainer:
		return "container"
	default:
		return "unknown"
	}
}

// NodeRef records one node owned by a session.
type NodeRef struct {
	NodeID   string
	NodeType string
	Kind     NodeKind
}

// InitProgress is a node's reported status, mutated only through
// UpdateProgress and read by observability callers.
type InitProgress struct {
	NodeID      string
	Status      Status
	ProgressPct float64
	Message     string
	UpdatedAt   time.Time
}

type node struct {
	ref      NodeRef
	progress InitProgress
}

type sessionRecord struct {
	id        string
	createdAt time.Time
	nodes     map[string]*node
}

// Info is a point-in-time summary of one session.
type Info struct {
	SessionID string
	CreatedAt time.Time
	NodeCount int
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID checks a caller-supplied identifier. Session and node ids end
// up in filesystem paths and container names, so the accepted alphabet is
// deliberately narrow.
func ValidateID(field, id string) error {
	if id == "" {
		return errdefs.Validation(field, id, field+" is required")
	}
	if len(id) > 128 {
		return errdefs.Validation(field, id, field+" exceeds 128 characters")
	}
	if !idPattern.MatchString(id) {
		return errdefs.Validation(field, id,
			field+" may only contain letters, digits, '.', '_' and '-', starting with a letter or digit")
	}
	return nil
}

// Registry is the session table. A session id is unique among live
// sessions and becomes reusable once its prior instance is removed.
type Registry struct {
	logger      *slog.Logger
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

// NewRegistry creates a session registry. maxSessions of zero means
// unlimited.
func NewRegistry(maxSessions int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:      logger.With("component", "session-registry"),
		maxSessions: maxSessions,
		sessions:    make(map[string]*sessionRecord),
	}
}

// Create registers a new session. A live duplicate id fails; the caller
// must terminate the previous instance before reusing it.
func (r *Registry) Create(sessionID string) error {
	if err := ValidateID("session_id", sessionID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return errdefs.SessionExists(sessionID)
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return errdefs.New(errdefs.CodeProcessLimitExceeded,
			"session limit reached").
			WithContext("max_sessions", r.maxSessions).
			WithSuggestion("Terminate idle sessions or raise max_sessions")
	}

	r.sessions[sessionID] = &sessionRecord{
		id:        sessionID,
		createdAt: time.Now(),
		nodes:     make(map[string]*node),
	}

	r.logger.Info("session created", "session_id", sessionID)
	return nil
}

// Remove deletes a session, freeing its id for reuse.
func (r *Registry) Remove(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; !exists {
		return errdefs.SessionNotFound(sessionID)
	}
	delete(r.sessions, sessionID)

	r.logger.Info("session removed", "session_id", sessionID)
	return nil
}

// Has reports whether the session is live.
func (r *Registry) Has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// AddNode records a node as owned by the session, with Starting progress.
func (r *Registry) AddNode(sessionID string, ref NodeRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return errdefs.SessionNotFound(sessionID)
	}
	if _, dup := s.nodes[ref.NodeID]; dup {
		return errdefs.Validation("node_id", ref.NodeID,
			"node '"+ref.NodeID+"' already exists in session '"+sessionID+"'")
	}

	s.nodes[ref.NodeID] = &node{
		ref: ref,
		progress: InitProgress{
			NodeID:    ref.NodeID,
			Status:    StatusStarting,
			UpdatedAt: time.Now(),
		},
	}
	return nil
}

// RemoveNode drops a node from the session's ownership.
func (r *Registry) RemoveNode(sessionID, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return errdefs.SessionNotFound(sessionID)
	}
	if _, ok := s.nodes[nodeID]; !ok {
		return errdefs.NodeNotFound(sessionID, nodeID)
	}
	delete(s.nodes, nodeID)
	return nil
}

// Nodes returns the session's owned nodes.
func (r *Registry) Nodes(sessionID string) ([]NodeRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return nil, errdefs.SessionNotFound(sessionID)
	}

	refs := make([]NodeRef, 0, len(s.nodes))
	for _, n := range s.nodes {
		refs = append(refs, n.ref)
	}
	return refs, nil
}

// UpdateProgress records a worker's status report. Progress is clamped to
// [0,1]. Error is sticky: once a node reports Error, later updates cannot
// revive it, which keeps a crash visible even when a stale ready report
// races in behind it.
func (r *Registry) UpdateProgress(sessionID, nodeID string, status Status, progressPct float64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return errdefs.SessionNotFound(sessionID)
	}
	n, ok := s.nodes[nodeID]
	if !ok {
		return errdefs.NodeNotFound(sessionID, nodeID)
	}

	if n.progress.Status == StatusError {
		return nil
	}

	if progressPct < 0 {
		progressPct = 0
	} else if progressPct > 1 {
		progressPct = 1
	}

	n.progress = InitProgress{
		NodeID:      nodeID,
		Status:      status,
		ProgressPct: progressPct,
		Message:     message,
		UpdatedAt:   time.Now(),
	}
	return nil
}

// Progress returns a snapshot of the session's per-node progress map.
func (r *Registry) Progress(sessionID string) (map[string]InitProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return nil, errdefs.SessionNotFound(sessionID)
	}

	out := make(map[string]InitProgress, len(s.nodes))
	for id, n := range s.nodes {
		out[id] = n.progress
	}
	return out, nil
}

// Get returns a summary of one session.
func (r *Registry) Get(sessionID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return Info{}, false
	}
	return Info{SessionID: s.id, CreatedAt: s.createdAt, NodeCount: len(s.nodes)}, true
}

// List returns summaries of all live sessions.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{SessionID: s.id, CreatedAt: s.createdAt, NodeCount: len(s.nodes)})
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
