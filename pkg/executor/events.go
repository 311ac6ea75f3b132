package executor

import (
	"context"
	"time"
)

// Lifecycle event types published to the event stream and recorded in the
// journal.
const (
	EventSessionCreated    = "session.created"
	EventSessionTerminated = "session.terminated"
	EventNodeSpawned       = "node.spawned"
	EventNodeReady         = "node.ready"
	EventNodeExited        = "node.exited"
	EventNodeFailed        = "node.failed"
	EventContainerCreated  = "container.created"
	EventContainerRemoved  = "container.removed"
)

// Event is a lifecycle notification. Events are observational; no runtime
// decision depends on their delivery.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	NodeType  string    `json:"node_type,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers lifecycle events to an external stream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type noopPublisher struct{}

// NewNoopPublisher returns a publisher that discards all events.
func NewNoopPublisher() Publisher {
	return &noopPublisher{}
}

func (n *noopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (n *noopPublisher) Close() error                                   { return nil }

var _ Publisher = (*noopPublisher)(nil)
