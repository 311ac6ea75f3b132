package container

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
)

// entry is the registry's mutable record for one shared container. All
// fields are guarded by the registry mutex.
type entry struct {
	nodeType    string
	name        string
	image       string
	containerID string
	health      Health
	sessions    map[string]struct{}
	createdAt   time.Time

	// pending is non-nil while a creator holds the reservation. Waiters
	// block on it until Register or Cancel resolves the create.
	pending chan struct{}
}

func (e *entry) snapshot() Instance {
	sessions := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)

	return Instance{
		NodeType:    e.nodeType,
		Name:        e.name,
		Image:       e.image,
		ContainerID: e.containerID,
		Health:      e.health,
		Sessions:    sessions,
		CreatedAt:   e.createdAt,
	}
}

// Registry tracks shared container instances by node type. Membership
// mutation and the stop decision share one critical section, so concurrent
// detaches can neither both skip teardown nor both trigger it.
type Registry struct {
	engine Engine
	logger *slog.Logger

	mu        sync.Mutex
	instances map[string]*entry
}

// NewRegistry creates a registry over the given engine.
func NewRegistry(engine Engine, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		engine:    engine,
		logger:    logger.With("component", "container-registry"),
		instances: make(map[string]*entry),
	}
}

// Engine returns the container engine the registry was built over.
func (r *Registry) Engine() Engine { return r.engine }

// GetOrCreate attaches sessionID to the live instance for nodeType and
// returns it with created=false. When no instance exists the call reserves
// creation and returns created=true: the caller must create the container
// and then call Register, or Cancel on failure. Concurrent callers for the
// same node type block until the reservation resolves, so exactly one
// container is ever created per node type.
func (r *Registry) GetOrCreate(ctx context.Context, nodeType, sessionID string) (*Instance, bool, error) {
	for {
		r.mu.Lock()
		e, ok := r.instances[nodeType]
		if !ok {
			e = &entry{
				nodeType:  nodeType,
				name:      ContainerName(nodeType),
				health:    HealthUnknown,
				sessions:  map[string]struct{}{sessionID: {}},
				createdAt: time.Now(),
				pending:   make(chan struct{}),
			}
			r.instances[nodeType] = e
			snap := e.snapshot()
			r.mu.Unlock()
			return &snap, true, nil
		}

		if e.pending != nil {
			wait := e.pending
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		if e.health == HealthUnhealthy {
			snap := e.snapshot()
			r.mu.Unlock()
			return nil, false, errdefs.New(errdefs.CodeContainerCreateFailed,
				fmt.Sprintf("shared container '%s' for node type '%s' is unhealthy", snap.Name, nodeType)).
				WithContext("sessions", len(snap.Sessions)).
				WithSuggestion("terminate the sessions using this node type so the container can be recreated")
		}

		e.sessions[sessionID] = struct{}{}
		snap := e.snapshot()
		r.mu.Unlock()
		return &snap, false, nil
	}
}

// AddSession attaches sessionID to an already registered instance. Unlike
// GetOrCreate it never reserves creation: when no live instance exists for
// nodeType the call fails with ErrInstanceNotFound. Attaching an existing
// member is a no-op.
func (r *Registry) AddSession(nodeType, sessionID string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.instances[nodeType]
	if !ok || e.pending != nil {
		return nil, fmt.Errorf("add session %s to container for %s: %w", sessionID, nodeType, errdefs.ErrInstanceNotFound)
	}
	if e.health == HealthUnhealthy {
		return nil, errdefs.New(errdefs.CodeContainerCreateFailed,
			fmt.Sprintf("shared container '%s' for node type '%s' is unhealthy", e.name, nodeType)).
			WithContext("sessions", len(e.sessions)).
			WithSuggestion("terminate the sessions using this node type so the container can be recreated")
	}

	e.sessions[sessionID] = struct{}{}
	snap := e.snapshot()
	return &snap, nil
}

// Register completes a reservation with the created container's identity and
// releases any blocked waiters.
func (r *Registry) Register(nodeType, containerID, image string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.instances[nodeType]
	if !ok || e.pending == nil {
		return nil, fmt.Errorf("register container for %s: %w", nodeType, errdefs.ErrInstanceNotFound)
	}

	e.containerID = containerID
	e.image = image
	e.health = HealthHealthy
	close(e.pending)
	e.pending = nil

	r.logger.Info("shared container registered",
		"node_type", nodeType,
		"container", e.name,
		"container_id", containerID,
		"image", image)

	snap := e.snapshot()
	return &snap, nil
}

// Cancel aborts a reservation after a failed create, releasing blocked
// waiters so one of them can reserve in turn.
func (r *Registry) Cancel(nodeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.instances[nodeType]
	if !ok || e.pending == nil {
		return
	}
	delete(r.instances, nodeType)
	close(e.pending)
}

// RemoveSession detaches sessionID from the instance's membership. It
// returns shouldStop=true exactly once, when the membership becomes empty:
// the caller must then stop and remove the underlying container. This is
// the sole authority over container teardown timing. Detaching an absent
// member is a no-op, which makes duplicate teardown idempotent.
func (r *Registry) RemoveSession(nodeType, sessionID string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.instances[nodeType]
	if !ok || e.pending != nil {
		return nil, false
	}
	if _, member := e.sessions[sessionID]; !member {
		return nil, false
	}

	delete(e.sessions, sessionID)
	if len(e.sessions) > 0 {
		snap := e.snapshot()
		return &snap, false
	}

	delete(r.instances, nodeType)
	snap := e.snapshot()
	r.logger.Info("last session detached, container eligible for teardown",
		"node_type", nodeType,
		"container", e.name)
	return &snap, true
}

// Teardown stops and removes the instance's container. Callers invoke it
// only after RemoveSession returned shouldStop=true.
func (r *Registry) Teardown(ctx context.Context, inst *Instance, stopTimeout time.Duration) error {
	if err := r.engine.Stop(ctx, inst.Name, stopTimeout); err != nil {
		r.logger.Warn("container stop failed, forcing removal",
			"container", inst.Name, "error", err)
	}
	if err := r.engine.Remove(ctx, inst.Name, true); err != nil {
		return fmt.Errorf("removing container %s: %w", inst.Name, err)
	}
	return nil
}

// Get returns a snapshot of the registered instance for nodeType. A pending
// reservation is not visible.
func (r *Registry) Get(nodeType string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.instances[nodeType]
	if !ok || e.pending != nil {
		return nil, false
	}
	snap := e.snapshot()
	return &snap, true
}

// List returns snapshots of all registered instances.
func (r *Registry) List() []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Instance, 0, len(r.instances))
	for _, e := range r.instances {
		if e.pending != nil {
			continue
		}
		out = append(out, e.snapshot())
	}
	return out
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.instances {
		if e.pending == nil {
			n++
		}
	}
	return n
}

// markHealth updates the probed health for nodeType, reporting whether the
// value changed.
func (r *Registry) markHealth(nodeType string, health Health) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.instances[nodeType]
	if !ok || e.pending != nil || e.health == health {
		return false
	}
	e.health = health
	return true
}
