// Package executor wires the session, process, container, and channel
// registries into the node execution service the rest of the runtime calls.
// It owns the cross-registry flows: spawning a node sets up the channel,
// the bookkeeping, and the worker in one operation, and any failure or
// crash unwinds all of them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/container"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/ipc"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/nodespec"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/proc"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/session"
)

// EnvChannelDir tells a container worker where the channel sockets are
// mounted inside its filesystem.
const EnvChannelDir = "REMOTEMEDIA_CHANNEL_DIR"

// containerChannelDir is the in-container mount point for the channel root.
// Shared containers serve sessions that come and go, so the whole root is
// mounted once at create time and workers discover per-session sockets
// underneath it.
const containerChannelDir = "/run/remotemedia"

// SpawnNodeRequest asks for one node to be materialized for a session.
type SpawnNodeRequest struct {
	SessionID string
	NodeID    string
	NodeType  string

	// Params is the serialized node configuration, passed to the worker
	// opaquely.
	Params []byte
}

type nodeKey struct {
	sessionID string
	nodeID    string
}

// Executor is the node execution service.
type Executor struct {
	cfg     Config
	logger  *slog.Logger
	metrics proc.MetricsCollector

	manifests  *nodespec.Registry
	procs      *proc.Manager
	containers *container.Registry
	channels   *ipc.Registry
	sessions   *session.Registry
	events     Publisher
	journal    *Journal
	tracer     trace.Tracer

	// engine is an injected container engine; when nil the CLI engine is
	// probed at construction time.
	engine    container.Engine
	engineErr error

	mu          sync.Mutex
	initTimers  map[nodeKey]*time.Timer
	terminating map[string]bool
	started     bool
	closed      bool

	bgCancel context.CancelFunc
	bgWg     sync.WaitGroup
}

// New builds an executor from the configuration. The context bounds
// construction-time probes such as the container engine preflight.
func New(ctx context.Context, cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{
		cfg:         cfg,
		logger:      slog.Default(),
		metrics:     proc.NewNoopMetricsCollector(),
		tracer:      otel.Tracer(tracerName),
		initTimers:  make(map[nodeKey]*time.Timer),
		terminating: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	logger := e.logger
	e.logger = logger.With("component", "executor")

	e.sessions = session.NewRegistry(cfg.MaxSessions, logger)

	e.manifests = nodespec.NewRegistry(cfg.ManifestDir, logger)
	if cfg.ManifestDir != "" {
		if err := e.manifests.Discover(); err != nil {
			return nil, err
		}
	}

	e.procs = proc.NewManager(
		proc.WithLogger(logger),
		proc.WithMetricsCollector(e.metrics),
		proc.WithMaxProcessesPerSession(cfg.MaxProcessesPerSession),
		proc.WithDefaultGracePeriod(cfg.GracePeriod()),
	)
	e.procs.OnExit(e.handleExit)

	e.channels = ipc.NewRegistry(
		filepath.Join(cfg.RuntimeDir, "channels"),
		cfg.ChannelCapacity,
		cfg.EnableBackpressure,
		cfg.InlineMaxBytes,
		logger,
	)

	if cfg.EnableContainers {
		engine := e.engine
		if engine == nil {
			cliEngine, err := container.NewCLIEngine(ctx, cfg.EngineBinary, logger)
			if err != nil {
				e.engineErr = err
				e.logger.Warn("container engine unavailable, container node types will fail to spawn",
					"error", err)
			} else {
				engine = cliEngine
			}
		}
		if engine != nil {
			e.containers = container.NewRegistry(engine, logger)
		}
	}

	if e.events == nil {
		if cfg.Events.URL != "" {
			publisher, err := NewNATSPublisher(cfg.Events, logger)
			if err != nil {
				return nil, err
			}
			e.events = publisher
		} else {
			e.events = NewNoopPublisher()
		}
	}

	if cfg.JournalPath != "" {
		journal, err := NewJournal(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		e.journal = journal
	}

	return e, nil
}

// Start launches the background loops: manifest watching, container health
// probing, and the orphaned worker sweep. Safe to call once.
func (e *Executor) Start() {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	ctx, cancel := context.WithCancel(context.Background())
	e.bgCancel = cancel
	e.mu.Unlock()

	if e.cfg.WatchManifests && e.cfg.ManifestDir != "" {
		watcher := nodespec.NewWatcher(e.manifests, 500*time.Millisecond, e.logger)
		e.bgWg.Add(1)
		go func() {
			defer e.bgWg.Done()
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("manifest watcher stopped", "error", err)
			}
		}()
	}

	if e.containers != nil {
		monitor := container.NewHealthMonitor(e.containers,
			time.Duration(e.cfg.HealthCheckSecs)*time.Second)
		e.bgWg.Add(1)
		go func() {
			defer e.bgWg.Done()
			monitor.Run(ctx)
		}()
	}

	if e.cfg.OrphanSweepSecs > 0 {
		detector := proc.NewOrphanDetector(e.procs)
		e.bgWg.Add(1)
		go func() {
			defer e.bgWg.Done()
			detector.RunPeriodic(ctx, time.Duration(e.cfg.OrphanSweepSecs)*time.Second)
		}()
	}

	liveness := proc.NewLivenessMonitor(e.procs,
		time.Duration(e.cfg.HealthCheckSecs)*time.Second)
	e.bgWg.Add(1)
	go func() {
		defer e.bgWg.Done()
		liveness.Run(ctx)
	}()
}

// Metrics returns the collector the executor reports into.
func (e *Executor) Metrics() proc.MetricsCollector { return e.metrics }

// Journal returns the lifecycle journal, or nil when journaling is off.
func (e *Executor) Journal() *Journal { return e.journal }

// CreateSession registers a new session. The id must not collide with a
// live session; terminated ids are reusable.
func (e *Executor) CreateSession(ctx context.Context, sessionID string) error {
	ctx, span := e.tracer.Start(ctx, "executor.create_session",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if err := e.checkOpen(); err != nil {
		return recordSpanErr(span, err)
	}
	if err := e.sessions.Create(sessionID); err != nil {
		return recordSpanErr(span, err)
	}
	e.emit(ctx, Event{Type: EventSessionCreated, SessionID: sessionID})
	return nil
}

// SpawnNode materializes a node for a session: channel first, then
// bookkeeping, then the worker itself. A failure at any step unwinds the
// earlier ones so a failed spawn leaves no residue.
func (e *Executor) SpawnNode(ctx context.Context, req SpawnNodeRequest) error {
	ctx, span := e.tracer.Start(ctx, "executor.spawn_node", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("node.id", req.NodeID),
		attribute.String("node.type", req.NodeType),
	))
	defer span.End()

	if err := e.spawnNode(ctx, req); err != nil {
		return recordSpanErr(span, err)
	}
	return nil
}

func (e *Executor) spawnNode(ctx context.Context, req SpawnNodeRequest) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.ValidateID("node_id", req.NodeID); err != nil {
		return err
	}
	if req.NodeType == "" {
		return errdefs.Validation("node_type", req.NodeType, "node_type is required")
	}
	if !e.sessions.Has(req.SessionID) {
		return errdefs.SessionNotFound(req.SessionID)
	}

	spec := e.resolveSpec(req.NodeType)
	kind := session.KindProcess
	if spec.Runtime == nodespec.RuntimeContainer {
		kind = session.KindContainer
	}

	bridge, err := e.channels.CreateSized(req.SessionID, req.NodeID, spec.ChannelCapacity)
	if err != nil {
		return err
	}

	if err := e.sessions.AddNode(req.SessionID, session.NodeRef{
		NodeID:   req.NodeID,
		NodeType: spec.NodeType,
		Kind:     kind,
	}); err != nil {
		_ = e.channels.Shutdown(req.SessionID, req.NodeID)
		return err
	}

	sid, nid := req.SessionID, req.NodeID
	bridge.RegisterStatusCallback(func(update ipc.StatusUpdate) {
		e.onStatus(sid, nid, update)
	})

	var spawnErr error
	if kind == session.KindContainer {
		spawnErr = e.attachContainer(ctx, req, spec)
	} else {
		spawnErr = e.spawnProcess(ctx, req, spec, bridge)
	}
	if spawnErr != nil {
		_ = e.sessions.RemoveNode(sid, nid)
		_ = e.channels.Shutdown(sid, nid)
		return spawnErr
	}

	timeout := spec.InitTimeout
	if timeout <= 0 {
		timeout = e.cfg.InitTimeout()
	}
	e.armInitTimer(sid, nid, timeout)

	e.emit(ctx, Event{
		Type:      EventNodeSpawned,
		SessionID: sid,
		NodeID:    nid,
		NodeType:  spec.NodeType,
		Detail:    string(spec.Runtime),
	})
	return nil
}

// resolveSpec maps a node type to its spawn spec, falling back to a plain
// process worker when no manifest declares the type.
func (e *Executor) resolveSpec(nodeType string) *nodespec.Spec {
	if m, ok := e.manifests.Get(nodeType); ok {
		return m.SpawnSpec(e.cfg.WorkerExecutable)
	}
	return &nodespec.Spec{
		NodeType:      nodeType,
		Runtime:       nodespec.RuntimeProcess,
		Executable:    e.cfg.WorkerExecutable,
		CaptureOutput: true,
	}
}

func (e *Executor) spawnProcess(ctx context.Context, req SpawnNodeRequest, spec *nodespec.Spec, bridge *ipc.Bridge) error {
	_, err := e.procs.Spawn(ctx, proc.SpawnRequest{
		SessionID:  req.SessionID,
		NodeID:     req.NodeID,
		NodeType:   spec.NodeType,
		Spec:       spec,
		Params:     req.Params,
		RuntimeDir: e.channels.SessionDir(req.SessionID),
		SocketPath: bridge.SocketPath(),
	})
	return err
}

// attachContainer joins the session to the shared container for the node
// type, creating the container when this session is the first member.
func (e *Executor) attachContainer(ctx context.Context, req SpawnNodeRequest, spec *nodespec.Spec) error {
	if e.containers == nil {
		if e.engineErr != nil {
			return e.engineErr
		}
		return errdefs.New(errdefs.CodeEngineUnavailable, "container support is disabled").
			WithSuggestion("Set enable_containers: true in the runtime config")
	}

	inst, created, err := e.containers.GetOrCreate(ctx, spec.NodeType, req.SessionID)
	if err != nil {
		return err
	}
	if !created {
		e.logger.Info("sharing container",
			"session_id", req.SessionID,
			"node_type", spec.NodeType,
			"container", inst.Name,
			"sessions", len(inst.Sessions))
		return nil
	}

	env := make(map[string]string, len(spec.Env)+2)
	for k, v := range spec.Env {
		env[k] = v
	}
	env[proc.EnvNodeType] = spec.NodeType
	env[EnvChannelDir] = containerChannelDir

	mounts := append([]nodespec.Mount{}, spec.Mounts...)
	mounts = append(mounts, nodespec.Mount{
		Source: e.channels.BaseDir(),
		Target: containerChannelDir,
	})

	// The name is deterministic, so a container left behind by an unclean
	// shutdown would collide with this create. Clear it first.
	_ = e.containers.Engine().Remove(ctx, inst.Name, true)

	containerID, err := e.containers.Engine().Create(ctx, container.CreateRequest{
		Name:   inst.Name,
		Image:  spec.Image,
		Cmd:    spec.Args,
		Env:    env,
		Mounts: mounts,
		Labels: map[string]string{
			"io.remotemedia.managed":   "true",
			"io.remotemedia.node-type": spec.NodeType,
		},
	})
	if err != nil {
		e.containers.Cancel(spec.NodeType)
		return errdefs.ContainerCreateFailed(spec.NodeType, spec.Image, err)
	}

	if _, err := e.containers.Register(spec.NodeType, containerID, spec.Image); err != nil {
		return err
	}

	e.logger.Info("container created",
		"session_id", req.SessionID,
		"node_type", spec.NodeType,
		"container", inst.Name,
		"container_id", containerID)
	e.emit(ctx, Event{
		Type:      EventContainerCreated,
		SessionID: req.SessionID,
		NodeType:  spec.NodeType,
		Detail:    containerID,
	})
	return nil
}

// UpdateInitProgress records a status report for a node. Workers normally
// report through their channel's status lane; this entry point serves
// callers that observe workers out of band.
func (e *Executor) UpdateInitProgress(ctx context.Context, sessionID, nodeID string, status session.Status, progressPct float64, message string) error {
	return e.applyProgress(ctx, sessionID, nodeID, status, progressPct, message)
}

// InitProgress returns the per-node initialization progress of a session.
func (e *Executor) InitProgress(ctx context.Context, sessionID string) (map[string]session.InitProgress, error) {
	return e.sessions.Progress(sessionID)
}

// Send dispatches a payload to a node's worker, fire and forget. Results
// arrive on the registered output callback.
func (e *Executor) Send(ctx context.Context, sessionID, nodeID string, payload []byte) error {
	bridge, ok := e.channels.Get(sessionID, nodeID)
	if !ok {
		if !e.sessions.Has(sessionID) {
			return errdefs.SessionNotFound(sessionID)
		}
		return errdefs.NodeNotFound(sessionID, nodeID)
	}
	if err := bridge.Send(payload); err != nil {
		return err
	}
	if h, ok := e.procs.Get(proc.MakeProcessID(sessionID, nodeID)); ok {
		_ = h.Advance(proc.StateProcessing)
	}
	return nil
}

// RegisterOutputCallback sets the consumer for a node's output payloads.
func (e *Executor) RegisterOutputCallback(sessionID, nodeID string, cb ipc.OutputCallback) error {
	bridge, ok := e.channels.Get(sessionID, nodeID)
	if !ok {
		if !e.sessions.Has(sessionID) {
			return errdefs.SessionNotFound(sessionID)
		}
		return errdefs.NodeNotFound(sessionID, nodeID)
	}
	bridge.RegisterOutputCallback(cb)
	return nil
}

// TerminateSession tears down everything the session owns: worker
// processes, shared container memberships, channels, and finally the
// session record itself. The id becomes reusable afterwards.
func (e *Executor) TerminateSession(ctx context.Context, sessionID string) error {
	ctx, span := e.tracer.Start(ctx, "executor.terminate_session",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if err := e.checkOpen(); err != nil {
		return recordSpanErr(span, err)
	}
	if err := e.teardownSession(ctx, sessionID, "requested"); err != nil {
		return recordSpanErr(span, err)
	}
	return nil
}

func recordSpanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// teardownSession is the single teardown path, shared by explicit
// termination, crash cascade, init timeout, and shutdown. Concurrent calls
// for the same session collapse into one.
func (e *Executor) teardownSession(ctx context.Context, sessionID, reason string) error {
	e.mu.Lock()
	if e.terminating[sessionID] {
		e.mu.Unlock()
		return nil
	}
	e.terminating[sessionID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.terminating, sessionID)
		e.mu.Unlock()
	}()

	nodes, err := e.sessions.Nodes(sessionID)
	if err != nil {
		return err
	}

	e.cancelSessionTimers(sessionID)

	var errs []error
	if err := e.procs.TerminateSession(ctx, sessionID, e.cfg.GracePeriod()); err != nil {
		errs = append(errs, err)
	}

	for _, ref := range nodes {
		if ref.Kind != session.KindContainer || e.containers == nil {
			continue
		}
		inst, shouldStop := e.containers.RemoveSession(ref.NodeType, sessionID)
		if !shouldStop {
			continue
		}
		if err := e.containers.Teardown(ctx, inst, e.cfg.ContainerStopTimeout()); err != nil {
			errs = append(errs, err)
		}
		e.emit(ctx, Event{
			Type:      EventContainerRemoved,
			SessionID: sessionID,
			NodeType:  ref.NodeType,
			Detail:    inst.ContainerID,
		})
	}

	if err := e.channels.ShutdownSession(sessionID); err != nil {
		errs = append(errs, err)
	}
	if err := e.sessions.Remove(sessionID); err != nil {
		errs = append(errs, err)
	}

	e.emit(ctx, Event{Type: EventSessionTerminated, SessionID: sessionID, Detail: reason})
	e.logger.Info("session terminated",
		"session_id", sessionID,
		"reason", reason,
		"nodes", len(nodes))
	return errors.Join(errs...)
}

// onStatus handles a worker's report from the channel status lane.
func (e *Executor) onStatus(sessionID, nodeID string, update ipc.StatusUpdate) {
	status := session.StatusStarting
	switch update.Status {
	case ipc.StatusReady:
		status = session.StatusReady
	case ipc.StatusError:
		status = session.StatusError
	}

	if err := e.applyProgress(context.Background(), sessionID, nodeID, status, update.ProgressPct, update.Message); err != nil {
		e.logger.Debug("dropping status report for unknown node",
			"session_id", sessionID,
			"node_id", nodeID,
			"error", err)
	}
}

func (e *Executor) applyProgress(ctx context.Context, sessionID, nodeID string, status session.Status, progressPct float64, message string) error {
	prior, err := e.sessions.Progress(sessionID)
	if err != nil {
		return err
	}
	priorStatus := session.StatusStarting
	if p, ok := prior[nodeID]; ok {
		priorStatus = p.Status
	}

	if err := e.sessions.UpdateProgress(sessionID, nodeID, status, progressPct, message); err != nil {
		return err
	}

	switch status {
	case session.StatusReady:
		e.cancelInitTimer(sessionID, nodeID)
		if h, ok := e.procs.Get(proc.MakeProcessID(sessionID, nodeID)); ok {
			_ = h.Advance(proc.StateReady)
		}
		if priorStatus != session.StatusReady {
			e.logger.Info("node ready", "session_id", sessionID, "node_id", nodeID)
			e.emit(ctx, Event{Type: EventNodeReady, SessionID: sessionID, NodeID: nodeID})
		}
	case session.StatusError:
		// The init deadline stays armed: a worker that reports an error
		// and then neither exits nor recovers is collected when the
		// deadline fires.
		if priorStatus != session.StatusError {
			e.logger.Warn("node reported failure",
				"session_id", sessionID,
				"node_id", nodeID,
				"message", message)
			e.emit(ctx, Event{Type: EventNodeFailed, SessionID: sessionID, NodeID: nodeID, Detail: message})
		}
	}
	return nil
}

// handleExit runs on the process monitor goroutine after a worker leaves.
// A requested termination is quiet; an unexpected exit fails the node and
// cascades into a full session teardown.
func (e *Executor) handleExit(h *proc.Handle, status proc.ExitStatus) {
	sessionID, nodeID := h.SessionID(), h.NodeID()
	e.cancelInitTimer(sessionID, nodeID)

	e.mu.Lock()
	skip := e.closed || e.terminating[sessionID]
	e.mu.Unlock()
	if skip || !e.sessions.Has(sessionID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.GracePeriod()+30*time.Second)
	defer cancel()

	e.emit(ctx, Event{
		Type:      EventNodeExited,
		SessionID: sessionID,
		NodeID:    nodeID,
		NodeType:  h.NodeType(),
		Detail:    status.String(),
	})

	if status.Class == proc.ExitNormal {
		_ = e.sessions.RemoveNode(sessionID, nodeID)
		_ = e.channels.Shutdown(sessionID, nodeID)
		return
	}

	progressPct := 0.0
	if progress, err := e.sessions.Progress(sessionID); err == nil {
		if p, ok := progress[nodeID]; ok {
			progressPct = p.ProgressPct
		}
	}
	message := fmt.Sprintf("worker exited unexpectedly: %s", status)
	_ = e.sessions.UpdateProgress(sessionID, nodeID, session.StatusError, progressPct, message)
	e.emit(ctx, Event{Type: EventNodeFailed, SessionID: sessionID, NodeID: nodeID, Detail: message})

	crashErr := errdefs.WorkerCrashed(sessionID, nodeID, h.PID(), status.String())
	e.logger.Error("worker crashed, tearing down session",
		"session_id", sessionID,
		"node_id", nodeID,
		"error", crashErr)

	if err := e.teardownSession(ctx, sessionID, "worker crashed: "+nodeID); err != nil {
		e.logger.Error("crash cascade failed", "session_id", sessionID, "error", err)
	}
}

// onInitTimeout fires when a node misses its initialization deadline. The
// node is treated exactly like a crashed one: failed, then cascaded.
func (e *Executor) onInitTimeout(sessionID, nodeID string, timeout time.Duration) {
	progress, err := e.sessions.Progress(sessionID)
	if err != nil {
		return
	}
	p, ok := progress[nodeID]
	if !ok || p.Status == session.StatusReady {
		return
	}

	timeoutErr := errdefs.InitTimeout(sessionID, nodeID, timeout)
	e.logger.Error("node initialization timed out, tearing down session",
		"session_id", sessionID,
		"node_id", nodeID,
		"error", timeoutErr)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.GracePeriod()+30*time.Second)
	defer cancel()

	message := fmt.Sprintf("initialization timed out after %s", timeout)
	_ = e.sessions.UpdateProgress(sessionID, nodeID, session.StatusError, 0, message)
	if p.Status != session.StatusError {
		e.emit(ctx, Event{Type: EventNodeFailed, SessionID: sessionID, NodeID: nodeID, Detail: message})
	}

	if err := e.teardownSession(ctx, sessionID, "init timeout: "+nodeID); err != nil {
		e.logger.Error("init timeout cascade failed", "session_id", sessionID, "error", err)
	}
}

// armInitTimer schedules the initialization deadline for a node. The
// firing callback checks it is still the registered timer under the same
// lock that registered it, so a stale timer from a torn-down spawn can
// never hit a recreated session.
func (e *Executor) armInitTimer(sessionID, nodeID string, timeout time.Duration) {
	key := nodeKey{sessionID: sessionID, nodeID: nodeID}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.terminating[sessionID] {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(timeout, func() {
		e.mu.Lock()
		if e.initTimers[key] != timer {
			e.mu.Unlock()
			return
		}
		delete(e.initTimers, key)
		skip := e.closed || e.terminating[sessionID]
		e.mu.Unlock()
		if skip {
			return
		}
		e.onInitTimeout(sessionID, nodeID, timeout)
	})
	e.initTimers[key] = timer
}

func (e *Executor) cancelInitTimer(sessionID, nodeID string) {
	key := nodeKey{sessionID: sessionID, nodeID: nodeID}
	e.mu.Lock()
	timer := e.initTimers[key]
	delete(e.initTimers, key)
	e.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (e *Executor) cancelSessionTimers(sessionID string) {
	var timers []*time.Timer
	e.mu.Lock()
	for key, timer := range e.initTimers {
		if key.sessionID == sessionID {
			timers = append(timers, timer)
			delete(e.initTimers, key)
		}
	}
	e.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
}

func (e *Executor) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errdefs.New(errdefs.CodeInternal, "executor is shut down")
	}
	return nil
}

// emit records a lifecycle event in the journal and publishes it. Both are
// observational; failures are logged and never propagate.
func (e *Executor) emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if e.journal != nil {
		if err := e.journal.Record(ctx, event); err != nil {
			e.logger.Warn("journal write failed", "event", event.Type, "error", err)
		}
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn("event publish failed", "event", event.Type, "error", err)
	}
}

// Shutdown terminates every live session, stops the background loops, and
// releases all resources. Idempotent.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.bgCancel
	timers := make([]*time.Timer, 0, len(e.initTimers))
	for key, timer := range e.initTimers {
		timers = append(timers, timer)
		delete(e.initTimers, key)
	}
	e.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}

	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for _, info := range e.sessions.List() {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			if err := e.teardownSession(ctx, sessionID, "runtime shutdown"); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(info.SessionID)
	}
	wg.Wait()

	if cancel != nil {
		cancel()
	}
	e.bgWg.Wait()

	if err := e.procs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.channels.ShutdownAll(); err != nil {
		errs = append(errs, err)
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.events.Close(); err != nil {
		errs = append(errs, err)
	}

	e.logger.Info("executor shut down")
	return errors.Join(errs...)
}

// Snapshot is the executor's externally visible state, served on the
// status endpoint and consumed by the CLI.
type Snapshot struct {
	Sessions   []SessionStatus   `json:"sessions"`
	Containers []ContainerStatus `json:"containers"`
	Processes  int               `json:"processes"`
	Channels   int               `json:"channels"`
	Manifests  int               `json:"manifests"`
}

// SessionStatus summarizes one live session.
type SessionStatus struct {
	SessionID string       `json:"session_id"`
	CreatedAt time.Time    `json:"created_at"`
	Nodes     []NodeStatus `json:"nodes"`
}

// NodeStatus summarizes one node owned by a session.
type NodeStatus struct {
	NodeID      string  `json:"node_id"`
	NodeType    string  `json:"node_type"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	ProgressPct float64 `json:"progress_pct"`
	Message     string  `json:"message,omitempty"`
	State       string  `json:"state,omitempty"`
	PID         int     `json:"pid,omitempty"`
}

// ContainerStatus summarizes one shared container instance.
type ContainerStatus struct {
	NodeType    string   `json:"node_type"`
	Name        string   `json:"name"`
	ContainerID string   `json:"container_id"`
	Health      string   `json:"health"`
	Sessions    []string `json:"sessions"`
}

// Status assembles a snapshot across all registries.
func (e *Executor) Status() Snapshot {
	snap := Snapshot{
		Processes: e.procs.ActiveCount(),
		Channels:  e.channels.Count(),
		Manifests: e.manifests.Count(),
	}

	for _, info := range e.sessions.List() {
		ss := SessionStatus{SessionID: info.SessionID, CreatedAt: info.CreatedAt}

		progress, err := e.sessions.Progress(info.SessionID)
		if err != nil {
			continue
		}
		nodes, err := e.sessions.Nodes(info.SessionID)
		if err != nil {
			continue
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })

		for _, ref := range nodes {
			ns := NodeStatus{
				NodeID:   ref.NodeID,
				NodeType: ref.NodeType,
				Kind:     ref.Kind.String(),
			}
			if p, ok := progress[ref.NodeID]; ok {
				ns.Status = p.Status.String()
				ns.ProgressPct = p.ProgressPct
				ns.Message = p.Message
			}
			if h, ok := e.procs.Get(proc.MakeProcessID(info.SessionID, ref.NodeID)); ok {
				ns.State = h.State().String()
				ns.PID = h.PID()
			}
			ss.Nodes = append(ss.Nodes, ns)
		}
		snap.Sessions = append(snap.Sessions, ss)
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].SessionID < snap.Sessions[j].SessionID
	})

	if e.containers != nil {
		for _, inst := range e.containers.List() {
			snap.Containers = append(snap.Containers, ContainerStatus{
				NodeType:    inst.NodeType,
				Name:        inst.Name,
				ContainerID: inst.ContainerID,
				Health:      inst.Health.String(),
				Sessions:    inst.Sessions,
			})
		}
		sort.Slice(snap.Containers, func(i, j int) bool {
			return snap.Containers[i].NodeType < snap.Containers[j].NodeType
		})
	}

	return snap
}
