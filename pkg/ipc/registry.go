package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
)

type channelKey struct {
	sessionID string
	nodeID    string
}

// Registry owns the IPC bridges, keyed by (session, node). Socket files
// live under <baseDir>/<session>/<node>.sock; keep baseDir short, Unix
// socket paths have a hard length limit around 100 bytes.
type Registry struct {
	baseDir      string
	capacity     int
	backpressure bool
	inlineMax    int
	logger       *slog.Logger

	mu      sync.RWMutex
	bridges map[channelKey]*Bridge
}

// NewRegistry creates a channel registry rooted at baseDir.
func NewRegistry(baseDir string, capacity int, backpressure bool, inlineMax int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = 64
	}
	if inlineMax <= 0 {
		inlineMax = 256 << 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		baseDir:      baseDir,
		capacity:     capacity,
		backpressure: backpressure,
		inlineMax:    inlineMax,
		logger:       logger,
		bridges:      make(map[channelKey]*Bridge),
	}
}

// BaseDir returns the channel root directory.
func (r *Registry) BaseDir() string { return r.baseDir }

// SessionDir returns the directory holding a session's channel files.
func (r *Registry) SessionDir(sessionID string) string {
	return filepath.Join(r.baseDir, sessionID)
}

// Create opens a new bridge for the pair and starts listening for the
// worker. A pair gets exactly one bridge.
func (r *Registry) Create(sessionID, nodeID string) (*Bridge, error) {
	return r.CreateSized(sessionID, nodeID, 0)
}

// CreateSized is Create with a per-channel capacity override. Zero keeps
// the registry default.
func (r *Registry) CreateSized(sessionID, nodeID string, capacity int) (*Bridge, error) {
	key := channelKey{sessionID: sessionID, nodeID: nodeID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bridges[key]; exists {
		return nil, errdefs.Validation("channel", sessionID+"/"+nodeID, "channel already exists")
	}

	if capacity <= 0 {
		capacity = r.capacity
	}
	socketPath := filepath.Join(r.baseDir, sessionID, nodeID+".sock")
	bridge, err := newBridge(sessionID, nodeID, socketPath, bridgeConfig{
		capacity:     capacity,
		backpressure: r.backpressure,
		inlineMax:    r.inlineMax,
		logger:       r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.bridges[key] = bridge
	return bridge, nil
}

// Get returns the bridge for the pair.
func (r *Registry) Get(sessionID, nodeID string) (*Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bridge, ok := r.bridges[channelKey{sessionID: sessionID, nodeID: nodeID}]
	return bridge, ok
}

// Count returns the number of open bridges.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bridges)
}

// Shutdown closes and removes the bridge for the pair.
func (r *Registry) Shutdown(sessionID, nodeID string) error {
	key := channelKey{sessionID: sessionID, nodeID: nodeID}

	r.mu.Lock()
	bridge, ok := r.bridges[key]
	if ok {
		delete(r.bridges, key)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("channel %s/%s: %w", sessionID, nodeID, errdefs.ErrChannelNotFound)
	}
	return bridge.Shutdown()
}

// ShutdownSession closes every bridge the session owns and removes the
// session's channel directory.
func (r *Registry) ShutdownSession(sessionID string) error {
	r.mu.Lock()
	var doomed []*Bridge
	for key, bridge := range r.bridges {
		if key.sessionID == sessionID {
			doomed = append(doomed, bridge)
			delete(r.bridges, key)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, bridge := range doomed {
		if err := bridge.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := os.RemoveAll(r.SessionDir(sessionID)); err != nil {
		errs = append(errs, fmt.Errorf("removing session channel dir: %w", err))
	}
	return errors.Join(errs...)
}

// ShutdownAll closes every bridge. Used on daemon exit.
func (r *Registry) ShutdownAll() error {
	r.mu.Lock()
	doomed := make([]*Bridge, 0, len(r.bridges))
	for key, bridge := range r.bridges {
		doomed = append(doomed, bridge)
		delete(r.bridges, key)
	}
	r.mu.Unlock()

	var errs []error
	for _, bridge := range doomed {
		if err := bridge.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
