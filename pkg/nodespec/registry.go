package nodespec

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Registry maintains the collection of discovered node-type manifests.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest // node type name -> manifest
	directory string
	logger    *slog.Logger
}

// NewRegistry creates a registry rooted at the given manifest directory.
func NewRegistry(directory string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		manifests: make(map[string]*Manifest),
		directory: directory,
		logger:    logger.With("component", "nodespec-registry"),
	}
}

// Discover scans the manifest directory and loads all manifests. Each node
// type lives in its own subdirectory holding a manifest.yaml; subdirectories
// without one are skipped. An empty directory is not an error: node types
// without manifests run as plain process workers.
func (r *Registry) Discover() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.directory); err != nil {
		return fmt.Errorf("manifest directory not found: %s: %w", r.directory, err)
	}

	entries, err := os.ReadDir(r.directory)
	if err != nil {
		return fmt.Errorf("read manifest directory: %w", err)
	}

	discovered := 0
	failed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		manifestPath := filepath.Join(r.directory, entry.Name(), "manifest.yaml")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			r.logger.Warn("failed to load manifest",
				"dir", entry.Name(),
				"error", err)
			failed++
			continue
		}

		r.manifests[manifest.Name] = manifest
		discovered++

		r.logger.Info("discovered node type",
			"name", manifest.Name,
			"version", manifest.Version,
			"runtime", manifest.Runtime)
	}

	r.logger.Info("manifest discovery complete",
		"discovered", discovered,
		"failed", failed)

	return nil
}

// Get returns a manifest by node type name.
func (r *Registry) Get(name string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifest, ok := r.manifests[name]
	return manifest, ok
}

// List returns all registered manifests.
func (r *Registry) List() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifests := make([]*Manifest, 0, len(r.manifests))
	for _, manifest := range r.manifests {
		manifests = append(manifests, manifest)
	}

	return manifests
}

// Count returns the number of registered manifests.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.manifests)
}

// Reload re-discovers all manifests. Used by the hot-reload watcher.
func (r *Registry) Reload() error {
	r.mu.Lock()
	r.manifests = make(map[string]*Manifest)
	r.mu.Unlock()

	return r.Discover()
}
