package container

import (
	"context"
	"log/slog"
	"time"
)

// HealthMonitor periodically asks the engine whether each registered
// container is still running and records the answer on the instance.
// Teardown stays with RemoveSession; the monitor only observes.
type HealthMonitor struct {
	registry *Registry
	logger   *slog.Logger
	interval time.Duration
}

// NewHealthMonitor creates a monitor over the registry's instances.
func NewHealthMonitor(registry *Registry, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		registry: registry,
		logger:   registry.logger.With("component", "container-health"),
		interval: interval,
	}
}

// Run probes until the context is cancelled.
func (hm *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.probe(ctx)
		}
	}
}

func (hm *HealthMonitor) probe(ctx context.Context) {
	for _, inst := range hm.registry.List() {
		running, err := hm.registry.engine.Running(ctx, inst.Name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			hm.logger.Warn("container health probe failed",
				"container", inst.Name, "error", err)
			continue
		}

		health := HealthHealthy
		if !running {
			health = HealthUnhealthy
		}
		if hm.registry.markHealth(inst.NodeType, health) && health == HealthUnhealthy {
			hm.logger.Warn("shared container is no longer running",
				"node_type", inst.NodeType,
				"container", inst.Name,
				"sessions", len(inst.Sessions))
		}
	}
}
