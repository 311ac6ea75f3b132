package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// OrphanDetector scans /proc for processes that carry the worker marker
// environment variable but are not tracked by the manager, and reclaims
// them. Orphans appear when a previous runtime instance died without tearing
// its sessions down.
type OrphanDetector struct {
	manager *Manager
	logger  *slog.Logger
	metrics MetricsCollector

	// procDir is /proc in production; tests point it at a fixture tree.
	procDir string
}

// NewOrphanDetector creates a detector bound to the manager's tracked set.
func NewOrphanDetector(manager *Manager) *OrphanDetector {
	return &OrphanDetector{
		manager: manager,
		logger:  manager.logger.With("component", "orphan-detector"),
		metrics: manager.metrics,
		procDir: "/proc",
	}
}

// FindOrphans returns the pids of marker-carrying processes the manager does
// not track.
func (d *OrphanDetector) FindOrphans() ([]int, error) {
	entries, err := os.ReadDir(d.procDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.procDir, err)
	}

	tracked := d.manager.TrackedPIDs()
	self := os.Getpid()

	var orphans []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if pid == self || tracked[pid] {
			continue
		}
		if d.hasWorkerMarker(pid) {
			orphans = append(orphans, pid)
		}
	}
	return orphans, nil
}

func (d *OrphanDetector) hasWorkerMarker(pid int) bool {
	environ, err := os.ReadFile(filepath.Join(d.procDir, strconv.Itoa(pid), "environ"))
	if err != nil {
		// Process gone, or not ours to inspect.
		return false
	}

	marker := EnvWorkerMarker + "="
	for _, kv := range bytes.Split(environ, []byte{0}) {
		if strings.HasPrefix(string(kv), marker) {
			return true
		}
	}
	return false
}

// Sweep finds and terminates all orphans, returning the number reclaimed.
func (d *OrphanDetector) Sweep(ctx context.Context) (int, error) {
	orphans, err := d.FindOrphans()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, pid := range orphans {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		d.logger.Warn("reclaiming orphaned worker", "pid", pid)
		if err := d.terminateOrphan(pid); err != nil {
			d.logger.Error("failed to reclaim orphan", "pid", pid, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		d.metrics.OrphansReaped(reaped)
	}
	return reaped, nil
}

// terminateOrphan mirrors the managed stop ladder: SIGTERM, poll up to five
// seconds for exit, then SIGKILL.
func (d *OrphanDetector) terminateOrphan(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}

	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			if err := process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return err
			}
			return nil
		case <-ticker.C:
			if err := process.Signal(syscall.Signal(0)); err != nil {
				return nil
			}
		}
	}
}

// RunPeriodic sweeps on an interval until the context is cancelled.
func (d *OrphanDetector) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("orphan sweep failed", "error", err)
			}
		}
	}
}

// LivenessMonitor periodically probes tracked workers with signal 0 and logs
// when a pid has vanished before its exit was observed. With the blocking
// wait in the monitor goroutine this should never fire; it surfaces reaper
// stalls.
type LivenessMonitor struct {
	manager  *Manager
	logger   *slog.Logger
	interval time.Duration
}

// NewLivenessMonitor creates a monitor over the manager's tracked workers.
func NewLivenessMonitor(manager *Manager, interval time.Duration) *LivenessMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LivenessMonitor{
		manager:  manager,
		logger:   manager.logger.With("component", "liveness-monitor"),
		interval: interval,
	}
}

// Run probes until the context is cancelled.
func (lm *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(lm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.probe()
		}
	}
}

func (lm *LivenessMonitor) probe() {
	for _, h := range lm.manager.List() {
		if h.State().Terminal() {
			continue
		}
		if !h.Alive() {
			lm.logger.Warn("tracked worker process is gone but exit not yet observed",
				"process_id", string(h.ID()),
				"pid", h.PID(),
				"state", h.State().String())
		}
	}
}
