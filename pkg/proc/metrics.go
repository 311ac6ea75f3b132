package proc

import (
	"time"
)

// MetricsCollector defines the interface for collecting worker lifecycle metrics
type MetricsCollector interface {
	// ProcessSpawned records a spawn attempt and its duration
	ProcessSpawned(nodeType string, duration time.Duration, err error)

	// ProcessExited records a classified worker exit and its uptime
	ProcessExited(nodeType string, class ExitClass, uptime time.Duration)

	// TerminationDuration records how long a terminate took and whether it
	// escalated to SIGKILL
	TerminationDuration(id ProcessID, duration time.Duration, forced bool)

	// ActiveProcesses records the current number of live workers
	ActiveProcesses(count int)

	// OrphansReaped records workers reclaimed by the orphan sweep
	OrphansReaped(count int)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) ProcessSpawned(nodeType string, duration time.Duration, err error) {}
func (n *noopMetricsCollector) ProcessExited(nodeType string, class ExitClass, uptime time.Duration) {
}
func (n *noopMetricsCollector) TerminationDuration(id ProcessID, duration time.Duration, forced bool) {
}
func (n *noopMetricsCollector) ActiveProcesses(count int) {}
func (n *noopMetricsCollector) OrphansReaped(count int)   {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
