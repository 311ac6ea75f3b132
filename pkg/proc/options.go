package proc

import (
	"log/slog"
	"time"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetricsCollector sets the metrics sink. Defaults to a no-op collector.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(m *Manager) {
		if collector != nil {
			m.metrics = collector
		}
	}
}

// WithMaxProcessesPerSession caps concurrently running workers per session.
// Zero means unlimited.
func WithMaxProcessesPerSession(n int) Option {
	return func(m *Manager) {
		m.maxPerSession = n
	}
}

// WithDefaultGracePeriod sets the SIGTERM grace window used when a terminate
// call does not supply one.
func WithDefaultGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultGrace = d
		}
	}
}
