package executor

import (
	"log/slog"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/container"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/proc"
)

// Option configures the executor.
type Option func(*Executor)

// WithLogger sets the base logger. Components derive their own from it.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetricsCollector sets the metrics sink passed down to the process
// manager.
func WithMetricsCollector(collector proc.MetricsCollector) Option {
	return func(e *Executor) {
		if collector != nil {
			e.metrics = collector
		}
	}
}

// WithEngine overrides the container engine instead of probing for the
// podman or docker CLI.
func WithEngine(engine container.Engine) Option {
	return func(e *Executor) {
		e.engine = engine
	}
}

// WithPublisher overrides the lifecycle event publisher.
func WithPublisher(publisher Publisher) Option {
	return func(e *Executor) {
		if publisher != nil {
			e.events = publisher
		}
	}
}
