package proc

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	spawnDuration       *prometheus.HistogramVec
	exits               *prometheus.CounterVec
	uptime              *prometheus.HistogramVec
	terminationDuration *prometheus.HistogramVec
	activeProcesses     prometheus.Gauge
	orphansReaped       prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
// backed by its own registry
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "remotemedia"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	// Spawn duration
	pmc.spawnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_spawn_duration_seconds",
			Help:      "Duration of worker spawn operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node_type", "status"},
	)

	// Exits by class
	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Total number of worker exits by class",
		},
		[]string{"node_type", "exit_class"},
	)

	// Uptime
	pmc.uptime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_uptime_seconds",
			Help:      "Worker lifetime from spawn to exit",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
		[]string{"node_type"},
	)

	// Termination duration
	pmc.terminationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_termination_duration_seconds",
			Help:      "Duration of worker termination operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"forced"},
	)

	// Active processes
	pmc.activeProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_processes_active",
			Help:      "Current number of live worker processes",
		},
	)

	// Orphans reaped
	pmc.orphansReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_orphans_reaped_total",
			Help:      "Total number of orphaned workers reclaimed by the sweep",
		},
	)

	// Register all metrics
	pmc.registry.MustRegister(
		pmc.spawnDuration,
		pmc.exits,
		pmc.uptime,
		pmc.terminationDuration,
		pmc.activeProcesses,
		pmc.orphansReaped,
	)

	return pmc
}

// ProcessSpawned records a spawn attempt and its duration
func (pmc *PrometheusMetricsCollector) ProcessSpawned(nodeType string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pmc.spawnDuration.WithLabelValues(nodeType, status).Observe(duration.Seconds())
}

// ProcessExited records a classified worker exit
func (pmc *PrometheusMetricsCollector) ProcessExited(nodeType string, class ExitClass, uptime time.Duration) {
	pmc.exits.WithLabelValues(nodeType, class.String()).Inc()
	pmc.uptime.WithLabelValues(nodeType).Observe(uptime.Seconds())
}

// TerminationDuration records the duration of a termination operation
func (pmc *PrometheusMetricsCollector) TerminationDuration(id ProcessID, duration time.Duration, forced bool) {
	pmc.terminationDuration.WithLabelValues(strconv.FormatBool(forced)).Observe(duration.Seconds())
}

// ActiveProcesses records the current number of live workers
func (pmc *PrometheusMetricsCollector) ActiveProcesses(count int) {
	pmc.activeProcesses.Set(float64(count))
}

// OrphansReaped records workers reclaimed by the orphan sweep
func (pmc *PrometheusMetricsCollector) OrphansReaped(count int) {
	pmc.orphansReaped.Add(float64(count))
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Compile-time interface compliance check
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
