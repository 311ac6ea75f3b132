package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/executor"
	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/proc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the node execution runtime",
	Long: `Start the runtime that spawns, monitors, and tears down out-of-process
pipeline node workers.

Example:
  remotemedia-runtime serve
  remotemedia-runtime serve --config /etc/remotemedia/runtime.yaml --listen :9480`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "Runtime config file (YAML)")
	serveCmd.Flags().String("listen", ":9480", "Status and health HTTP listen address")
	serveCmd.Flags().String("metrics-listen", ":9490", "Prometheus metrics listen address")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().String("log-format", "json", "Log format (json, text)")

	viper.BindPFlag("serve.config", serveCmd.Flags().Lookup("config"))
	viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("serve.metrics_listen", serveCmd.Flags().Lookup("metrics-listen"))
	viper.BindPFlag("serve.log_level", serveCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("serve.log_format", serveCmd.Flags().Lookup("log-format"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := buildLogger(viper.GetString("serve.log_level"), viper.GetString("serve.log_format"))
	slog.SetDefault(logger)

	cfg := executor.DefaultConfig()
	if path := viper.GetString("serve.config"); path != "" {
		loaded, err := executor.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		logger.Info("configuration loaded", "path", path)
	}

	metrics := proc.NewPrometheusMetricsCollector("remotemedia")

	var tracerProvider *sdktrace.TracerProvider
	if cfg.EnableTracing {
		tp, err := executor.InitTracing(context.Background(), "remotemedia-runtime", version, cfg.TraceExporter, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		tracerProvider = tp
	}

	exec, err := executor.New(context.Background(), cfg,
		executor.WithLogger(logger),
		executor.WithMetricsCollector(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	exec.Start()

	statusAddr := viper.GetString("serve.listen")
	statusServer := &http.Server{
		Addr:    statusAddr,
		Handler: statusMux(exec),
	}
	go func() {
		logger.Info("status server listening", "addr", statusAddr)
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server error", "error", err)
		}
	}()

	metricsAddr := viper.GetString("serve.metrics_listen")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("runtime started",
		"runtime_dir", cfg.RuntimeDir,
		"manifest_dir", cfg.ManifestDir,
		"worker_executable", cfg.WorkerExecutable,
		"containers_enabled", cfg.EnableContainers,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := exec.Shutdown(shutdownCtx); err != nil {
		logger.Error("executor shutdown reported errors", "error", err)
	}
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer provider shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func buildLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// statusMux exposes the runtime's introspection endpoints. The payloads are
// consumed by remotemediactl and by health probes.
func statusMux(exec *executor.Executor) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, exec.Status())
	})

	mux.HandleFunc("/journalz", func(w http.ResponseWriter, r *http.Request) {
		journal := exec.Journal()
		if journal == nil {
			http.Error(w, "journal disabled", http.StatusNotFound)
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		var (
			entries []executor.JournalEntry
			err     error
		)
		if sessionID := r.URL.Query().Get("session"); sessionID != "" {
			entries, err = journal.SessionHistory(r.Context(), sessionID, limit)
		} else {
			entries, err = journal.Recent(r.Context(), limit)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
