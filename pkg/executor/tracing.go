package executor

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// tracerName identifies spans created by the executor.
const tracerName = "github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/executor"

// InitTracing installs a global OpenTelemetry tracer provider so the
// executor's lifecycle spans are exported. The caller owns the returned
// provider and must call Shutdown on it.
//
// Only the stdout exporter is implemented; other exporter names fall back
// to stdout with a warning.
func InitTracing(ctx context.Context, serviceName, serviceVersion, exporterName string, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if exporterName != "" && exporterName != "stdout" {
		logger.Warn("trace exporter not implemented, falling back to stdout",
			"exporter", exporterName)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing initialized", "service_name", serviceName, "exporter", "stdout")
	return provider, nil
}
