// Package telemetry sets up optional OTLP trace export.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"igfeed/pkg/config"
)

const instrumentationName = "igfeed"

// Telemetry owns the installed tracer provider
type Telemetry struct {
	provider *sdktrace.TracerProvider
}

// Shutdown flushes and stops the exporter. It is safe on a disabled Telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Setup installs a global tracer provider exporting over OTLP/HTTP. When
// telemetry is disabled the global no-op provider stays in place.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("telemetry endpoint is empty")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Telemetry{provider: provider}, nil
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	opts := []otlptracehttp.Option{}
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	}
	return otlptracehttp.New(ctx, opts...)
}

// Tracer returns the igfeed tracer from the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
