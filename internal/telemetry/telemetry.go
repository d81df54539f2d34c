// Package telemetry sets up OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"hadash/internal/config"
	appLog "hadash/internal/log"
)

// Provider wraps the tracer provider. A nil *Provider is valid and does
// nothing.
type Provider struct {
	tp *trace.TracerProvider
}

// Init installs a global tracer provider exporting over OTLP/HTTP when
// tracing is enabled. When disabled it returns nil and the global no-op
// provider stays in place.
func Init(ctx context.Context, cfg config.TelemetryConfig, version string) (*Provider, error) {
	if !cfg.Enabled {
		appLog.Debug("tracing disabled")
		return nil, nil
	}

	opts := []otlptracehttp.Option{}
	endpoint := endpointHost(cfg.Endpoint)
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	if cfg.Insecure || strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(endpoint, "localhost:") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRatio))),
		trace.WithResource(newResource(cfg.ServiceName, version)),
		trace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	appLog.Info("tracer provider initialized",
		"endpoint", endpoint,
		"sampling_ratio", cfg.SamplingRatio,
	)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}
	return nil
}

func newResource(service, version string) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostNameKey.String(hostname))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// endpointHost strips a scheme so both "host:port" and URLs are accepted.
// An empty result lets the exporter fall back to OTEL_EXPORTER_OTLP_*.
func endpointHost(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimRight(endpoint, "/")
}
