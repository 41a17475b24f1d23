package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "ai-voice-interviewer"

// TracingConfig configures the global tracer provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// Exporter is optional. Without one spans are still recorded, so trace ids
	// show up in logs, but nothing is exported.
	Exporter sdktrace.SpanExporter
}

// InitTracing installs an SDK tracer provider as the global provider and
// returns its shutdown function, which flushes the exporter.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	res, err := resource.Merge(
		resource.Default(),
		// Schemaless so the merge keeps the SDK default schema URL.
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
