package host

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitTracer wires the process-wide tracer provider used by the HTTP
// dispatcher middleware and the telemetry capability. Export is gated on
// Config.TraceEndpoint; without one the global provider stays a no-op and
// guest spans cost nothing. Spans carry the component name so traces from
// different deployments are distinguishable at the collector.
func InitTracer(cfg Config) (func(context.Context) error, error) {
	if cfg.TraceEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracehttp.New(context.Background())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("omnia"),
			attribute.String("omnia.component", cfg.Component),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
