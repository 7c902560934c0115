// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"log"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Init exports spans over OTLP/HTTP when OTEL_TRACING_ENABLED is set. The
// returned function flushes and stops the provider. When tracing is off the
// global no-op provider stays in place.
func Init(ctx context.Context, service string) (func(), error) {
	if !enabled(os.Getenv("OTEL_TRACING_ENABLED")) {
		return func() {}, nil
	}

	endpoint := getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://"))}
	if !strings.HasPrefix(endpoint, "https://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		log.Printf("otlp exporter unavailable, tracing disabled: %v", err)
		return func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	log.Printf("tracing enabled endpoint=%s service=%s", endpoint, service)

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("tracer provider shutdown: %v", err)
		}
	}, nil
}

func enabled(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
