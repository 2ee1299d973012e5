package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// instrumentationName names the tracer used by every package in the bridge.
const instrumentationName = "pbx-voice-bridge"

// AttrARIApp tags the resource with the Stasis application the bridge
// subscribes to, so traces from bridges on different apps stay apart.
const AttrARIApp = attribute.Key("ari.application")

type TracingConfig struct {
	Version     string
	Environment string
	ARIApp      string
	// Endpoint is the OTLP/HTTP collector. Empty keeps spans in process:
	// they still carry ids for log correlation but are never exported.
	Endpoint string
}

// InitTracing installs the global tracer provider for the bridge. The
// returned function flushes and stops it.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	ctx := context.Background()

	res, err := bridgeResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter for %s: %w", cfg.Endpoint, err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func bridgeResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(instrumentationName),
		semconv.ServiceVersion(cfg.Version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if cfg.ARIApp != "" {
		attrs = append(attrs, AttrARIApp.String(cfg.ARIApp))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}
