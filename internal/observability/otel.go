// Package observability wires tracing and dispatch metrics.
//
// Tracing covers the dispatcher spans, the GORM plugin and the otelgin
// middleware. Every process gets its own service.instance.id, so sweeps
// from overlapping one-shot runs and the serve loop stay apart in the
// collector even though they share a service name.
package observability

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/medcia/medreminder/internal/config"
)

const serviceNamespace = "medcia"

// newSpanExporter is replaced in tests.
var newSpanExporter = func(ctx context.Context, opts ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

// tracing owns an installed provider and the globals it replaced.
type tracing struct {
	provider *sdktrace.TracerProvider
	restore  func()
}

// shutdown flushes pending spans, stops the provider and puts the previous
// globals back. A one-shot run exits right after its sweep, so the flush
// is what gets its spans out at all.
func (t *tracing) shutdown(ctx context.Context) error {
	err := errors.Join(t.provider.ForceFlush(ctx), t.provider.Shutdown(ctx))
	t.restore()
	return err
}

// SetupOTel installs a tracer provider exporting over OTLP gRPC and returns
// its shutdown. Disabled tracing leaves the globals alone.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
		semconv.ServiceNamespace(serviceNamespace),
		semconv.ServiceInstanceID(uuid.NewString()),
	))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	t := &tracing{provider: tp, restore: func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	}}
	return t.shutdown, nil
}

func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

// sampler honours an incoming sampling decision and otherwise samples
// ratio of root spans.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
