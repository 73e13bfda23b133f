package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/medcia/medreminder/internal/config"
)

func otelCfg(insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "medreminder-test",
		SampleRatio: 1.0,
	}
}

// keptSpans survives provider shutdown, which would otherwise reset it.
type keptSpans struct {
	*tracetest.InMemoryExporter
}

func (keptSpans) Shutdown(context.Context) error { return nil }

// memoryExporter swaps the OTLP exporter for an in-memory one.
func memoryExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	orig := newSpanExporter
	newSpanExporter = func(context.Context, ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
		return keptSpans{exp}, nil
	}
	t.Cleanup(func() { newSpanExporter = orig })
	return exp
}

func TestSetupOTel_Disabled_LeavesGlobals(t *testing.T) {
	prev := otel.GetTracerProvider()

	cfg := otelCfg(true)
	cfg.Enabled = false
	shutdown, err := SetupOTel(context.Background(), cfg, "v0.0.0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled tracing must not replace the provider")
	}
}

func TestSetupOTel_ShutdownFlushesSweepSpans(t *testing.T) {
	exp := memoryExporter(t)
	prev := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), otelCfg(true), "v1.2.3")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected *sdktrace.TracerProvider")
	}

	ctx, span := otel.Tracer("services/Dispatcher").Start(context.Background(), "Run")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()
	if carrier.Get("traceparent") == "" {
		t.Fatalf("expected traceparent to be injected")
	}

	// Batched spans only leave the process on shutdown.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "Run" {
		t.Fatalf("exported spans = %+v; want the Run span", spans)
	}

	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		string(semconv.ServiceNameKey):      "medreminder-test",
		string(semconv.ServiceVersionKey):   "v1.2.3",
		string(semconv.ServiceNamespaceKey): serviceNamespace,
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Fatalf("resource %s = %q; want %q", k, attrs[k], v)
		}
	}
	if attrs[string(semconv.ServiceInstanceIDKey)] == "" {
		t.Fatalf("resource lacks service.instance.id")
	}

	if otel.GetTracerProvider() != prev {
		t.Fatalf("shutdown must restore the previous provider")
	}
}

func TestSetupOTel_InstanceIDsDiffer(t *testing.T) {
	exp := memoryExporter(t)
	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		shutdown, err := SetupOTel(context.Background(), otelCfg(false), "v1")
		if err != nil {
			t.Fatalf("SetupOTel: %v", err)
		}
		_, span := otel.Tracer("test").Start(context.Background(), "Run")
		span.End()
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
		for _, s := range exp.GetSpans() {
			v, _ := s.Resource.Set().Value(semconv.ServiceInstanceIDKey)
			ids[v.Emit()] = true
		}
		exp.Reset()
	}
	if len(ids) != 2 {
		t.Fatalf("two processes must report two instance ids, got %v", ids)
	}
}

func TestSetupOTel_ExporterError_KeepsGlobals(t *testing.T) {
	orig := newSpanExporter
	t.Cleanup(func() { newSpanExporter = orig })
	newSpanExporter = func(context.Context, ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
		return nil, errors.New("boom-exporter")
	}

	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	if _, err := SetupOTel(context.Background(), otelCfg(true), "v0"); err == nil {
		t.Fatalf("expected error, got nil")
	}
	if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
		t.Fatalf("globals changed on failure")
	}
}

func TestSetupOTel_RealExporterIsLazy(t *testing.T) {
	// No collector listens on the endpoint; creating the exporter must not dial.
	for _, insecure := range []bool{true, false} {
		shutdown, err := SetupOTel(context.Background(), otelCfg(insecure), "v0")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = shutdown(ctx)
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{
		1:    "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for ratio, root := range cases {
		if got := sampler(ratio).Description(); !strings.Contains(got, "root:"+root) {
			t.Fatalf("sampler(%v) = %q; want root %s", ratio, got, root)
		}
	}
}
