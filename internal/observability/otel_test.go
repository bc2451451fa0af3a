package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tbourn/go-movie-chat/internal/config"
)

// withExporter swaps the exporter factory and restores it and the OTel
// globals when the test ends.
func withExporter(t *testing.T, fn func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error)) {
	t.Helper()
	prevDial := dialExporter
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	dialExporter = fn
	t.Cleanup(func() {
		dialExporter = prevDial
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	dialed := false
	withExporter(t, func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
		dialed = true
		return tracetest.NewInMemoryExporter(), nil
	})
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "server", "dev")
	if err != nil || shutdown == nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if dialed || otel.GetTracerProvider() != before {
		t.Fatalf("disabled tracing must not touch the globals")
	}
}

func TestSetupOTel_ExportsSpansWithRole(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	var got config.OTELConfig
	withExporter(t, func(_ context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
		got = cfg
		return exp, nil
	})

	cfg := config.OTELConfig{Enabled: true, Endpoint: "otel:4317", Insecure: true, ServiceName: "go-movie-chat", SampleRatio: 1}
	shutdown, err := SetupOTel(context.Background(), cfg, "worker", "v1.2.3")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if got.Endpoint != "otel:4317" {
		t.Fatalf("exporter config not passed through: %+v", got)
	}
	if !hasField(otel.GetTextMapPropagator(), "traceparent") {
		t.Fatalf("trace context propagator not installed")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "enrich")
	span.End()
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("sdk provider not installed")
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	defer func() { _ = shutdown(context.Background()) }()

	if len(spans) != 1 || spans[0].Name != "enrich" {
		t.Fatalf("expected one exported span, got %d", len(spans))
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "go-movie-chat" || attrs["service.version"] != "v1.2.3" || attrs["moviechat.role"] != "worker" {
		t.Fatalf("unexpected resource: %v", attrs)
	}
}

func hasField(p propagation.TextMapPropagator, name string) bool {
	for _, f := range p.Fields() {
		if f == name {
			return true
		}
	}
	return false
}

func TestSetupOTel_ExporterErrorKeepsGlobals(t *testing.T) {
	boom := errors.New("dial failed")
	withExporter(t, func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
		return nil, boom
	})
	before := otel.GetTracerProvider()

	_, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: true, SampleRatio: 1}, "server", "dev")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped exporter error, got %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("provider replaced after a failed setup")
	}
}

func TestSetupOTel_ZeroRatioSamplesNothing(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	withExporter(t, func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) { return exp, nil })

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: true, ServiceName: "svc", SampleRatio: 0}, "server", "dev")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	_, span := otel.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	_ = otel.GetTracerProvider().(*sdktrace.TracerProvider).ForceFlush(context.Background())
	if n := len(exp.GetSpans()); n != 0 {
		t.Fatalf("expected no spans at ratio 0, got %d", n)
	}
}
