package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "off")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	cfg := ConfigFromEnv("scheduling-service")
	if cfg.Enabled || cfg.SampleRatio != 0.25 || cfg.ServiceName != "scheduling-service" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	if got := ConfigFromEnv("x").SampleRatio; got != 1 {
		t.Fatalf("out of range ratio must fall back to 1, got %v", got)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tc := Capture(ctx)
	if tc.Empty() {
		t.Fatal("expected traceparent")
	}
	restored := trace.SpanContextFromContext(tc.Resume(context.Background()))
	if restored.TraceID() != traceID || !restored.IsRemote() {
		t.Fatalf("trace not resumed: %+v", restored)
	}
}

func TestResumeEmptyKeepsContext(t *testing.T) {
	ctx := context.Background()
	if got := (Carried{Tracestate: "vendor=1"}).Resume(ctx); got != ctx {
		t.Fatal("tracestate alone must not change the context")
	}
}
