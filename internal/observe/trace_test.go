package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanContext starts a span on an in-memory provider and returns its context.
func spanContext(t *testing.T) context.Context {
	t.Helper()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	t.Cleanup(func() { span.End() })
	return ctx
}

// captureLogs swaps the default slog handler for one writing to the returned
// buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	cid := CorrelationID(spanContext(t))
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q is not lowercase hex", cid)
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		cid := CorrelationID(spanContext(t))
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %q", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "store recipe")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan context has no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "store recipe" {
		t.Fatalf("recorded spans = %+v, want one named %q", spans, "store recipe")
	}
}

func TestLogger_WithAndWithoutSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(spanContext(t)).Info("saved recipe")
	if out := buf.String(); !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("in-span log line missing trace fields: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("saved recipe")
	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("no-span log line unexpectedly has trace_id: %s", out)
	}
}
