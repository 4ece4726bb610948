package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

func TestOTelEmitterEmit(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		TaskID: "t-001",
		Seq:    2,
		State:  "Executing",
		Msg:    MsgStateChanged,
		Meta: map[string]interface{}{
			"from":    "Preparing",
			"to":      "Executing",
			"attempt": 1,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != MsgStateChanged {
		t.Errorf("span name = %q, want %q", span.Name, MsgStateChanged)
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["taskrun.task_id"]; got != "t-001" {
		t.Errorf("task_id = %v, want t-001", got)
	}
	if got := attrs["taskrun.seq"]; got != int64(2) {
		t.Errorf("seq = %v, want 2", got)
	}
	if got := attrs["taskrun.state"]; got != "Executing" {
		t.Errorf("state = %v, want Executing", got)
	}
	if got := attrs["taskrun.from"]; got != "Preparing" {
		t.Errorf("from = %v, want Preparing", got)
	}
	if got := attrs["taskrun.attempt"]; got != int64(1) {
		t.Errorf("attempt = %v, want 1", got)
	}
}

func TestOTelEmitterErrorStatus(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		TaskID: "t-002",
		Msg:    MsgTaskFailed,
		Meta:   map[string]interface{}{"error": "provider unreachable"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "provider unreachable" {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}
}

func TestOTelEmitterFlush(t *testing.T) {
	_, emitter := newTestTracer(t)

	emitter.Emit(Event{TaskID: "t-003", Msg: MsgTaskCompleted})
	if err := emitter.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
}
