package otel_test

import (
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flowstone-io/flowstone"
	"github.com/flowstone-io/flowstone/message"
	flowotel "github.com/flowstone-io/flowstone/otel"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func event(routingKey, id, executionID string) *flowstone.Message {
	return &flowstone.Message{
		Fields: message.Fields{RoutingKey: routingKey},
		Content: &message.Content{
			ID:          id,
			Type:        "task",
			ExecutionID: executionID,
		},
	}
}

func TestTracingHandler_EnterCreatesSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := flowotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(event("activity.enter", "task1", "exec-1"))

	sc := h.ActiveSpanContext("exec-1")
	if !sc.IsValid() {
		t.Fatal("expected valid span context after activity.enter")
	}

	h.Handle(event("activity.leave", "task1", "exec-1"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}

	span := spans[0]
	if span.Name != "activity:task1" {
		t.Errorf("expected span name 'activity:task1', got %q", span.Name)
	}

	found := false
	for _, attr := range span.Attributes {
		if string(attr.Key) == "flowstone.execution_id" && attr.Value.AsString() == "exec-1" {
			found = true
		}
	}
	if !found {
		t.Error("expected flowstone.execution_id attribute on span")
	}
}

func TestTracingHandler_ProgressEventsRecordedOnSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := flowotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(event("activity.enter", "task1", "exec-1"))
	h.Handle(event("activity.start", "task1", "exec-1"))
	h.Handle(event("activity.end", "task1", "exec-1"))
	h.Handle(event("activity.leave", "task1", "exec-1"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if got := len(spans[0].Events); got != 2 {
		t.Fatalf("expected two span events, got %d", got)
	}
	if spans[0].Events[0].Name != "activity.start" {
		t.Errorf("expected first span event activity.start, got %q", spans[0].Events[0].Name)
	}
}

func TestTracingHandler_ErrorSetsSpanStatus(t *testing.T) {
	exporter, tp := newTestTracer()
	h := flowotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(event("activity.enter", "task1", "exec-1"))

	errored := event("activity.error", "task1", "exec-1")
	errored.Content.Error = &message.Err{Code: "ActivityError", Message: "boom"}
	h.Handle(errored)

	h.Handle(event("activity.leave", "task1", "exec-1"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "boom" {
		t.Errorf("expected status description 'boom', got %q", spans[0].Status.Description)
	}
}

func TestTracingHandler_OverlappingExecutionsGetSeparateSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := flowotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(event("activity.enter", "task1", "exec-1"))
	h.Handle(event("activity.enter", "task1", "exec-2"))
	h.Handle(event("activity.leave", "task1", "exec-1"))
	h.Handle(event("activity.leave", "task1", "exec-2"))

	if got := len(exporter.GetSpans()); got != 2 {
		t.Fatalf("expected two spans, got %d", got)
	}
	if h.ActiveSpanContext("exec-1").IsValid() || h.ActiveSpanContext("exec-2").IsValid() {
		t.Error("expected no active span contexts after both runs left")
	}
}
