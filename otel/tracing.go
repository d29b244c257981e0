// Package otel provides OpenTelemetry integration for activity lifecycle
// events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowstone-io/flowstone"
)

// TracingHandler translates activity lifecycle events into OpenTelemetry
// spans. A span opens on activity.enter and closes on activity.leave,
// keyed by execution id so overlapping runs of the same element stay
// separate.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.RWMutex
	spans map[string]trace.Span // executionID -> span
	ctxs  map[string]context.Context
}

// NewTracingHandler creates a new TracingHandler that uses the given
// tracer to create spans from activity events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
		ctxs:   make(map[string]context.Context),
	}
}

// Observe subscribes the handler to every event the activity publishes.
func (h *TracingHandler) Observe(a *flowstone.Activity) error {
	_, err := a.On("*", h.Handle)
	return err
}

// Handle processes one activity event, creating or ending spans.
func (h *TracingHandler) Handle(msg *flowstone.Message) {
	switch msg.Fields.RoutingKey {
	case "activity.enter":
		h.handleEnter(msg)
	case "activity.error":
		h.handleError(msg)
	case "activity.leave":
		h.handleLeave(msg)
	default:
		h.handleProgress(msg)
	}
}

func (h *TracingHandler) handleEnter(msg *flowstone.Message) {
	content := msg.Content
	ctx, span := h.tracer.Start(context.Background(), "activity:"+content.ID,
		trace.WithAttributes(
			attribute.String("flowstone.element_id", content.ID),
			attribute.String("flowstone.element_type", content.Type),
			attribute.String("flowstone.execution_id", content.ExecutionID),
		),
	)

	h.mu.Lock()
	h.spans[content.ExecutionID] = span
	h.ctxs[content.ExecutionID] = ctx
	h.mu.Unlock()
}

// handleProgress records intermediate lifecycle events (start, wait, end,
// discard, ...) as span events.
func (h *TracingHandler) handleProgress(msg *flowstone.Message) {
	h.mu.RLock()
	span, ok := h.spans[msg.Content.ExecutionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	span.AddEvent(msg.Fields.RoutingKey)
}

func (h *TracingHandler) handleError(msg *flowstone.Message) {
	h.mu.RLock()
	span, ok := h.spans[msg.Content.ExecutionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := msg.Content.Error; err != nil {
		span.SetStatus(codes.Error, err.Message)
	} else {
		span.SetStatus(codes.Error, "activity error")
	}
}

func (h *TracingHandler) handleLeave(msg *flowstone.Message) {
	executionID := msg.Content.ExecutionID

	h.mu.Lock()
	span, ok := h.spans[executionID]
	if ok {
		delete(h.spans, executionID)
		delete(h.ctxs, executionID)
	}
	h.mu.Unlock()

	if ok {
		span.End()
	}
}

// ActiveSpanContext returns the span context for an execution id, or an
// invalid context when no span is active.
func (h *TracingHandler) ActiveSpanContext(executionID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.spans[executionID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}
