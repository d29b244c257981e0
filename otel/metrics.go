package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/flowstone-io/flowstone"
)

// MetricsHandler translates activity lifecycle events into OpenTelemetry
// metrics. It records counters for completed and discarded runs, an error
// counter, and a run-duration histogram measured from enter to leave.
type MetricsHandler struct {
	completions metric.Int64Counter
	discards    metric.Int64Counter
	errors      metric.Int64Counter
	runDuration metric.Float64Histogram

	mu      sync.Mutex
	entered map[string]time.Time // executionID -> enter time
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	completions, err := meter.Int64Counter("flowstone.activity.completions",
		metric.WithDescription("Number of completed activity runs"),
	)
	if err != nil {
		return nil, err
	}

	discards, err := meter.Int64Counter("flowstone.activity.discards",
		metric.WithDescription("Number of discarded activity runs"),
	)
	if err != nil {
		return nil, err
	}

	errors, err := meter.Int64Counter("flowstone.activity.errors",
		metric.WithDescription("Number of activity errors"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram("flowstone.activity.duration",
		metric.WithDescription("Duration of one activity run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		completions: completions,
		discards:    discards,
		errors:      errors,
		runDuration: runDuration,
		entered:     make(map[string]time.Time),
	}, nil
}

// Observe subscribes the handler to every event the activity publishes.
func (h *MetricsHandler) Observe(a *flowstone.Activity) error {
	_, err := a.On("*", h.Handle)
	return err
}

// Handle processes one activity event and records the appropriate metrics.
func (h *MetricsHandler) Handle(msg *flowstone.Message) {
	switch msg.Fields.RoutingKey {
	case "activity.enter":
		h.mu.Lock()
		h.entered[msg.Content.ExecutionID] = time.Now()
		h.mu.Unlock()
	case "activity.end":
		h.completions.Add(context.Background(), 1, h.attrs(msg))
	case "activity.discard":
		h.discards.Add(context.Background(), 1, h.attrs(msg))
	case "activity.error":
		h.errors.Add(context.Background(), 1, h.attrs(msg))
	case "activity.leave":
		h.handleLeave(msg)
	}
}

func (h *MetricsHandler) handleLeave(msg *flowstone.Message) {
	executionID := msg.Content.ExecutionID

	h.mu.Lock()
	enteredAt, ok := h.entered[executionID]
	if ok {
		delete(h.entered, executionID)
	}
	h.mu.Unlock()

	if ok {
		h.runDuration.Record(context.Background(), time.Since(enteredAt).Seconds(), h.attrs(msg))
	}
}

func (h *MetricsHandler) attrs(msg *flowstone.Message) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("element_id", msg.Content.ID),
		attribute.String("element_type", msg.Content.Type),
	)
}
