package flowstone

import (
	"log/slog"

	"github.com/flowstone-io/flowstone/broker"
)

// EventLogger mirrors an activity's lifecycle events onto a structured
// logger. It is a plain event subscriber; attach it with Observe.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an event logger. A nil logger uses slog.Default.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger}
}

// Observe subscribes the logger to every event the activity publishes.
func (l *EventLogger) Observe(a *Activity) (*broker.Consumer, error) {
	return a.On("*", l.Handle)
}

// Handle logs a single activity event.
func (l *EventLogger) Handle(msg *Message) {
	attrs := []any{
		"element", msg.Content.ID,
		"execution_id", msg.Content.ExecutionID,
	}
	if err := msg.Content.Error; err != nil {
		attrs = append(attrs, "error", err.Message)
		l.logger.Error(msg.Fields.RoutingKey, attrs...)
		return
	}
	l.logger.Debug(msg.Fields.RoutingKey, attrs...)
}
