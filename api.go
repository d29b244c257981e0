package flowstone

import (
	"github.com/flowstone-io/flowstone/broker"
	"github.com/flowstone-io/flowstone/message"
)

// Api is a command handle addressed at one execution scope. Commands are
// published on the activity's api exchange as activity.<verb>.<executionId>
// messages, so whoever owns the scope (run loop, execution wrapper, or a
// waiting behaviour) picks them up in priority order.
type Api struct {
	activity *Activity
	broker   *broker.Broker
	content  *message.Content
}

func newApi(a *Activity, content *message.Content) *Api {
	return &Api{activity: a, broker: a.broker, content: content}
}

// ID returns the addressed element id.
func (api *Api) ID() string { return api.content.ID }

// Type returns the addressed element type.
func (api *Api) Type() string { return api.content.Type }

// ExecutionID returns the addressed execution scope.
func (api *Api) ExecutionID() string { return api.content.ExecutionID }

// Content returns the message content the handle was built from.
func (api *Api) Content() *message.Content { return api.content }

// Owner returns the activity behind the handle.
func (api *Api) Owner() *Activity { return api.activity }

// Signal delivers a signal, typically resuming a waiting behaviour. The
// payload travels as the message content.
func (api *Api) Signal(payload any) {
	api.sendApiMessage("signal", payload)
}

// Cancel cancels the addressed scope.
func (api *Api) Cancel() {
	api.sendApiMessage("cancel", nil)
}

// Discard discards the addressed scope.
func (api *Api) Discard() {
	api.sendApiMessage("discard", nil)
}

// Stop halts the addressed scope, preserving state for resume.
func (api *Api) Stop() {
	api.sendApiMessage("stop", nil)
}

// Shake traces the outbound paths of the addressed activity. The result
// is published as an activity.shake event.
func (api *Api) Shake() {
	api.sendApiMessage("shake", nil)
}

func (api *Api) sendApiMessage(verb string, payload any) {
	content := api.content.Clone()
	if payload != nil {
		content.Message = message.CloneValue(payload)
	}
	api.broker.Publish("api", "activity."+verb+"."+content.ExecutionID, content,
		message.Properties{Type: verb})
}

// ResolveExpression evaluates an expression against the handle's content
// and the shared environment.
func (api *Api) ResolveExpression(expression string) (any, error) {
	msg := &Message{Content: api.content}
	return ResolveExpression(api.activity.environment, expression, msg)
}

// GetPostponed returns handles for the in-flight sub-executions of the
// addressed activity.
func (api *Api) GetPostponed() []*Api {
	if api.activity.execution == nil {
		return nil
	}
	return api.activity.execution.GetPostponed()
}
