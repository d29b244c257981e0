package flowstone

import (
	"fmt"

	"github.com/flowstone-io/flowstone/broker"
	"github.com/flowstone-io/flowstone/message"
)

// Built-in element types.
const (
	TypeTask       = "task"
	TypeSignalTask = "signaltask"
)

// TaskBehaviour runs a service function and completes with its result. The
// service is named by the element's "service" meta entry, with the element
// id as fallback. A task with no service completes immediately.
type TaskBehaviour struct {
	activity *Activity
}

var _ Behaviour = (*TaskBehaviour)(nil)

// NewTaskBehaviour is the TypeTask factory.
func NewTaskBehaviour(a *Activity) Behaviour {
	return &TaskBehaviour{activity: a}
}

func (t *TaskBehaviour) Execute(msg *Message) {
	content := msg.Content.Clone()
	b := t.activity.Broker()

	name := t.serviceName()
	service, ok := t.activity.Environment().GetService(name)
	if !ok {
		if name != t.activity.ID() {
			errored := content.WithError(message.NewErr(fmt.Errorf("service %s not registered", name), msg.Content))
			b.Publish("execution", "execute.error", errored, message.Properties{Type: "error", Persistent: true})
			return
		}
		// No service bound; the task is a no-op.
		b.Publish("execution", "execute.completed", content, message.Properties{Persistent: true})
		return
	}

	result, err := service(msg)
	if err != nil {
		errored := content.WithError(message.NewErr(err, msg.Content))
		b.Publish("execution", "execute.error", errored, message.Properties{Type: "error", Persistent: true})
		return
	}
	content.Output = result
	b.Publish("execution", "execute.completed", content, message.Properties{Persistent: true})
}

func (t *TaskBehaviour) serviceName() string {
	if meta := t.activity.Definition().Meta; meta != nil {
		if name, ok := meta["service"].(string); ok && name != "" {
			return name
		}
	}
	return t.activity.ID()
}

// SignalTaskBehaviour parks the execution until an api signal arrives. The
// signal payload becomes the output. While waiting, the execution survives
// stop, state export, and resume through the execute-queue ledger.
type SignalTaskBehaviour struct {
	activity *Activity
}

var _ Behaviour = (*SignalTaskBehaviour)(nil)

// NewSignalTaskBehaviour is the TypeSignalTask factory.
func NewSignalTaskBehaviour(a *Activity) Behaviour {
	return &SignalTaskBehaviour{activity: a}
}

func (t *SignalTaskBehaviour) Execute(msg *Message) {
	content := msg.Content.Clone()
	executionID := content.ExecutionID
	b := t.activity.Broker()

	var consumer *broker.Consumer
	consumer, err := b.SubscribeTmp("api", "activity.*."+executionID, func(apiMsg *Message) {
		switch apiMsg.Properties.Type {
		case "signal":
			consumer.Cancel()
			completed := content.Clone()
			completed.Output = message.CloneValue(apiMsg.Content.Message)
			b.Publish("execution", "execute.completed", completed, message.Properties{Persistent: true})
		case "cancel":
			consumer.Cancel()
			b.Publish("execution", "execute.completed", content.Clone(), message.Properties{Persistent: true})
		case "discard":
			consumer.Cancel()
			b.Publish("execution", "execute.discard", content.Clone(), message.Properties{Persistent: true})
		case "stop":
			consumer.Cancel()
		}
	}, broker.WithNoAck(), broker.WithPriority(priorityAPI))
	if err != nil {
		return
	}

	wait := content.Clone()
	wait.State = "wait"
	// A redelivered execute already has its wait entry on the ledger.
	wait.IgnoreIfExecuting = msg.Fields.Redelivered
	b.Publish("execution", "execute.wait", wait, message.Properties{Type: "wait", Persistent: true})
}
