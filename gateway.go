package flowstone

import "github.com/flowstone-io/flowstone/message"

// Gateway element types.
const (
	TypeExclusiveGateway = "exclusivegateway"
	TypeParallelGateway  = "parallelgateway"
)

// ExclusiveGatewayBehaviour completes immediately; the exclusive decision
// is made at leave time, where outbound evaluation short-circuits on the
// first truthy condition and discards the rest.
type ExclusiveGatewayBehaviour struct {
	activity *Activity
}

var _ Behaviour = (*ExclusiveGatewayBehaviour)(nil)

// NewExclusiveGatewayBehaviour is the TypeExclusiveGateway factory.
func NewExclusiveGatewayBehaviour(a *Activity) Behaviour {
	return &ExclusiveGatewayBehaviour{activity: a}
}

func (g *ExclusiveGatewayBehaviour) Execute(msg *Message) {
	g.activity.Broker().Publish("execution", "execute.completed", msg.Content.Clone(),
		message.Properties{Persistent: true})
}

// ParallelGatewayBehaviour completes immediately. Joining happens before
// the run starts, on the inbound queue, once every distinct inbound source
// has reported; forking is plain unconditional outbound take.
type ParallelGatewayBehaviour struct {
	activity *Activity
}

var _ Behaviour = (*ParallelGatewayBehaviour)(nil)

// NewParallelGatewayBehaviour is the TypeParallelGateway factory.
func NewParallelGatewayBehaviour(a *Activity) Behaviour {
	return &ParallelGatewayBehaviour{activity: a}
}

func (g *ParallelGatewayBehaviour) Execute(msg *Message) {
	g.activity.Broker().Publish("execution", "execute.completed", msg.Content.Clone(),
		message.Properties{Persistent: true})
}
