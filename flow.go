package flowstone

import (
	"strconv"

	"github.com/flowstone-io/flowstone/broker"
	"github.com/flowstone-io/flowstone/message"
)

// FlowCounters tally what happened on an edge.
type FlowCounters struct {
	Take    int `json:"take"`
	Discard int `json:"discard"`
	Looped  int `json:"looped"`
}

// SequenceFlow is a directed edge between two activities. It is itself a
// small bus-driven entity: Take and Discard publish flow events on its own
// broker, which the target activity's inbound wiring consumes.
type SequenceFlow struct {
	def         *FlowDef
	context     *Context
	environment *Environment
	broker      *broker.Broker
	counters    FlowCounters
	takeSeq     int
}

func newSequenceFlow(def *FlowDef, c *Context) *SequenceFlow {
	f := &SequenceFlow{
		def:         def,
		context:     c,
		environment: c.environment,
	}
	f.broker = broker.New(f)
	f.broker.AssertExchange("event", broker.Topic)
	return f
}

// ID returns the flow id.
func (f *SequenceFlow) ID() string { return f.def.ID }

// SourceID returns the source element id.
func (f *SequenceFlow) SourceID() string { return f.def.SourceID }

// TargetID returns the target element id.
func (f *SequenceFlow) TargetID() string { return f.def.TargetID }

// IsDefault reports whether the source element names this flow as its
// default outbound.
func (f *SequenceFlow) IsDefault() bool {
	source, ok := f.context.ElementByID(f.def.SourceID)
	return ok && source.Default == f.def.ID
}

// HasCondition reports whether the flow carries a condition expression.
func (f *SequenceFlow) HasCondition() bool { return f.def.Condition != "" }

// Counters returns the edge counters.
func (f *SequenceFlow) Counters() FlowCounters { return f.counters }

// Broker exposes the flow's event broker so targets can subscribe.
func (f *SequenceFlow) Broker() *broker.Broker { return f.broker }

// Take fires the edge, forwarding the source completion content.
func (f *SequenceFlow) Take(content *message.Content) {
	f.counters.Take++
	f.takeSeq++
	f.publishEvent("flow.take", content, "take")
}

// Discard propagates a discard along the edge. If the target is already in
// the discard sequence the cascade has looped back; a terminal flow.looped
// event is published instead of re-forwarding.
func (f *SequenceFlow) Discard(content *message.Content) {
	out := f.flowContent(content, "discard")
	for _, visited := range out.DiscardSequence {
		if visited == f.def.TargetID {
			f.counters.Looped++
			f.broker.Publish("event", "flow.looped", out, message.Properties{Type: "looped", Persistent: true})
			return
		}
	}
	out.DiscardSequence = append(out.DiscardSequence, f.def.SourceID)
	f.counters.Discard++
	f.broker.Publish("event", "flow.discard", out, message.Properties{Type: "discard", Persistent: true})
}

// Evaluate runs the flow condition against the completion message. Flows
// without a condition evaluate to true.
func (f *SequenceFlow) Evaluate(msg *Message) (any, error) {
	return EvaluateCondition(f.environment, f.def.Condition, msg)
}

func (f *SequenceFlow) publishEvent(routingKey string, content *message.Content, action string) {
	f.broker.Publish("event", routingKey, f.flowContent(content, action), message.Properties{Type: action, Persistent: true})
}

func (f *SequenceFlow) flowContent(content *message.Content, action string) *message.Content {
	out := content.Clone()
	if out == nil {
		out = &message.Content{}
	}
	out.ID = f.def.ID
	out.Type = f.def.Type
	out.Action = action
	out.SourceID = f.def.SourceID
	out.TargetID = f.def.TargetID
	out.Sequence = f.def.ID + "_" + strconv.Itoa(f.takeSeq)
	out.Inbound = nil
	out.Outbound = nil
	return out
}

// SequenceFlowState is the serializable flow state.
type SequenceFlowState struct {
	ID       string        `json:"id"`
	Counters FlowCounters  `json:"counters"`
	Broker   *broker.State `json:"broker,omitempty"`
}

// GetState exports the flow counters and broker state.
func (f *SequenceFlow) GetState() *SequenceFlowState {
	return &SequenceFlowState{
		ID:       f.def.ID,
		Counters: f.counters,
		Broker:   f.broker.GetState(),
	}
}

// Recover restores flow state from an export.
func (f *SequenceFlow) Recover(state *SequenceFlowState) {
	if state == nil {
		return
	}
	f.counters = state.Counters
	f.broker.Recover(state.Broker)
}

// Association is a non-sequence edge, used to wire compensation handlers.
// It shares take/discard semantics with sequence flows but is never
// condition-evaluated and never joins.
type Association struct {
	def      *FlowDef
	context  *Context
	broker   *broker.Broker
	counters FlowCounters
}

func newAssociation(def *FlowDef, c *Context) *Association {
	a := &Association{def: def, context: c}
	a.broker = broker.New(a)
	a.broker.AssertExchange("event", broker.Topic)
	return a
}

// ID returns the association id.
func (a *Association) ID() string { return a.def.ID }

// SourceID returns the source element id.
func (a *Association) SourceID() string { return a.def.SourceID }

// TargetID returns the target element id.
func (a *Association) TargetID() string { return a.def.TargetID }

// Counters returns the edge counters.
func (a *Association) Counters() FlowCounters { return a.counters }

// Broker exposes the association's event broker.
func (a *Association) Broker() *broker.Broker { return a.broker }

// Take fires the association.
func (a *Association) Take(content *message.Content) {
	a.counters.Take++
	a.publish("association.take", content, "take")
}

// Discard propagates a discard along the association.
func (a *Association) Discard(content *message.Content) {
	a.counters.Discard++
	a.publish("association.discard", content, "discard")
}

func (a *Association) publish(routingKey string, content *message.Content, action string) {
	out := content.Clone()
	if out == nil {
		out = &message.Content{}
	}
	out.ID = a.def.ID
	out.Type = a.def.Type
	out.Action = action
	out.SourceID = a.def.SourceID
	out.TargetID = a.def.TargetID
	a.broker.Publish("event", routingKey, out, message.Properties{Type: action, Persistent: true})
}
