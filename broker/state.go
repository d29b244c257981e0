package broker

import "github.com/flowstone-io/flowstone/message"

// State is the exported broker state: durable exchanges with their
// bindings, and durable queues with their persistent messages. It is plain
// data and round-trips through JSON.
type State struct {
	Exchanges []ExchangeState `json:"exchanges,omitempty"`
	Queues    []QueueState    `json:"queues,omitempty"`
}

// ExchangeState captures one durable exchange.
type ExchangeState struct {
	Name     string         `json:"name"`
	Type     ExchangeType   `json:"type"`
	Bindings []BindingState `json:"bindings,omitempty"`
}

// BindingState captures one binding to a durable queue.
type BindingState struct {
	Queue    string `json:"queue"`
	Pattern  string `json:"pattern"`
	Priority int    `json:"priority,omitempty"`
}

// QueueState captures one durable queue and its persistent messages.
type QueueState struct {
	Name     string         `json:"name"`
	Messages []MessageState `json:"messages,omitempty"`
}

// MessageState captures one queued message.
type MessageState struct {
	Fields     message.Fields     `json:"fields"`
	Content    *message.Content   `json:"content,omitempty"`
	Properties message.Properties `json:"properties,omitempty"`
}

// GetState exports the full durable state of the broker.
func (b *Broker) GetState() *State {
	state := &State{}

	for _, name := range b.exchangeOrder {
		e := b.exchanges[name]
		if !e.options.durable {
			continue
		}
		es := ExchangeState{Name: e.name, Type: e.typ}
		for _, bd := range e.bindings {
			if !bd.queue.options.durable {
				continue
			}
			es.Bindings = append(es.Bindings, BindingState{
				Queue:    bd.queue.name,
				Pattern:  bd.pattern,
				Priority: bd.priority,
			})
		}
		state.Exchanges = append(state.Exchanges, es)
	}

	for _, name := range b.queueOrder {
		q := b.queues[name]
		if !q.options.durable {
			continue
		}
		qs := QueueState{Name: q.name}
		for _, m := range q.messages {
			if !m.Properties.Persistent {
				continue
			}
			qs.Messages = append(qs.Messages, MessageState{
				Fields:     m.Fields,
				Content:    m.Content.Clone(),
				Properties: m.Properties,
			})
		}
		state.Queues = append(state.Queues, qs)
	}

	return state
}

// Recover restores broker state from an export. Restored messages are
// flagged redelivered; they are not dispatched until a consumer registers.
func (b *Broker) Recover(state *State) {
	if state == nil {
		return
	}

	for _, qs := range state.Queues {
		q := b.AssertQueue(qs.Name)
		q.messages = q.messages[:0]
		for _, ms := range qs.Messages {
			fields := ms.Fields
			fields.Redelivered = true
			fields.ConsumerTag = ""
			q.enqueue(&Message{
				Fields:     fields,
				Content:    ms.Content.Clone(),
				Properties: ms.Properties,
			})
		}
	}

	for _, es := range state.Exchanges {
		if _, err := b.AssertExchange(es.Name, es.Type); err != nil {
			continue
		}
		for _, bs := range es.Bindings {
			b.AssertQueue(bs.Queue)
			_ = b.BindQueue(bs.Queue, es.Name, bs.Pattern, WithBindingPriority(bs.Priority))
		}
	}
}
