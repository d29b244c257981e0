package broker

import "strings"

// ExchangeOption configures exchange declaration.
type ExchangeOption func(*exchangeOptions)

type exchangeOptions struct {
	durable bool
}

// WithExchangeTransient marks the exchange as excluded from state export.
func WithExchangeTransient() ExchangeOption {
	return func(o *exchangeOptions) { o.durable = false }
}

// Exchange routes published messages to bound queues.
type Exchange struct {
	broker   *Broker
	name     string
	typ      ExchangeType
	options  exchangeOptions
	bindings []*Binding
}

// Binding connects a queue to an exchange through a pattern.
type Binding struct {
	queue    *Queue
	pattern  string
	priority int
}

// BindOption configures a binding.
type BindOption func(*Binding)

// WithBindingPriority orders bindings on direct exchanges; higher wins.
func WithBindingPriority(priority int) BindOption {
	return func(bd *Binding) { bd.priority = priority }
}

func newExchange(b *Broker, name string, typ ExchangeType, opts ...ExchangeOption) *Exchange {
	options := exchangeOptions{durable: true}
	for _, opt := range opts {
		opt(&options)
	}
	return &Exchange{broker: b, name: name, typ: typ, options: options}
}

// Name returns the exchange name.
func (e *Exchange) Name() string { return e.name }

// Type returns the exchange routing type.
func (e *Exchange) Type() ExchangeType { return e.typ }

func (e *Exchange) bindQueue(q *Queue, pattern string, opts ...BindOption) {
	for _, bd := range e.bindings {
		if bd.queue == q && bd.pattern == pattern {
			return
		}
	}
	bd := &Binding{queue: q, pattern: pattern}
	for _, opt := range opts {
		opt(bd)
	}
	// Keep bindings ordered by descending priority, stable on insertion.
	at := len(e.bindings)
	for i, existing := range e.bindings {
		if bd.priority > existing.priority {
			at = i
			break
		}
	}
	e.bindings = append(e.bindings, nil)
	copy(e.bindings[at+1:], e.bindings[at:])
	e.bindings[at] = bd
}

func (e *Exchange) unbindQueue(q *Queue, pattern string) {
	kept := e.bindings[:0]
	for _, bd := range e.bindings {
		if bd.queue == q && (pattern == "" || bd.pattern == pattern) {
			continue
		}
		kept = append(kept, bd)
	}
	e.bindings = kept
}

func (e *Exchange) publish(msg *Message) {
	var matched []*Queue
	for _, bd := range e.bindings {
		if !matchPattern(bd.pattern, msg.Fields.RoutingKey) {
			continue
		}
		matched = append(matched, bd.queue)
		if e.typ == Direct {
			break
		}
	}

	if len(matched) == 0 {
		if msg.Properties.Mandatory {
			e.broker.emitReturn(msg)
		}
		return
	}

	// Queue on every destination first so that FIFO order holds even when
	// a handler publishes re-entrantly, then run delivery.
	for _, q := range matched {
		q.enqueue(msg.copyForQueue())
	}
	for _, q := range matched {
		q.deliverPending()
	}
}

// matchPattern reports whether pattern matches the routing key. Tokens are
// separated by ".", "*" matches one token, "#" matches zero or more.
func matchPattern(pattern, routingKey string) bool {
	if pattern == "#" || pattern == routingKey {
		return true
	}
	return matchTokens(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchTokens(pattern, key []string) bool {
	for len(pattern) > 0 {
		p := pattern[0]
		switch p {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchTokens(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != p {
				return false
			}
		}
		pattern = pattern[1:]
		key = key[1:]
	}
	return len(key) == 0
}
