// Package broker provides the in-process message bus every kernel component
// communicates through: named exchanges routed by topic pattern to durable
// or transient queues, with acknowledgement, consumer priorities, mandatory
// returns, and full state export/import for exact resume.
//
// Dispatch is synchronous and single-goroutine by design. A handler that
// panics propagates to the publisher; a Broker must only be used from one
// goroutine at a time.
package broker

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/flowstone-io/flowstone/message"
)

// Broker errors.
var (
	ErrExchangeNotFound = errors.New("exchange not found")
	ErrQueueNotFound    = errors.New("queue not found")
	ErrExchangeType     = errors.New("exchange type mismatch")
	ErrConsumerTagTaken = errors.New("consumer tag already taken")
	ErrQueueExclusive   = errors.New("queue is exclusively consumed")
)

// ExchangeType determines routing behavior.
type ExchangeType string

const (
	// Topic delivers to every binding whose pattern matches the routing key.
	Topic ExchangeType = "topic"
	// Direct delivers to the first matching binding only.
	Direct ExchangeType = "direct"
)

// ReturnHandler receives messages published with Mandatory that matched no
// binding.
type ReturnHandler func(*Message)

// Broker is a per-owner message bus.
type Broker struct {
	owner any

	exchanges     map[string]*Exchange
	exchangeOrder []string
	queues        map[string]*Queue
	queueOrder    []string
	consumers     map[string]*Consumer

	onReturn []ReturnHandler
	tagSeq   int
	queueSeq int
}

// New creates a broker owned by owner. The owner is only used for
// diagnostics and for handlers that want to reach back to the publishing
// entity.
func New(owner any) *Broker {
	return &Broker{
		owner:     owner,
		exchanges: make(map[string]*Exchange),
		queues:    make(map[string]*Queue),
		consumers: make(map[string]*Consumer),
	}
}

// Owner returns the owning entity.
func (b *Broker) Owner() any { return b.owner }

// AssertExchange declares an exchange, creating it if absent. Re-declaring
// with a different type is an error.
func (b *Broker) AssertExchange(name string, typ ExchangeType, opts ...ExchangeOption) (*Exchange, error) {
	if e, ok := b.exchanges[name]; ok {
		if e.typ != typ {
			return nil, fmt.Errorf("%w: %s is %s", ErrExchangeType, name, e.typ)
		}
		return e, nil
	}
	e := newExchange(b, name, typ, opts...)
	b.exchanges[name] = e
	b.exchangeOrder = append(b.exchangeOrder, name)
	return e, nil
}

// GetExchange returns a declared exchange.
func (b *Broker) GetExchange(name string) (*Exchange, bool) {
	e, ok := b.exchanges[name]
	return e, ok
}

// AssertQueue declares a queue, creating it if absent.
func (b *Broker) AssertQueue(name string, opts ...QueueOption) *Queue {
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := newQueue(b, name, opts...)
	b.queues[name] = q
	b.queueOrder = append(b.queueOrder, name)
	return q
}

// GetQueue returns a declared queue.
func (b *Broker) GetQueue(name string) (*Queue, bool) {
	q, ok := b.queues[name]
	return q, ok
}

// DeleteQueue removes a queue, cancelling its consumers and dropping its
// messages.
func (b *Broker) DeleteQueue(name string) {
	q, ok := b.queues[name]
	if !ok {
		return
	}
	for _, c := range q.consumersSnapshot() {
		b.Cancel(c.Tag())
	}
	for _, e := range b.exchanges {
		e.unbindQueue(q, "")
	}
	delete(b.queues, name)
	b.queueOrder = removeString(b.queueOrder, name)
}

// PurgeQueue drops all pending messages from a queue and returns how many
// were dropped.
func (b *Broker) PurgeQueue(name string) int {
	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	return q.Purge()
}

// BindQueue binds a queue to an exchange with a topic pattern. Tokens are
// separated by ".", "*" matches exactly one token and "#" matches zero or
// more.
func (b *Broker) BindQueue(queue, exchange, pattern string, opts ...BindOption) error {
	e, ok := b.exchanges[exchange]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExchangeNotFound, exchange)
	}
	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	e.bindQueue(q, pattern, opts...)
	return nil
}

// UnbindQueue removes a binding.
func (b *Broker) UnbindQueue(queue, exchange, pattern string) {
	e, ok := b.exchanges[exchange]
	if !ok {
		return
	}
	q, ok := b.queues[queue]
	if !ok {
		return
	}
	e.unbindQueue(q, pattern)
}

// Publish routes content through an exchange. The content is deep-cloned on
// entry so the published snapshot is immune to later mutation by the caller.
func (b *Broker) Publish(exchange, routingKey string, content *message.Content, props ...message.Properties) error {
	e, ok := b.exchanges[exchange]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExchangeNotFound, exchange)
	}
	var properties message.Properties
	if len(props) > 0 {
		properties = props[0]
	}
	msg := &Message{
		Fields:     message.Fields{RoutingKey: routingKey, Exchange: exchange},
		Content:    content.Clone(),
		Properties: properties,
	}
	e.publish(msg)
	return nil
}

// SendToQueue places content directly on a queue, bypassing routing.
func (b *Broker) SendToQueue(queue, routingKey string, content *message.Content, props ...message.Properties) error {
	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	var properties message.Properties
	if len(props) > 0 {
		properties = props[0]
	}
	q.queueMessage(&Message{
		Fields:     message.Fields{RoutingKey: routingKey},
		Content:    content.Clone(),
		Properties: properties,
	})
	return nil
}

// Consume registers a handler on a queue. Unless NoAck is set the handler
// must eventually call Ack, Nack, or Reject on each delivered message.
func (b *Broker) Consume(queue string, handler Handler, opts ...ConsumeOption) (*Consumer, error) {
	q, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	return b.addConsumer(q, handler, opts...)
}

// SubscribeTmp binds a temporary auto-deleted queue to an exchange pattern
// and consumes it. The subscription disappears when cancelled.
func (b *Broker) SubscribeTmp(exchange, pattern string, handler Handler, opts ...ConsumeOption) (*Consumer, error) {
	if _, ok := b.exchanges[exchange]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrExchangeNotFound, exchange)
	}
	b.queueSeq++
	name := "tmp-q-" + strconv.Itoa(b.queueSeq)
	b.AssertQueue(name, WithAutoDelete(), WithTransient())
	if err := b.BindQueue(name, exchange, pattern); err != nil {
		return nil, err
	}
	return b.Consume(name, handler, opts...)
}

// SubscribeOnce delivers at most one matching message to the handler and
// then cancels itself.
func (b *Broker) SubscribeOnce(exchange, pattern string, handler Handler, opts ...ConsumeOption) (*Consumer, error) {
	var consumer *Consumer
	once, err := b.SubscribeTmp(exchange, pattern, func(msg *Message) {
		consumer.Cancel()
		handler(msg)
	}, append(opts, WithNoAck())...)
	if err != nil {
		return nil, err
	}
	consumer = once
	return once, nil
}

// Cancel removes a consumer by tag. Messages delivered to it but not yet
// acknowledged return to the queue and will be redelivered.
func (b *Broker) Cancel(consumerTag string) {
	c, ok := b.consumers[consumerTag]
	if !ok {
		return
	}
	delete(b.consumers, consumerTag)
	c.queue.removeConsumer(c)
}

// CancelAll removes every consumer, keeping queued messages for later
// redelivery. Used by stop().
func (b *Broker) CancelAll() {
	for tag := range b.consumers {
		b.Cancel(tag)
	}
}

// OnReturn registers a handler for mandatory messages that matched no
// binding.
func (b *Broker) OnReturn(handler ReturnHandler) {
	b.onReturn = append(b.onReturn, handler)
}

func (b *Broker) emitReturn(msg *Message) {
	for _, h := range b.onReturn {
		h(msg)
	}
}

func (b *Broker) addConsumer(q *Queue, handler Handler, opts ...ConsumeOption) (*Consumer, error) {
	options := consumeOptions{prefetch: 1}
	for _, opt := range opts {
		opt(&options)
	}
	if options.tag == "" {
		b.tagSeq++
		options.tag = "ct-" + strconv.Itoa(b.tagSeq)
	}
	if _, taken := b.consumers[options.tag]; taken {
		return nil, fmt.Errorf("%w: %s", ErrConsumerTagTaken, options.tag)
	}
	c, err := q.addConsumer(handler, options)
	if err != nil {
		return nil, err
	}
	b.consumers[options.tag] = c
	q.deliverPending()
	return c, nil
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
