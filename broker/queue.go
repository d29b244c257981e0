package broker

import "github.com/flowstone-io/flowstone/message"

// Handler consumes delivered messages. Routing information is available on
// the message fields.
type Handler func(*Message)

// Message is one delivery on a queue.
type Message struct {
	Fields     message.Fields
	Content    *message.Content
	Properties message.Properties

	queue     *Queue
	delivered bool
	consumed  bool
}

// Ack removes the message from its queue. Safe to call once; repeated calls
// are ignored.
func (m *Message) Ack() {
	if m.consumed || m.queue == nil {
		return
	}
	m.consumed = true
	m.queue.dropMessage(m)
	m.queue.deliverPending()
}

// Nack returns the message to the queue for redelivery when requeue is
// true, otherwise drops it.
func (m *Message) Nack(requeue bool) {
	if m.consumed || m.queue == nil {
		return
	}
	if !requeue {
		m.Reject()
		return
	}
	m.delivered = false
	m.Fields.Redelivered = true
	m.Fields.ConsumerTag = ""
	m.queue.deliverPending()
}

// Reject drops the message without redelivery.
func (m *Message) Reject() {
	if m.consumed || m.queue == nil {
		return
	}
	m.consumed = true
	m.queue.dropMessage(m)
	m.queue.deliverPending()
}

func (m *Message) copyForQueue() *Message {
	return &Message{
		Fields:     m.Fields,
		Content:    m.Content.Clone(),
		Properties: m.Properties,
	}
}

// QueueOption configures queue declaration.
type QueueOption func(*queueOptions)

type queueOptions struct {
	durable    bool
	autoDelete bool
}

// WithTransient excludes the queue from state export.
func WithTransient() QueueOption {
	return func(o *queueOptions) { o.durable = false }
}

// WithAutoDelete deletes the queue when its last consumer is cancelled.
func WithAutoDelete() QueueOption {
	return func(o *queueOptions) { o.autoDelete = true }
}

// Queue holds messages in FIFO order and feeds them to consumers.
type Queue struct {
	broker     *Broker
	name       string
	options    queueOptions
	messages   []*Message
	consumers  []*Consumer
	delivering bool
}

func newQueue(b *Broker, name string, opts ...QueueOption) *Queue {
	options := queueOptions{durable: true}
	for _, opt := range opts {
		opt(&options)
	}
	return &Queue{broker: b, name: name, options: options}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// MessageCount returns the number of messages on the queue, delivered but
// unacknowledged ones included.
func (q *Queue) MessageCount() int { return len(q.messages) }

// Messages returns a snapshot of the queued messages in order. The returned
// messages must not be acknowledged by the caller.
func (q *Queue) Messages() []*Message {
	out := make([]*Message, len(q.messages))
	copy(out, q.messages)
	return out
}

// HasPending reports whether an undelivered message with the given routing
// key sits on the queue.
func (q *Queue) HasPending(routingKey string) bool {
	for _, m := range q.messages {
		if !m.delivered && m.Fields.RoutingKey == routingKey {
			return true
		}
	}
	return false
}

// Purge drops all undelivered messages and reports how many were dropped.
// Messages awaiting acknowledgement stay.
func (q *Queue) Purge() int {
	kept := q.messages[:0]
	purged := 0
	for _, m := range q.messages {
		if m.delivered {
			kept = append(kept, m)
			continue
		}
		m.consumed = true
		purged++
	}
	q.messages = kept
	return purged
}

func (q *Queue) enqueue(m *Message) {
	m.queue = q
	q.messages = append(q.messages, m)
}

// queueMessage enqueues and immediately attempts delivery.
func (q *Queue) queueMessage(m *Message) {
	q.enqueue(m)
	q.deliverPending()
}

func (q *Queue) dropMessage(m *Message) {
	for i, qm := range q.messages {
		if qm == m {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return
		}
	}
}

func (q *Queue) addConsumer(handler Handler, options consumeOptions) (*Consumer, error) {
	for _, c := range q.consumers {
		if c.options.exclusive || options.exclusive {
			return nil, ErrQueueExclusive
		}
	}
	c := &Consumer{queue: q, handler: handler, options: options}
	// Higher priority consumers observe messages first; stable on ties.
	at := len(q.consumers)
	for i, existing := range q.consumers {
		if options.priority > existing.options.priority {
			at = i
			break
		}
	}
	q.consumers = append(q.consumers, nil)
	copy(q.consumers[at+1:], q.consumers[at:])
	q.consumers[at] = c
	return c, nil
}

func (q *Queue) removeConsumer(c *Consumer) {
	for i, qc := range q.consumers {
		if qc == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	c.stopped = true
	// Return unacknowledged deliveries for the next consumer.
	for _, m := range q.messages {
		if m.delivered && m.Fields.ConsumerTag == c.Tag() {
			m.delivered = false
			m.Fields.Redelivered = true
			m.Fields.ConsumerTag = ""
		}
	}
	if q.options.autoDelete && len(q.consumers) == 0 {
		delete(q.broker.queues, q.name)
		q.broker.queueOrder = removeString(q.broker.queueOrder, q.name)
		for _, e := range q.broker.exchanges {
			e.unbindQueue(q, "")
		}
	}
}

func (q *Queue) consumersSnapshot() []*Consumer {
	out := make([]*Consumer, len(q.consumers))
	copy(out, q.consumers)
	return out
}

// deliverPending pushes messages to consumers. A guard keeps re-entrant
// publishes from interleaving; the outer invocation picks up anything
// enqueued while a handler was running, preserving FIFO per queue.
func (q *Queue) deliverPending() {
	if q.delivering {
		return
	}
	q.delivering = true
	defer func() { q.delivering = false }()

	for {
		m, c := q.nextDelivery()
		if m == nil {
			return
		}
		m.Fields.ConsumerTag = c.Tag()
		if c.options.noAck {
			m.consumed = true
			q.dropMessage(m)
		} else {
			m.delivered = true
		}
		c.handler(m)
	}
}

func (q *Queue) nextDelivery() (*Message, *Consumer) {
	for _, m := range q.messages {
		if m.delivered || m.consumed {
			continue
		}
		for _, c := range q.consumers {
			if c.stopped || c.capacity() <= 0 {
				continue
			}
			return m, c
		}
		// Head of queue has no capable consumer; keep FIFO, do not skip.
		return nil, nil
	}
	return nil, nil
}

// ConsumeOption configures a consumer.
type ConsumeOption func(*consumeOptions)

type consumeOptions struct {
	tag       string
	noAck     bool
	exclusive bool
	priority  int
	prefetch  int
}

// WithNoAck auto-acknowledges deliveries before the handler runs.
func WithNoAck() ConsumeOption {
	return func(o *consumeOptions) { o.noAck = true }
}

// WithTag sets an explicit consumer tag.
func WithTag(tag string) ConsumeOption {
	return func(o *consumeOptions) { o.tag = tag }
}

// WithPriority orders consumers on a queue; higher observes first. Only the
// relative ordering is meaningful.
func WithPriority(priority int) ConsumeOption {
	return func(o *consumeOptions) { o.priority = priority }
}

// WithPrefetch sets how many unacknowledged deliveries the consumer may
// hold (default 1).
func WithPrefetch(prefetch int) ConsumeOption {
	return func(o *consumeOptions) { o.prefetch = prefetch }
}

// WithExclusive rejects other consumers on the same queue.
func WithExclusive() ConsumeOption {
	return func(o *consumeOptions) { o.exclusive = true }
}

// Consumer is a registered handler on a queue.
type Consumer struct {
	queue   *Queue
	handler Handler
	options consumeOptions
	stopped bool
}

// Tag returns the consumer tag.
func (c *Consumer) Tag() string { return c.options.tag }

// Cancel removes the consumer from its queue and broker.
func (c *Consumer) Cancel() {
	c.queue.broker.Cancel(c.options.tag)
}

func (c *Consumer) capacity() int {
	if c.options.noAck {
		return 1
	}
	held := 0
	for _, m := range c.queue.messages {
		if m.delivered && m.Fields.ConsumerTag == c.options.tag {
			held++
		}
	}
	return c.options.prefetch - held
}
