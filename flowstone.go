// Package flowstone is an in-process execution kernel for hierarchical,
// resumable activity state machines. Every activity owns a message broker
// with topic exchanges and durable queues; the run lifecycle, sub-execution
// tracking, and outbound flow routing all travel as broker messages, which
// is what makes a running activity stoppable, serializable, and resumable
// from exported broker state alone.
//
// The kernel is single-goroutine: message delivery is synchronous and
// depth-first on the caller's stack, and no type in this package is safe
// for concurrent use.
package flowstone

import "github.com/flowstone-io/flowstone/broker"

// Message is a delivered broker message.
type Message = broker.Message

// Consumer priorities order delivery between the kernel's consumer groups
// on a shared queue. Only the relative order matters: api commands preempt
// execution signals, which preempt event observers.
const (
	priorityAPI       = 400
	priorityExecution = 300
	priorityEvent     = 200
)
