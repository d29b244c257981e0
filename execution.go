package flowstone

import (
	"errors"
	"sort"

	"github.com/flowstone-io/flowstone/broker"
	"github.com/flowstone-io/flowstone/message"
)

// Execution errors.
var (
	ErrExecutionCompleted = errors.New("execution has already completed")
	ErrNoExecutionID      = errors.New("execute message carries no execution id")
)

// ActivityExecution bridges one run.execute handoff to the behaviour's
// Execute contract. It tracks every in-flight execute message in the
// postponed ledger, redelivers them on resume, and folds behaviour
// completion signals into a single execution.* event.
//
// Completion happens exactly once: the execute-queue consumer is cancelled
// synchronously in the same handler invocation that flips completed, so no
// further execute message can reach the behaviour.
type ActivityExecution struct {
	activity *Activity
	broker   *broker.Broker
	source   Behaviour

	executeQ    *broker.Queue
	initMessage *Message
	postponed   []*Message
	executionID string
	completed   bool

	executeTag string
	apiTag     string
}

func newActivityExecution(a *Activity) *ActivityExecution {
	e := &ActivityExecution{
		activity: a,
		broker:   a.broker,
		source:   a.behaviour,
	}
	e.executeQ = a.broker.AssertQueue("execute-q")
	_ = a.broker.BindQueue("execute-q", "execution", "execute.#")
	return e
}

// Completed reports whether the execution has reached a terminal signal.
func (e *ActivityExecution) Completed() bool { return e.completed }

// ExecutionID returns the root-scope execution id.
func (e *ActivityExecution) ExecutionID() string { return e.executionID }

// Source returns the bound behaviour instance.
func (e *ActivityExecution) Source() Behaviour { return e.source }

// Execute starts or resumes the execution from a run.execute message. On a
// redelivered message the postponed ledger is rebuilt from the execute
// queue and handed back to the behaviour; otherwise a fresh root-scope
// execute.start is published.
func (e *ActivityExecution) Execute(msg *Message) error {
	if e.completed {
		return ErrExecutionCompleted
	}
	if msg == nil || msg.Content == nil || msg.Content.ExecutionID == "" {
		return ErrNoExecutionID
	}

	e.initMessage = msg
	e.executionID = msg.Content.ExecutionID

	if msg.Fields.Redelivered {
		return e.resume()
	}

	// Leftovers from a previous run must not leak into this execution.
	e.executeQ.Purge()
	e.activate()
	content := msg.Content.Clone()
	content.IsRootScope = true
	content.State = "start"
	return e.broker.Publish("execution", "execute.start", content, message.Properties{Persistent: true})
}

// resume re-attaches consumers and redelivers the surviving postponed
// messages to the behaviour. When the execute queue turned out empty the
// initial execute.start is republished from the cached init message.
func (e *ActivityExecution) resume() error {
	e.activate()

	if len(e.postponed) == 0 {
		content := e.initMessage.Content.Clone()
		content.IsRootScope = true
		content.State = "start"
		return e.broker.Publish("execution", "execute.start", content, message.Properties{Persistent: true})
	}

	for _, p := range append([]*Message(nil), e.postponed...) {
		e.source.Execute(p)
	}
	return nil
}

func (e *ActivityExecution) activate() {
	if e.apiTag == "" {
		apiTag := "_execution-api-" + e.executionID
		if c, err := e.broker.SubscribeTmp("api", "activity.*."+e.executionID, e.onParentApiMessage,
			broker.WithTag(apiTag), broker.WithPriority(priorityAPI)); err == nil {
			e.apiTag = c.Tag()
		}
	}
	if e.executeTag == "" {
		if c, err := e.broker.Consume("execute-q", e.onExecuteMessage,
			broker.WithTag("_activity-execute"), broker.WithPrefetch(100), broker.WithPriority(priorityExecution)); err == nil {
			e.executeTag = c.Tag()
		}
	}
}

func (e *ActivityExecution) deactivate() {
	if e.executeTag != "" {
		e.broker.Cancel(e.executeTag)
		e.executeTag = ""
	}
	if e.apiTag != "" {
		e.broker.Cancel(e.apiTag)
		e.apiTag = ""
	}
}

func (e *ActivityExecution) onExecuteMessage(msg *Message) {
	if e.completed {
		msg.Ack()
		return
	}

	switch msg.Fields.RoutingKey {
	case "execute.start":
		if !e.trackStateChange(msg) {
			return
		}
		if !msg.Fields.Redelivered {
			e.source.Execute(msg)
		}
	case "execute.completed":
		e.onExecutionCompleted(msg)
	case "execute.discard":
		e.onExecutionDiscard(msg)
	case "execute.error":
		e.onExecutionError(msg)
	default:
		// Non-terminal progress signal (execute.wait, execute.timer, ...).
		if !e.trackStateChange(msg) {
			return
		}
		if !msg.Fields.Redelivered {
			suffix := msg.Fields.RoutingKey[len("execute."):]
			e.activity.publishEvent(suffix, msg.Content)
		}
	}
}

// trackStateChange records msg in the postponed ledger. A message for an
// already-tracked execution id replaces the previous entry in place, so the
// execute queue never accumulates duplicates for the same logical
// sub-execution.
func (e *ActivityExecution) trackStateChange(msg *Message) bool {
	executionID := msg.Content.ExecutionID
	for i, p := range e.postponed {
		if p.Content.ExecutionID != executionID {
			continue
		}
		if msg.Content.IgnoreIfExecuting {
			msg.Ack()
			return false
		}
		previous := e.postponed[i]
		e.postponed[i] = msg
		previous.Ack()
		return true
	}
	e.postponed = append(e.postponed, msg)
	return true
}

// ackPostponed removes and acknowledges the ledger entry correlated with
// msg's execution id.
func (e *ActivityExecution) ackPostponed(msg *Message) *Message {
	executionID := msg.Content.ExecutionID
	for i, p := range e.postponed {
		if p.Content.ExecutionID != executionID {
			continue
		}
		e.postponed = append(e.postponed[:i], e.postponed[i+1:]...)
		p.Ack()
		return p
	}
	return nil
}

func (e *ActivityExecution) onExecutionCompleted(msg *Message) {
	entry := e.ackPostponed(msg)
	if entry == nil && !msg.Content.IsRootScope {
		msg.Ack()
		return
	}

	if msg.Content.IsRootScope {
		e.complete("completed", msg)
		return
	}

	// Sub-execution completed. A keep-flagged completion stays on the
	// queue as a tally slot until the root is promoted.
	if !msg.Content.Keep {
		msg.Ack()
	}
	e.promoteRootIfLast()
}

func (e *ActivityExecution) onExecutionDiscard(msg *Message) {
	entry := e.ackPostponed(msg)
	if entry == nil && !msg.Content.IsRootScope {
		msg.Ack()
		return
	}

	if msg.Content.Error == nil && !msg.Content.IsRootScope {
		// Absorbed while siblings are still running; force-completes the
		// root only when it is the last remaining entry.
		msg.Ack()
		if len(e.postponed) == 1 && e.postponed[0].Content.IsRootScope {
			root := e.postponed[0].Content.Clone()
			root.DiscardSequence = mergeDiscardSequence(root.DiscardSequence, msg.Content.DiscardSequence)
			e.broker.Publish("execution", "execute.discard", root, message.Properties{Persistent: true})
		}
		return
	}

	e.complete("discard", msg)
}

func (e *ActivityExecution) onExecutionError(msg *Message) {
	e.ackPostponed(msg)
	if msg.Content.Error == nil {
		msg.Content.Error = message.NewErr(errors.New("execution failed"), e.initMessage.Content)
	} else if msg.Content.Error.Source == nil {
		msg.Content.Error.Source = e.initMessage.Content.Clone()
	}
	e.complete("error", msg)
}

// complete publishes the single outward execution.* event. It flips
// completed and cancels the execute consumer before publishing so a
// re-entrant publish from a subscriber can never reach the behaviour.
func (e *ActivityExecution) complete(completionType string, msg *Message) {
	e.completed = true

	// Cascade discard of whatever is still in flight.
	remaining := append([]*Message(nil), e.postponed...)
	e.postponed = e.postponed[:0]
	e.deactivate()
	for _, p := range remaining {
		if p.Content.IsRootScope {
			p.Ack()
			continue
		}
		if completionType == "error" {
			e.activity.GetApi(p).Discard()
		}
		p.Ack()
	}

	content := msg.Content.Clone()
	content.ExecutionID = e.executionID
	content.IsRootScope = true
	msg.Ack()

	e.broker.Publish("execution", "execution."+completionType, content, message.Properties{
		Type:          completionType,
		CorrelationID: msg.Properties.CorrelationID,
		Persistent:    true,
	})
}

// promoteRootIfLast auto-promotes the root entry to the final completion
// when it is the sole remaining postponed message and does not carry
// preventComplete. Kept sub-completions are folded into the output,
// ordered by iteration index regardless of completion order.
func (e *ActivityExecution) promoteRootIfLast() {
	if len(e.postponed) != 1 {
		return
	}
	root := e.postponed[0]
	if !root.Content.IsRootScope || root.Content.PreventComplete {
		return
	}

	content := root.Content.Clone()
	if kept := e.keptCompletions(); len(kept) > 0 {
		output := make([]any, len(kept))
		for i, k := range kept {
			output[i] = message.CloneValue(k.Content.Output)
		}
		content.Output = output
		for _, k := range kept {
			k.Ack()
		}
	}

	e.broker.Publish("execution", "execute.completed", content, message.Properties{Persistent: true})
}

// keptCompletions returns keep-flagged completion messages still on the
// execute queue, in iteration-index order.
func (e *ActivityExecution) keptCompletions() []*Message {
	var kept []*Message
	for _, m := range e.executeQ.Messages() {
		if m.Fields.RoutingKey == "execute.completed" && m.Content.Keep {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Content.Index < kept[j].Content.Index
	})
	return kept
}

// Discard asks the execution to discard through the queue so ordering with
// in-flight execute messages is preserved.
func (e *ActivityExecution) Discard() {
	if e.completed || e.initMessage == nil {
		return
	}
	content := e.rootContent()
	e.broker.Publish("execution", "execute.discard", content, message.Properties{Persistent: true})
}

// Stop detaches consumers, leaving the execute queue untouched for a later
// resume.
func (e *ActivityExecution) Stop() {
	e.deactivate()
}

func (e *ActivityExecution) rootContent() *message.Content {
	for _, p := range e.postponed {
		if p.Content.IsRootScope {
			return p.Content.Clone()
		}
	}
	content := e.initMessage.Content.Clone()
	content.IsRootScope = true
	return content
}

func (e *ActivityExecution) onParentApiMessage(msg *Message) {
	switch msg.Properties.Type {
	case "discard":
		e.Discard()
	case "stop":
		e.Stop()
	}
}

// GetPostponed returns api handles for every in-flight execute message.
// Sub-process behaviours contribute their children's handles as well.
func (e *ActivityExecution) GetPostponed() []*Api {
	apis := make([]*Api, 0, len(e.postponed))
	for _, p := range e.postponed {
		apis = append(apis, e.activity.GetApi(p))
	}
	if source, ok := e.source.(PostponedSource); ok {
		apis = append(apis, source.GetPostponed()...)
	}
	return apis
}

// ExecutionState is the serializable execution state. The postponed ledger
// itself lives in the broker's execute queue export.
type ExecutionState struct {
	Completed bool           `json:"completed"`
	Behaviour map[string]any `json:"behaviour,omitempty"`
}

// GetState exports completion status and any behaviour state.
func (e *ActivityExecution) GetState() *ExecutionState {
	state := &ExecutionState{Completed: e.completed}
	if source, ok := e.source.(StatefulBehaviour); ok {
		state.Behaviour = source.GetState()
	}
	return state
}

// Recover restores completion status and behaviour state.
func (e *ActivityExecution) Recover(state *ExecutionState) {
	if state == nil {
		return
	}
	e.completed = state.Completed
	if source, ok := e.source.(StatefulBehaviour); ok && state.Behaviour != nil {
		source.Recover(state.Behaviour)
	}
}

func mergeDiscardSequence(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	out := append([]string(nil), base...)
	for _, s := range base {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
