package flowstone

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowstone-io/flowstone/broker"
	"github.com/flowstone-io/flowstone/message"
)

// Status is the activity run status. The empty status means idle.
type Status string

const (
	StatusEntered   Status = "entered"
	StatusStarted   Status = "started"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusDiscarded Status = "discarded"
	StatusError     Status = "error"
)

// Counters tallies completed runs.
type Counters struct {
	Taken     int `json:"taken"`
	Discarded int `json:"discarded"`
}

// Run errors.
var (
	ErrAlreadyRunning = errors.New("activity is already running")
	ErrNotRecoverable = errors.New("state does not belong to this activity")
)

// Activity drives one element through the run lifecycle
// run.enter > run.start > run.execute > run.end/run.error > run.leave >
// run.next, entirely over its own broker. The current run-state message
// stays unacknowledged on the run queue until the next state arrives, which
// is what makes a stopped activity resumable from broker state alone.
//
// An activity is not safe for concurrent use; all progress happens on the
// caller's goroutine.
type Activity struct {
	id           string
	activityType string
	name         string
	parent       *message.Parent

	definition  *ElementDef
	context     *Context
	environment *Environment
	broker      *broker.Broker
	behaviour   Behaviour

	runQ     *broker.Queue
	inboundQ *broker.Queue

	status          Status
	executionID     string
	initExecutionID string
	counters        Counters
	stopped         bool
	execution       *ActivityExecution

	stateMessage *Message
	heldInbound  *Message
	joinBatch    []*Message
	formats      []*message.Content
	pendingStep  []func()

	isParallelJoin bool

	runTag       string
	executionTag string
	apiTag       string
	joinTag      string
	inboundSubs  []*broker.Consumer
}

func newActivity(def *ElementDef, c *Context) *Activity {
	a := &Activity{
		id:           def.ID,
		activityType: def.Type,
		name:         def.Name,
		parent: &message.Parent{
			ID:   c.definitions.ID,
			Type: "process",
		},
		definition:  def,
		context:     c,
		environment: c.environment,
	}

	b := broker.New(a)
	a.broker = b
	for _, exchange := range []string{"run", "format", "execution", "api", "event"} {
		b.AssertExchange(exchange, broker.Topic)
	}
	a.runQ = b.AssertQueue("run-q")
	a.inboundQ = b.AssertQueue("inbound-q")
	formatQ := b.AssertQueue("format-run-q")
	executionQ := b.AssertQueue("execution-q")

	b.BindQueue(a.runQ.Name(), "run", "run.#")
	b.BindQueue(formatQ.Name(), "format", "run.#")
	b.BindQueue(executionQ.Name(), "execution", "execution.#")

	b.Consume(formatQ.Name(), a.onFormatMessage,
		broker.WithTag("_activity-format"), broker.WithNoAck(), broker.WithPrefetch(100))
	b.OnReturn(a.onReturnedMessage)

	joining := def.IsParallelJoin || def.Type == TypeParallelGateway
	a.isParallelJoin = joining && len(c.InboundFlows(def.ID)) > 1

	return a
}

// ID returns the element id.
func (a *Activity) ID() string { return a.id }

// Type returns the element type.
func (a *Activity) Type() string { return a.activityType }

// Name returns the element name.
func (a *Activity) Name() string { return a.name }

// Broker exposes the activity broker for event subscriptions.
func (a *Activity) Broker() *broker.Broker { return a.broker }

// Environment returns the shared environment.
func (a *Activity) Environment() *Environment { return a.environment }

// Behaviour returns the bound behaviour instance.
func (a *Activity) Behaviour() Behaviour { return a.behaviour }

// Definition returns the element definition.
func (a *Activity) Definition() *ElementDef { return a.definition }

// Status returns the current run status, empty when idle.
func (a *Activity) Status() Status { return a.status }

// Counters returns run tallies.
func (a *Activity) Counters() Counters { return a.counters }

// ExecutionID returns the current (or last) run's execution id.
func (a *Activity) ExecutionID() string { return a.executionID }

// Execution returns the current execution wrapper, nil before first
// run.execute.
func (a *Activity) Execution() *ActivityExecution { return a.execution }

// IsRunning reports whether a run is in progress.
func (a *Activity) IsRunning() bool { return a.status != "" }

// Stopped reports whether the activity was stopped mid-run.
func (a *Activity) Stopped() bool { return a.stopped }

// On subscribes handler to activity events by name ("enter", "end", "wait",
// "leave", ...). A "*" name matches every event.
func (a *Activity) On(event string, handler broker.Handler) (*broker.Consumer, error) {
	pattern := "activity." + event
	if event == "*" {
		pattern = "#"
	}
	return a.broker.SubscribeTmp("event", pattern, handler,
		broker.WithNoAck(), broker.WithPriority(priorityEvent))
}

// Activate subscribes to inbound flow events so upstream takes and discards
// trigger runs. Activities without inbound flows are started with Run.
func (a *Activity) Activate() {
	if len(a.inboundSubs) > 0 {
		return
	}
	for _, flow := range a.context.InboundFlows(a.id) {
		c, err := flow.Broker().SubscribeTmp("event", "flow.#", a.onInboundEvent,
			broker.WithTag("_inbound-"+flow.ID()), broker.WithNoAck())
		if err != nil {
			continue
		}
		a.inboundSubs = append(a.inboundSubs, c)
	}
	for _, assoc := range a.context.InboundAssociations(a.id) {
		c, err := assoc.Broker().SubscribeTmp("event", "association.#", a.onInboundEvent,
			broker.WithTag("_inbound-"+assoc.ID()), broker.WithNoAck())
		if err != nil {
			continue
		}
		a.inboundSubs = append(a.inboundSubs, c)
	}
	a.consumeInbound()
}

// Deactivate detaches inbound subscriptions.
func (a *Activity) Deactivate() {
	for _, c := range a.inboundSubs {
		c.Cancel()
	}
	a.inboundSubs = nil
	if a.joinTag != "" {
		a.broker.Cancel(a.joinTag)
		a.joinTag = ""
	}
}

func (a *Activity) consumeInbound() {
	if a.joinTag != "" {
		return
	}
	handler := a.onInbound
	prefetch := 1
	if a.isParallelJoin {
		handler = a.onJoinInbound
		prefetch = 1000
	}
	if c, err := a.broker.Consume(a.inboundQ.Name(), handler,
		broker.WithTag("_run-on-inbound"), broker.WithPrefetch(prefetch)); err == nil {
		a.joinTag = c.Tag()
	}
}

// onInboundEvent funnels inbound flow events into the durable inbound
// queue so join progress survives a state export.
func (a *Activity) onInboundEvent(msg *Message) {
	a.broker.SendToQueue(a.inboundQ.Name(), msg.Fields.RoutingKey, msg.Content, msg.Properties)
}

func (a *Activity) onInbound(msg *Message) {
	if a.IsRunning() {
		// Hold until the current run leaves; prefetch 1 parks the rest.
		a.heldInbound = msg
		return
	}
	msg.Ack()

	switch msg.Fields.RoutingKey {
	case "flow.take", "association.take":
		a.run(a.createRunContent(msg.Content))
	case "flow.discard", "association.discard":
		content := a.createRunContent(msg.Content)
		content.DiscardSequence = append([]string(nil), msg.Content.DiscardSequence...)
		a.runDiscard(content)
	case "flow.looped":
		// Discard loop closed on itself; the cascade stops here.
	}
}

// onJoinInbound gates a parallel join: a run starts only once every
// expected inbound source has fully reported. The expected set is keyed
// by source id over the structural inbound edges, so parallel edges from
// the same source count toward that source instead of stalling the gate.
// Extra messages beyond a source's edge count stay queued for the next
// round.
func (a *Activity) onJoinInbound(msg *Message) {
	switch msg.Fields.RoutingKey {
	case "flow.looped":
		msg.Ack()
		return
	case "association.take", "association.discard":
		// Associations never participate in join synchronization.
		a.onInbound(msg)
		return
	}
	a.joinBatch = append(a.joinBatch, msg)

	expected := make(map[string]int)
	for _, flow := range a.context.InboundFlows(a.id) {
		expected[flow.SourceID()]++
	}
	arrived := make(map[string]int, len(expected))
	for _, m := range a.joinBatch {
		arrived[m.Content.SourceID]++
	}
	for source, want := range expected {
		if arrived[source] < want {
			return
		}
	}

	var inbound []message.Inbound
	var discardSequence []string
	allDiscarded := true
	remaining := a.joinBatch[:0]
	used := make(map[string]int, len(expected))
	for _, m := range a.joinBatch {
		if used[m.Content.SourceID] >= expected[m.Content.SourceID] {
			remaining = append(remaining, m)
			continue
		}
		used[m.Content.SourceID]++
		if m.Fields.RoutingKey == "flow.take" {
			allDiscarded = false
		}
		inbound = append(inbound, message.Inbound{
			ID:              m.Content.ID,
			Type:            m.Content.Type,
			Action:          m.Content.Action,
			SourceID:        m.Content.SourceID,
			TargetID:        m.Content.TargetID,
			DiscardSequence: append([]string(nil), m.Content.DiscardSequence...),
		})
		discardSequence = mergeDiscardSequence(discardSequence, m.Content.DiscardSequence)
		m.Ack()
	}
	a.joinBatch = append([]*Message(nil), remaining...)

	content := a.createRunContent(nil)
	content.Inbound = inbound
	if allDiscarded {
		content.DiscardSequence = discardSequence
		a.runDiscard(content)
		return
	}
	a.run(content)
}

func (a *Activity) createRunContent(from *message.Content) *message.Content {
	content := &message.Content{
		ID:     a.id,
		Type:   a.activityType,
		Name:   a.name,
		Parent: a.parent.Clone(),
	}
	if a.definition.AttachedTo != "" {
		content.AttachedTo = a.definition.AttachedTo
	}
	if from != nil {
		content.Inbound = []message.Inbound{{
			ID:              from.ID,
			Type:            from.Type,
			Action:          from.Action,
			SourceID:        from.SourceID,
			TargetID:        from.TargetID,
			DiscardSequence: append([]string(nil), from.DiscardSequence...),
		}}
		content.Message = message.CloneValue(from.Message)
	}
	return content
}

// Run starts the activity without an inbound trigger.
func (a *Activity) Run() error {
	return a.run(a.createRunContent(nil))
}

// Init pre-assigns the next run's execution id and announces it with an
// activity.init event, so the run can be addressed before it starts. The
// id is consumed by the next run or discard. Repeated calls before the
// run keep the same id.
func (a *Activity) Init(content *message.Content) string {
	if a.initExecutionID == "" {
		a.initExecutionID = uuid.NewString()
	}
	if content == nil {
		content = a.createRunContent(nil)
	}
	content.ExecutionID = a.initExecutionID
	a.publishEvent("init", content)
	return a.initExecutionID
}

// nextExecutionID consumes the pre-assigned execution id when Init was
// called, otherwise mints a fresh one.
func (a *Activity) nextExecutionID() string {
	if id := a.initExecutionID; id != "" {
		a.initExecutionID = ""
		return id
	}
	return uuid.NewString()
}

// run publishes run.enter and run.start in the same tick, then attaches
// the run-queue consumer.
func (a *Activity) run(content *message.Content) error {
	if a.IsRunning() {
		return ErrAlreadyRunning
	}
	a.stopped = false
	a.executionID = a.nextExecutionID()
	content.ExecutionID = a.executionID

	a.consumeApi()
	a.broker.Publish("run", "run.enter", content, message.Properties{Type: "enter", Persistent: true})
	a.broker.Publish("run", "run.start", content, message.Properties{Type: "start", Persistent: true})
	return a.consumeRunQ()
}

// runDiscard runs the discard lifecycle: run.discard > run.discarded >
// run.leave.
func (a *Activity) runDiscard(content *message.Content) error {
	if a.IsRunning() {
		return ErrAlreadyRunning
	}
	a.stopped = false
	a.executionID = a.nextExecutionID()
	content.ExecutionID = a.executionID

	a.consumeApi()
	a.broker.Publish("run", "run.discard", content, message.Properties{Type: "discard", Persistent: true})
	return a.consumeRunQ()
}

func (a *Activity) consumeRunQ() error {
	if a.runTag != "" {
		return nil
	}
	c, err := a.broker.Consume(a.runQ.Name(), a.onRunMessage,
		broker.WithTag("_activity-run"), broker.WithExclusive(), broker.WithPrefetch(100))
	if err != nil {
		return err
	}
	a.runTag = c.Tag()
	return nil
}

func (a *Activity) consumeApi() {
	if a.apiTag != "" || a.executionID == "" {
		return
	}
	if c, err := a.broker.SubscribeTmp("api", "activity.*."+a.executionID, a.onApiMessage,
		broker.WithTag("_activity-api-"+a.executionID), broker.WithNoAck(),
		broker.WithPriority(priorityAPI)); err == nil {
		a.apiTag = c.Tag()
	}
}

func (a *Activity) cancelApi() {
	if a.apiTag != "" {
		a.broker.Cancel(a.apiTag)
		a.apiTag = ""
	}
}

// ackStateMessage acknowledges the previous run-state message and holds
// the new one.
func (a *Activity) ackStateMessage(msg *Message) {
	if a.stateMessage != nil && a.stateMessage != msg {
		a.stateMessage.Ack()
	}
	a.stateMessage = msg
}

func (a *Activity) onRunMessage(msg *Message) {
	redelivered := msg.Fields.Redelivered
	content := msg.Content

	switch msg.Fields.RoutingKey {
	case "run.enter":
		a.status = StatusEntered
		a.executionID = content.ExecutionID
		a.ackStateMessage(msg)
		a.consumeApi()
		if !redelivered {
			a.applyFormatting(content)
			a.publishEvent("enter", content)
		}

	case "run.start":
		a.status = StatusStarted
		a.ackStateMessage(msg)
		if !redelivered {
			a.publishEvent("start", content)
		}
		a.continueRun(redelivered, "run.execute", content)

	case "run.execute":
		a.status = StatusExecuting
		a.ackStateMessage(msg)
		if content.ExecutionID == "" {
			content.ExecutionID = a.executionID
		}
		a.consumeExecutionQ()
		if redelivered && a.execution != nil && a.execution.Completed() {
			// Recovered past completion; the terminal execution message
			// still sits on the execution queue and carries the run on.
			return
		}
		if a.execution == nil || a.execution.Completed() {
			a.execution = newActivityExecution(a)
		}
		if err := a.execution.Execute(msg); err != nil {
			a.emitError(message.NewErr(err, content))
		}

	case "run.end":
		a.status = StatusExecuted
		a.ackStateMessage(msg)
		if !redelivered {
			a.counters.Taken++
			a.applyFormatting(content)
			a.publishEvent("end", content)
		}
		a.continueRun(redelivered, "run.leave", content)

	case "run.error":
		a.status = StatusError
		a.ackStateMessage(msg)
		if !redelivered {
			a.emitError(content.Error)
		}
		a.continueRun(redelivered, "run.discarded", content)

	case "run.discard":
		a.status = StatusDiscarded
		a.executionID = content.ExecutionID
		a.ackStateMessage(msg)
		a.consumeApi()
		a.continueRun(redelivered, "run.discarded", content)

	case "run.discarded":
		a.status = StatusDiscarded
		a.ackStateMessage(msg)
		if !redelivered {
			a.counters.Discarded++
			a.publishEvent("discard", content)
		}
		a.continueRun(redelivered, "run.leave", content)

	case "run.leave":
		isDiscarded := a.status == StatusDiscarded || a.status == StatusError
		a.ackStateMessage(msg)
		if !redelivered {
			a.publishEvent("leave", content)
			a.doOutbound(msg, isDiscarded)
		}
		a.continueRun(redelivered, "run.next", content)

	case "run.next":
		a.ackStateMessage(msg)
		a.stateMessage.Ack()
		a.stateMessage = nil
		a.status = ""
		a.execution = nil
		a.cancelApi()
		a.releaseHeldInbound()
	}
}

// continueRun publishes the next run-state message. On redelivery the
// successor may already sit on the queue from before the stop; publishing
// again would fork the run. In step mode the publish waits for Next().
func (a *Activity) continueRun(redelivered bool, routingKey string, content *message.Content) {
	if redelivered && a.runQ.HasPending(routingKey) {
		return
	}
	props := message.Properties{Type: routingKey[len("run."):], Persistent: routingKey != "run.next"}
	publish := func() {
		a.broker.Publish("run", routingKey, content, props)
	}
	if a.environment.Settings.Step && !redelivered {
		a.pendingStep = append(a.pendingStep, publish)
		return
	}
	publish()
}

// Next releases the next run-state transition in step mode. It reports
// whether a transition was pending.
func (a *Activity) Next() bool {
	if len(a.pendingStep) == 0 {
		return false
	}
	next := a.pendingStep[0]
	a.pendingStep = a.pendingStep[1:]
	next()
	return true
}

func (a *Activity) consumeExecutionQ() {
	if a.executionTag != "" {
		return
	}
	if c, err := a.broker.Consume("execution-q", a.onExecutionMessage,
		broker.WithTag("_activity-execution"), broker.WithPrefetch(100),
		broker.WithPriority(priorityExecution)); err == nil {
		a.executionTag = c.Tag()
	}
}

// onExecutionMessage folds the execution wrapper's terminal signal back
// into the run lifecycle.
func (a *Activity) onExecutionMessage(msg *Message) {
	content := msg.Content.Clone()
	redelivered := msg.Fields.Redelivered
	msg.Ack()

	next := ""
	switch msg.Fields.RoutingKey {
	case "execution.completed":
		next = "run.end"
	case "execution.discard":
		next = "run.discarded"
	case "execution.error":
		next = "run.error"
	default:
		return
	}
	if redelivered && a.runQ.HasPending(next) {
		return
	}
	a.broker.Publish("run", next, content, message.Properties{
		Type:          next[len("run."):],
		CorrelationID: msg.Properties.CorrelationID,
		Persistent:    true,
	})
}

func (a *Activity) doOutbound(msg *Message, discarded bool) {
	content := msg.Content
	if content.IgnoreOutbound {
		return
	}
	outbound := a.context.OutboundFlows(a.id)
	if len(outbound) == 0 {
		return
	}

	if discarded {
		for _, flow := range outbound {
			flow.Discard(content)
		}
		return
	}

	decisions := dedupOutbound(content.Outbound)
	if len(decisions) == 0 {
		takeOne := a.activityType == TypeExclusiveGateway
		evaluated, err := evaluateOutbound(a, msg, takeOne)
		if err != nil {
			a.emitError(message.NewErr(err, content))
			return
		}
		decisions = evaluated
	}

	for _, d := range decisions {
		flow, err := a.context.SequenceFlow(d.ID)
		if err != nil {
			continue
		}
		out := content.Clone()
		out.Message = message.CloneValue(d.Message)
		if d.Action == "take" {
			flow.Take(out)
		} else {
			flow.Discard(out)
		}
	}
}

// publishEvent emits an external activity event. Events are skipped on
// redelivery by the callers so observers never see a replayed lifecycle.
func (a *Activity) publishEvent(event string, content *message.Content, props ...message.Properties) {
	p := message.Properties{Type: event, Persistent: true}
	if len(props) > 0 {
		p = props[0]
		p.Type = event
	}
	a.broker.Publish("event", "activity."+event, content, p)
}

// emitError publishes a mandatory activity.error event. With no error
// subscriber attached the message returns and escalates through
// onReturnedMessage.
func (a *Activity) emitError(err *message.Err) {
	content := a.createRunContent(nil)
	content.ExecutionID = a.executionID
	content.Error = err
	a.publishEvent("error", content, message.Properties{Persistent: true, Mandatory: true})
}

// onReturnedMessage escalates unroutable error events. An error nobody
// listens for must not vanish silently.
func (a *Activity) onReturnedMessage(msg *Message) {
	if msg.Properties.Type != "error" {
		return
	}
	a.environment.Logger().Error("unhandled activity error",
		"activity", a.id, "error", msg.Content.Error)
	if msg.Content.Error != nil {
		panic(msg.Content.Error)
	}
	panic(fmt.Sprintf("unhandled error on %s", a.id))
}

func (a *Activity) onFormatMessage(msg *Message) {
	a.formats = append(a.formats, msg.Content)
}

// applyFormatting merges staged format content into a run-state message
// before its event is published.
func (a *Activity) applyFormatting(content *message.Content) {
	if len(a.formats) == 0 {
		return
	}
	for _, f := range a.formats {
		if f.Name != "" {
			content.Name = f.Name
		}
		if f.Output != nil {
			content.Output = message.CloneValue(f.Output)
		}
		for k, v := range f.Meta {
			if content.Meta == nil {
				content.Meta = make(map[string]any)
			}
			content.Meta[k] = message.CloneValue(v)
		}
	}
	a.formats = nil
}

func (a *Activity) releaseHeldInbound() {
	held := a.heldInbound
	if held == nil {
		return
	}
	a.heldInbound = nil
	a.onInbound(held)
}

// Discard discards the activity. An idle activity runs the discard
// lifecycle directly; a running one is told through the api exchange so
// the execution wrapper and any waiting behaviour both see the command.
func (a *Activity) Discard() error {
	if a.status == "" {
		return a.runDiscard(a.createRunContent(nil))
	}
	if a.apiTag != "" {
		a.broker.Publish("api", "activity.discard."+a.executionID, a.stateContent(),
			message.Properties{Type: "discard"})
		return nil
	}
	return a.discardRun()
}

func (a *Activity) discardRun() error {
	if a.status == StatusExecuting && a.execution != nil {
		a.execution.Discard()
		return nil
	}
	// Past execution; purge pending transitions and leave discarded.
	a.runQ.Purge()
	a.broker.Publish("run", "run.discarded", a.stateContent(), message.Properties{Type: "discarded", Persistent: true})
	return nil
}

// Stop halts the run via the api exchange, preserving broker state for a
// later Resume. Stopping an idle activity only detaches consumers.
func (a *Activity) Stop() {
	if !a.IsRunning() || a.apiTag == "" {
		a.onStop()
		return
	}
	a.broker.Publish("api", "activity.stop."+a.executionID, a.stateContent(),
		message.Properties{Type: "stop"})
}

func (a *Activity) onStop() {
	a.stopped = true
	if a.execution != nil {
		a.execution.Stop()
	}
	if a.runTag != "" {
		a.broker.Cancel(a.runTag)
		a.runTag = ""
	}
	if a.executionTag != "" {
		a.broker.Cancel(a.executionTag)
		a.executionTag = ""
	}
	a.cancelApi()
	a.stateMessage = nil
	a.Deactivate()
}

// Resume continues a stopped (or recovered) run by replaying the unacked
// run-queue messages. Handlers see them redelivered and re-establish state
// without re-emitting events.
func (a *Activity) Resume() error {
	if a.runTag != "" {
		return ErrAlreadyRunning
	}
	a.stopped = false
	if a.runQ.MessageCount() == 0 {
		a.Activate()
		return nil
	}
	a.consumeApi()
	return a.consumeRunQ()
}

func (a *Activity) onApiMessage(msg *Message) {
	switch msg.Properties.Type {
	case "stop":
		a.onStop()
	case "discard":
		a.discardRun()
	case "shake":
		a.Shake()
	}
}

func (a *Activity) stateContent() *message.Content {
	if a.stateMessage != nil {
		return a.stateMessage.Content.Clone()
	}
	content := a.createRunContent(nil)
	content.ExecutionID = a.executionID
	return content
}

// GetApi returns an api handle addressing the execution scope of msg, or
// the activity's current run when msg is nil.
func (a *Activity) GetApi(msg *Message) *Api {
	content := a.stateContent()
	if msg != nil {
		content = msg.Content.Clone()
	}
	return newApi(a, content)
}

// ActivityState is the serializable activity state.
type ActivityState struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      Status          `json:"status,omitempty"`
	ExecutionID string          `json:"executionId,omitempty"`
	Stopped     bool            `json:"stopped,omitempty"`
	Counters    Counters        `json:"counters"`
	Broker      *broker.State   `json:"broker,omitempty"`
	Execution   *ExecutionState `json:"execution,omitempty"`
}

// GetState exports the activity for persistence. The broker state carries
// the unacked run-state message and the execute-queue ledger.
func (a *Activity) GetState() *ActivityState {
	state := &ActivityState{
		ID:          a.id,
		Type:        a.activityType,
		Status:      a.status,
		ExecutionID: a.executionID,
		Stopped:     a.stopped,
		Counters:    a.counters,
		Broker:      a.broker.GetState(),
	}
	if a.execution != nil {
		state.Execution = a.execution.GetState()
	}
	return state
}

// Recover restores a previously exported state onto an idle activity.
func (a *Activity) Recover(state *ActivityState) error {
	if state == nil {
		return nil
	}
	if state.ID != a.id {
		return fmt.Errorf("%w: got %s, want %s", ErrNotRecoverable, state.ID, a.id)
	}
	if a.IsRunning() {
		return ErrAlreadyRunning
	}
	a.status = state.Status
	a.executionID = state.ExecutionID
	a.stopped = state.Stopped
	a.counters = state.Counters
	a.broker.Recover(state.Broker)
	if state.Execution != nil {
		a.execution = newActivityExecution(a)
		a.execution.Recover(state.Execution)
	}
	return nil
}

// ShakeRun is one traced path from an activity to a sink or back into a
// visited element.
type ShakeRun struct {
	Sequence []string `json:"sequence"`
	IsLooped bool     `json:"isLooped,omitempty"`
}

// Shake traces every outbound path from this activity, interleaving
// element and flow ids. The result is also published as an
// activity.shake event.
func (a *Activity) Shake() []ShakeRun {
	var runs []ShakeRun
	a.shakeWalk(a.id, nil, &runs)

	content := a.createRunContent(nil)
	content.Meta = map[string]any{"shake": runs}
	a.publishEvent("shake", content)
	return runs
}

func (a *Activity) shakeWalk(id string, trail []string, runs *[]ShakeRun) {
	for _, visited := range trail {
		if visited == id {
			*runs = append(*runs, ShakeRun{
				Sequence: append(append([]string(nil), trail...), id),
				IsLooped: true,
			})
			return
		}
	}
	trail = append(trail, id)
	outbound := a.context.OutboundFlows(id)
	if len(outbound) == 0 {
		*runs = append(*runs, ShakeRun{Sequence: append([]string(nil), trail...)})
		return
	}
	for _, flow := range outbound {
		a.shakeWalk(flow.TargetID(), append(trail, flow.ID()), runs)
	}
}
