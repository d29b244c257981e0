package flowstone

import (
	"testing"

	"github.com/flowstone-io/flowstone/message"
)

func gatewayDefs() Definitions {
	return Definitions{
		ID: "proc",
		Elements: []ElementDef{
			{ID: "decision", Type: TypeExclusiveGateway, Default: "f3"},
			{ID: "big", Type: TypeTask},
			{ID: "huge", Type: TypeTask},
			{ID: "other", Type: TypeTask},
		},
		Flows: []FlowDef{
			{ID: "f1", SourceID: "decision", TargetID: "big", Condition: "variables.amount > 100"},
			{ID: "f2", SourceID: "decision", TargetID: "huge", Condition: "variables.amount > 1000"},
			{ID: "f3", SourceID: "decision", TargetID: "other"},
		},
	}
}

func activateAll(t *testing.T, ctx *Context, ids ...string) map[string]*Activity {
	t.Helper()
	out := make(map[string]*Activity, len(ids))
	for _, id := range ids {
		a := mustActivity(t, ctx, id)
		a.Activate()
		out[id] = a
	}
	return out
}

func TestExclusiveGateway_FirstTruthyConditionWins(t *testing.T) {
	env := NewEnvironment(WithVariables(map[string]any{"amount": 5000}))
	ctx := newTestContext(t, gatewayDefs(), env, nil)
	targets := activateAll(t, ctx, "big", "huge", "other")
	decision := mustActivity(t, ctx, "decision")

	if err := decision.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// f1 is declared first; even though f2's condition also holds it is
	// never evaluated.
	if got := targets["big"].Counters(); got.Taken != 1 {
		t.Errorf("big counters = %+v, want 1 taken", got)
	}
	if got := targets["huge"].Counters(); got.Discarded != 1 {
		t.Errorf("huge counters = %+v, want 1 discarded", got)
	}
	if got := targets["other"].Counters(); got.Discarded != 1 {
		t.Errorf("other (default) counters = %+v, want 1 discarded", got)
	}
}

func TestExclusiveGateway_DefaultTakenWhenNothingMatches(t *testing.T) {
	env := NewEnvironment(WithVariables(map[string]any{"amount": 5}))
	ctx := newTestContext(t, gatewayDefs(), env, nil)
	targets := activateAll(t, ctx, "big", "huge", "other")
	decision := mustActivity(t, ctx, "decision")

	if err := decision.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := targets["other"].Counters(); got.Taken != 1 {
		t.Errorf("other (default) counters = %+v, want 1 taken", got)
	}
	if got := targets["big"].Counters(); got.Discarded != 1 {
		t.Errorf("big counters = %+v, want 1 discarded", got)
	}
	if got := targets["huge"].Counters(); got.Discarded != 1 {
		t.Errorf("huge counters = %+v, want 1 discarded", got)
	}
}

func TestParallelJoin_WaitsForAllInboundSources(t *testing.T) {
	defs := Definitions{
		ID: "proc",
		Elements: []ElementDef{
			{ID: "fork", Type: TypeParallelGateway},
			{ID: "a", Type: TypeTask},
			{ID: "b", Type: TypeTask},
			{ID: "join", Type: TypeParallelGateway},
			{ID: "end", Type: TypeTask},
		},
		Flows: []FlowDef{
			{ID: "f1", SourceID: "fork", TargetID: "a"},
			{ID: "f2", SourceID: "fork", TargetID: "b"},
			{ID: "f3", SourceID: "a", TargetID: "join"},
			{ID: "f4", SourceID: "b", TargetID: "join"},
			{ID: "f5", SourceID: "join", TargetID: "end"},
		},
	}
	ctx := newTestContext(t, defs, nil, nil)
	activities := activateAll(t, ctx, "a", "b", "join", "end")
	fork := mustActivity(t, ctx, "fork")

	var joinInbound []message.Inbound
	activities["join"].On("enter", func(m *Message) {
		joinInbound = m.Content.Inbound
	})

	if err := fork.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := activities["join"].Counters(); got.Taken != 1 {
		t.Fatalf("join counters = %+v, want exactly 1 taken", got)
	}
	if got := activities["end"].Counters(); got.Taken != 1 {
		t.Errorf("end counters = %+v, want 1 taken", got)
	}
	if len(joinInbound) != 2 {
		t.Fatalf("join inbound = %v, want entries from both sources", joinInbound)
	}
	sources := map[string]bool{}
	for _, in := range joinInbound {
		sources[in.SourceID] = true
	}
	if !sources["a"] || !sources["b"] {
		t.Errorf("join inbound sources = %v, want a and b", sources)
	}
}

func TestParallelJoin_SharedSourceEdgesCountPerEdge(t *testing.T) {
	defs := Definitions{
		ID: "proc",
		Elements: []ElementDef{
			{ID: "a", Type: TypeTask},
			{ID: "join", Type: TypeParallelGateway},
			{ID: "end", Type: TypeTask},
		},
		Flows: []FlowDef{
			{ID: "f1", SourceID: "a", TargetID: "join"},
			{ID: "f2", SourceID: "a", TargetID: "join"},
			{ID: "f3", SourceID: "join", TargetID: "end"},
		},
	}
	ctx := newTestContext(t, defs, nil, nil)
	activities := activateAll(t, ctx, "join", "end")
	a := mustActivity(t, ctx, "a")

	var joinInbound []message.Inbound
	activities["join"].On("enter", func(m *Message) {
		joinInbound = m.Content.Inbound
	})

	if err := a.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Both edges come from the same source; the join waits for both and
	// fires a single run.
	if got := activities["join"].Counters(); got.Taken != 1 {
		t.Fatalf("join counters = %+v, want exactly 1 taken", got)
	}
	if got := activities["end"].Counters(); got.Taken != 1 {
		t.Errorf("end counters = %+v, want 1 taken", got)
	}
	if len(joinInbound) != 2 {
		t.Errorf("join inbound = %v, want one entry per edge", joinInbound)
	}
}

func TestParallelJoin_FlagConfiguresNonGatewayJoin(t *testing.T) {
	defs := Definitions{
		ID: "proc",
		Elements: []ElementDef{
			{ID: "a", Type: TypeTask},
			{ID: "b", Type: TypeTask},
			{ID: "merge", Type: TypeTask, IsParallelJoin: true},
		},
		Flows: []FlowDef{
			{ID: "f1", SourceID: "a", TargetID: "merge"},
			{ID: "f2", SourceID: "b", TargetID: "merge"},
		},
	}
	ctx := newTestContext(t, defs, nil, nil)
	activities := activateAll(t, ctx, "merge")
	a := mustActivity(t, ctx, "a")
	b := mustActivity(t, ctx, "b")

	if err := a.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := activities["merge"].Counters(); got.Taken != 0 {
		t.Fatalf("merge counters = %+v after one source, want no run yet", got)
	}

	if err := b.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := activities["merge"].Counters(); got.Taken != 1 {
		t.Errorf("merge counters = %+v, want 1 taken", got)
	}
}

func TestDiscardLoop_TerminatesWithLoopedFlow(t *testing.T) {
	defs := Definitions{
		ID: "proc",
		Elements: []ElementDef{
			{ID: "decision", Type: TypeExclusiveGateway},
			{ID: "t1", Type: TypeTask},
		},
		Flows: []FlowDef{
			{ID: "f1", SourceID: "decision", TargetID: "t1", Condition: "false"},
			{ID: "f2", SourceID: "t1", TargetID: "decision"},
		},
	}
	ctx := newTestContext(t, defs, nil, nil)
	activities := activateAll(t, ctx, "decision", "t1")
	decision := activities["decision"]

	if err := decision.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	back, err := ctx.SequenceFlow("f2")
	if err != nil {
		t.Fatalf("SequenceFlow(f2) error = %v", err)
	}
	if got := back.Counters(); got.Looped != 1 || got.Discard != 0 {
		t.Errorf("back edge counters = %+v, want 1 looped", got)
	}
	if got := activities["t1"].Counters(); got.Discarded != 1 {
		t.Errorf("t1 counters = %+v, want 1 discarded", got)
	}
	// The looped event must not have re-triggered the gateway.
	if got := decision.Counters(); got.Taken != 1 || got.Discarded != 0 {
		t.Errorf("decision counters = %+v, want single taken run", got)
	}
}

// routingBehaviour completes with explicit, conflicting outbound
// decisions; take must win per target.
type routingBehaviour struct {
	activity *Activity
}

func (b *routingBehaviour) Execute(msg *Message) {
	content := msg.Content.Clone()
	content.Outbound = []message.Outbound{
		{ID: "f1", Action: "discard", TargetID: "t1"},
		{ID: "f1", Action: "take", TargetID: "t1"},
		{ID: "f2", Action: "discard", TargetID: "t2"},
	}
	b.activity.Broker().Publish("execution", "execute.completed", content,
		message.Properties{Persistent: true})
}

func TestOutbound_ExplicitDecisionsDedupTakeWins(t *testing.T) {
	registry := NewRegistry()
	registerBuiltins(registry)
	registry.Register("router", func(a *Activity) Behaviour {
		return &routingBehaviour{activity: a}
	})
	defs := Definitions{
		ID: "proc",
		Elements: []ElementDef{
			{ID: "r1", Type: "router"},
			{ID: "t1", Type: TypeTask},
			{ID: "t2", Type: TypeTask},
		},
		Flows: []FlowDef{
			{ID: "f1", SourceID: "r1", TargetID: "t1"},
			{ID: "f2", SourceID: "r1", TargetID: "t2"},
		},
	}
	ctx := newTestContext(t, defs, nil, registry)
	targets := activateAll(t, ctx, "t1", "t2")
	r1 := mustActivity(t, ctx, "r1")

	if err := r1.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := targets["t1"].Counters(); got.Taken != 1 || got.Discarded != 0 {
		t.Errorf("t1 counters = %+v, want take to win over discard", got)
	}
	if got := targets["t2"].Counters(); got.Discarded != 1 {
		t.Errorf("t2 counters = %+v, want 1 discarded", got)
	}
}

func TestSequenceFlow_StateRoundTrip(t *testing.T) {
	defs := Definitions{
		ID: "proc",
		Elements: []ElementDef{
			{ID: "a", Type: TypeTask},
			{ID: "b", Type: TypeTask},
		},
		Flows: []FlowDef{{ID: "f1", SourceID: "a", TargetID: "b"}},
	}
	ctx := newTestContext(t, defs, nil, nil)
	flow, err := ctx.SequenceFlow("f1")
	if err != nil {
		t.Fatalf("SequenceFlow() error = %v", err)
	}

	flow.Take(&message.Content{ID: "a"})
	flow.Discard(&message.Content{ID: "a"})
	state := flow.GetState()

	ctx2 := newTestContext(t, defs, nil, nil)
	recovered, _ := ctx2.SequenceFlow("f1")
	recovered.Recover(state)

	if got := recovered.Counters(); got.Take != 1 || got.Discard != 1 {
		t.Errorf("recovered counters = %+v, want 1 take 1 discard", got)
	}
}
