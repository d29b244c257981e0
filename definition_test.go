package flowstone

import (
	"errors"
	"testing"
)

func TestNewContext_DuplicateElement(t *testing.T) {
	defs := Definitions{
		Elements: []ElementDef{
			{ID: "a", Type: TypeTask},
			{ID: "a", Type: TypeTask},
		},
	}
	_, err := NewContext(defs, nil, nil)
	if !errors.Is(err, ErrDuplicateElement) {
		t.Errorf("NewContext() error = %v, want ErrDuplicateElement", err)
	}
}

func TestNewContext_FlowWithUnknownEndpoint(t *testing.T) {
	defs := Definitions{
		Elements: []ElementDef{{ID: "a", Type: TypeTask}},
		Flows:    []FlowDef{{ID: "f1", SourceID: "a", TargetID: "missing"}},
	}
	_, err := NewContext(defs, nil, nil)
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("NewContext() error = %v, want ErrElementNotFound", err)
	}
}

func TestContext_ActivityUnknownID(t *testing.T) {
	ctx := newTestContext(t, Definitions{Elements: []ElementDef{{ID: "a", Type: TypeTask}}}, nil, nil)
	if _, err := ctx.Activity("nope"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("Activity(nope) error = %v, want ErrElementNotFound", err)
	}
}

func TestContext_ActivityUnknownBehaviour(t *testing.T) {
	defs := Definitions{Elements: []ElementDef{{ID: "a", Type: "martian"}}}
	ctx := newTestContext(t, defs, nil, nil)
	if _, err := ctx.Activity("a"); !errors.Is(err, ErrUnknownBehaviour) {
		t.Errorf("Activity(a) error = %v, want ErrUnknownBehaviour", err)
	}
}

func TestContext_ActivityIsCached(t *testing.T) {
	defs := Definitions{Elements: []ElementDef{{ID: "a", Type: TypeTask}}}
	ctx := newTestContext(t, defs, nil, nil)

	first := mustActivity(t, ctx, "a")
	second := mustActivity(t, ctx, "a")
	if first != second {
		t.Error("Activity(a) returned a new instance on second call, want cached")
	}
}

func TestContext_FlowQueries(t *testing.T) {
	defs := Definitions{
		Elements: []ElementDef{
			{ID: "a", Type: TypeTask},
			{ID: "b", Type: TypeTask},
			{ID: "c", Type: TypeTask},
		},
		Flows: []FlowDef{
			{ID: "f1", SourceID: "a", TargetID: "b"},
			{ID: "f2", SourceID: "a", TargetID: "c"},
			{ID: "f3", SourceID: "b", TargetID: "c"},
			{ID: "assoc1", Type: "association", SourceID: "c", TargetID: "a"},
		},
	}
	ctx := newTestContext(t, defs, nil, nil)

	out := ctx.OutboundFlows("a")
	if len(out) != 2 || out[0].ID() != "f1" || out[1].ID() != "f2" {
		t.Errorf("OutboundFlows(a) = %v, want [f1 f2] in declaration order", flowIDs(out))
	}
	in := ctx.InboundFlows("c")
	if len(in) != 2 || in[0].ID() != "f2" || in[1].ID() != "f3" {
		t.Errorf("InboundFlows(c) = %v, want [f2 f3]", flowIDs(in))
	}

	// Associations are not sequence flows.
	if _, err := ctx.SequenceFlow("assoc1"); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("SequenceFlow(assoc1) error = %v, want ErrFlowNotFound", err)
	}
	assoc, err := ctx.Association("assoc1")
	if err != nil {
		t.Fatalf("Association(assoc1) error = %v", err)
	}
	if assoc.SourceID() != "c" || assoc.TargetID() != "a" {
		t.Errorf("Association endpoints = %s->%s, want c->a", assoc.SourceID(), assoc.TargetID())
	}
	if got := ctx.InboundAssociations("a"); len(got) != 1 || got[0].ID() != "assoc1" {
		t.Errorf("InboundAssociations(a) = %d entries, want [assoc1]", len(got))
	}
}

func flowIDs(flows []*SequenceFlow) []string {
	out := make([]string, len(flows))
	for i, f := range flows {
		out[i] = f.ID()
	}
	return out
}
