package message

import (
	"errors"
	"testing"
)

func TestContent_Clone_DeepCopies(t *testing.T) {
	c := &Content{
		ID:          "task1",
		ExecutionID: "exec-1",
		Parent:      &Parent{ID: "process", Type: "process"},
		Inbound:     []Inbound{{ID: "flow1", Action: "take"}},
		Outbound:    []Outbound{{ID: "flow2", Action: "discard"}},
		Meta:        map[string]any{"nested": map[string]any{"k": "v"}},
		Output:      []any{1, 2},
		DiscardSequence: []string{"a"},
	}

	clone := c.Clone()

	clone.Meta["nested"].(map[string]any)["k"] = "changed"
	clone.Inbound[0].Action = "discard"
	clone.DiscardSequence[0] = "b"
	clone.Parent.ID = "other"

	if c.Meta["nested"].(map[string]any)["k"] != "v" {
		t.Error("Clone() shares meta map")
	}
	if c.Inbound[0].Action != "take" {
		t.Error("Clone() shares inbound slice")
	}
	if c.DiscardSequence[0] != "a" {
		t.Error("Clone() shares discard sequence")
	}
	if c.Parent.ID != "process" {
		t.Error("Clone() shares parent")
	}
}

func TestContent_Clone_Nil(t *testing.T) {
	var c *Content
	if c.Clone() != nil {
		t.Error("Clone() of nil content should be nil")
	}
}

func TestContent_WithError(t *testing.T) {
	c := &Content{ID: "task1"}
	errored := c.WithError(NewErr(errors.New("boom"), c))

	if errored.Error == nil {
		t.Fatal("WithError() did not attach error")
	}
	if errored.Error.Message != "boom" {
		t.Errorf("error message = %v, want boom", errored.Error.Message)
	}
	if errored.Error.Source == nil || errored.Error.Source.ID != "task1" {
		t.Error("error source not captured")
	}
}

func TestParent_ShiftUnshift(t *testing.T) {
	p := &Parent{
		ID:          "sub",
		Type:        "subprocess",
		ExecutionID: "sub-exec",
		Path: []ParentRef{
			{ID: "process", Type: "process", ExecutionID: "proc-exec"},
		},
	}

	shifted := p.Shift()
	if shifted == nil || shifted.ID != "process" {
		t.Fatalf("Shift() current = %v, want process", shifted)
	}
	if len(shifted.Path) != 0 {
		t.Errorf("Shift() path length = %v, want 0", len(shifted.Path))
	}
	if shifted.Shift() != nil {
		t.Error("Shift() on exhausted chain should be nil")
	}

	adopted := p.Unshift(ParentRef{ID: "loop", Type: "loop", ExecutionID: "loop-exec"})
	if adopted.ID != "loop" {
		t.Errorf("Unshift() current = %v, want loop", adopted.ID)
	}
	if len(adopted.Path) != 2 || adopted.Path[0].ID != "sub" {
		t.Errorf("Unshift() path = %v, want [sub process]", adopted.Path)
	}
	if adopted.Depth() != 3 {
		t.Errorf("Depth() = %v, want 3", adopted.Depth())
	}
}

func TestCloneValue_Isolation(t *testing.T) {
	original := map[string]any{
		"list": []any{map[string]any{"k": "v"}},
	}

	cloned := CloneValue(original).(map[string]any)
	cloned["list"].([]any)[0].(map[string]any)["k"] = "changed"

	if original["list"].([]any)[0].(map[string]any)["k"] != "v" {
		t.Error("CloneValue() shares nested structures")
	}
}
