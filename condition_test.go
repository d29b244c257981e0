package flowstone

import (
	"testing"

	"github.com/flowstone-io/flowstone/message"
)

func TestEvaluateCondition_EmptyIsTrue(t *testing.T) {
	env := NewEnvironment()
	result, err := EvaluateCondition(env, "   ", nil)
	if err != nil {
		t.Fatalf("EvaluateCondition() error = %v", err)
	}
	if result != true {
		t.Errorf("EvaluateCondition(empty) = %v, want true", result)
	}
}

func TestEvaluateCondition_VariablesScope(t *testing.T) {
	env := NewEnvironment(WithVariables(map[string]any{"amount": 240}))
	env.Output["approved"] = true

	tests := []struct {
		source string
		want   any
	}{
		{"variables.amount > 100", true},
		{"variables.amount > 1000", false},
		{"output.approved", true},
		{"variables.amount * 2", 480},
	}
	for _, tt := range tests {
		got, err := EvaluateCondition(env, tt.source, nil)
		if err != nil {
			t.Fatalf("EvaluateCondition(%q) error = %v", tt.source, err)
		}
		if got != tt.want {
			t.Errorf("EvaluateCondition(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestEvaluateCondition_MessageScope(t *testing.T) {
	env := NewEnvironment()
	msg := &Message{
		Fields:  message.Fields{RoutingKey: "run.end"},
		Content: &message.Content{ID: "task1", Output: 42},
	}

	got, err := EvaluateCondition(env, `content.ID == "task1" && fields.RoutingKey == "run.end"`, msg)
	if err != nil {
		t.Fatalf("EvaluateCondition() error = %v", err)
	}
	if got != true {
		t.Errorf("EvaluateCondition(message scope) = %v, want true", got)
	}
}

func TestEvaluateCondition_CompileError(t *testing.T) {
	env := NewEnvironment()
	if _, err := EvaluateCondition(env, "variables.", nil); err == nil {
		t.Error("EvaluateCondition(malformed) error = nil, want compile error")
	}
}

func TestResolveExpression_PlainStringVerbatim(t *testing.T) {
	env := NewEnvironment()
	got, err := ResolveExpression(env, "plain value", nil)
	if err != nil {
		t.Fatalf("ResolveExpression() error = %v", err)
	}
	if got != "plain value" {
		t.Errorf("ResolveExpression() = %v, want verbatim string", got)
	}
}

func TestResolveExpression_EqualsPrefixEvaluates(t *testing.T) {
	env := NewEnvironment(WithVariables(map[string]any{"who": "operator"}))
	got, err := ResolveExpression(env, `="hello " + variables.who`, nil)
	if err != nil {
		t.Fatalf("ResolveExpression() error = %v", err)
	}
	if got != "hello operator" {
		t.Errorf("ResolveExpression() = %v, want %q", got, "hello operator")
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{0, true},
		{"", true},
		{[]string{}, true},
	}
	for _, tt := range tests {
		if got := isTruthy(tt.value); got != tt.want {
			t.Errorf("isTruthy(%#v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
