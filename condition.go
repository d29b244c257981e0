package flowstone

import (
	"fmt"
	"strings"

	"github.com/antonmedv/expr"
)

// evalScope builds the evaluation scope for conditions and expressions:
// environment variables and output, plus the triggering message when there
// is one.
func evalScope(env *Environment, msg *Message) map[string]any {
	scope := map[string]any{
		"variables": env.Variables,
		"output":    env.Output,
	}
	if msg != nil {
		scope["content"] = msg.Content
		scope["fields"] = msg.Fields
	}
	return scope
}

// EvaluateCondition compiles and runs a condition expression against the
// environment and message scope. An empty source evaluates to true.
func EvaluateCondition(env *Environment, source string, msg *Message) (any, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return true, nil
	}
	program, err := expr.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", source, err)
	}
	result, err := expr.Run(program, evalScope(env, msg))
	if err != nil {
		return nil, fmt.Errorf("evaluate condition %q: %w", source, err)
	}
	return result, nil
}

// ResolveExpression resolves a string that may be an expression. Strings
// prefixed with "=" are evaluated; anything else is returned verbatim.
func ResolveExpression(env *Environment, source string, msg *Message) (any, error) {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "=") {
		return source, nil
	}
	return EvaluateCondition(env, trimmed[1:], msg)
}

// isTruthy interprets a condition result the way routing expects: nil and
// false are false, everything else is true.
func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}
