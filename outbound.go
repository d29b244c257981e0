package flowstone

import (
	"fmt"

	"github.com/flowstone-io/flowstone/message"
)

// evaluateOutbound decides which outbound flows fire for a completion
// message, without side effects; the caller performs the actual take and
// discard. Flows are evaluated in structural declaration order.
//
// With takeOne (exclusive semantics) the first flow whose condition is
// truthy wins and every remaining flow is discarded unevaluated, so
// side-effecting condition expressions never fire needlessly. Otherwise
// each flow's condition is evaluated independently and unconditioned flows
// are implicitly taken. In both modes the designated default flow is taken
// only when no other flow was.
func evaluateOutbound(a *Activity, msg *Message, takeOne bool) ([]message.Outbound, error) {
	outbound := a.context.OutboundFlows(a.id)
	if len(outbound) == 0 {
		return nil, nil
	}

	decisions := make([]message.Outbound, 0, len(outbound))
	var defaultFlow *SequenceFlow
	defaultAt := -1
	taken := 0
	decided := false

	for _, flow := range outbound {
		if flow.IsDefault() {
			// Decided after all conditions are known.
			defaultFlow = flow
			defaultAt = len(decisions)
			decisions = append(decisions, message.Outbound{})
			continue
		}

		if takeOne && decided {
			decisions = append(decisions, decision(flow, "discard", nil))
			continue
		}

		result, err := flow.Evaluate(msg)
		if err != nil {
			return nil, fmt.Errorf("outbound %s: %w", flow.ID(), err)
		}
		if isTruthy(result) {
			taken++
			decided = true
			decisions = append(decisions, decision(flow, "take", result))
		} else {
			decisions = append(decisions, decision(flow, "discard", result))
		}
	}

	if defaultFlow != nil {
		action := "discard"
		if taken == 0 {
			action = "take"
		}
		decisions[defaultAt] = decision(defaultFlow, action, nil)
		decisions[defaultAt].IsDefault = true
	}

	return decisions, nil
}

func decision(flow *SequenceFlow, action string, result any) message.Outbound {
	return message.Outbound{
		ID:       flow.ID(),
		Action:   action,
		TargetID: flow.TargetID(),
		Result:   result,
	}
}

// dedupOutbound collapses multiple decisions targeting the same node into
// one dispatch, a take always winning over a discard to the same target.
// First-seen order is preserved.
func dedupOutbound(decisions []message.Outbound) []message.Outbound {
	byTarget := make(map[string]int)
	out := make([]message.Outbound, 0, len(decisions))
	for _, d := range decisions {
		at, seen := byTarget[d.TargetID]
		if !seen {
			byTarget[d.TargetID] = len(out)
			out = append(out, d)
			continue
		}
		if d.Action == "take" && out[at].Action != "take" {
			out[at] = d
		}
	}
	return out
}
