// Package message defines the value types that cross broker boundaries:
// routing fields, delivery properties, and the execution content payload
// with its parent ancestry chain. Everything here is plain data; Clone
// produces value-semantics snapshots so a published message can never be
// mutated in place by a downstream consumer.
package message

// Fields describe how a message was routed and delivered.
type Fields struct {
	RoutingKey  string `json:"routingKey"`
	Exchange    string `json:"exchange,omitempty"`
	ConsumerTag string `json:"consumerTag,omitempty"`
	Redelivered bool   `json:"redelivered,omitempty"`
}

// Properties carry broker-level delivery metadata.
type Properties struct {
	MessageID     string `json:"messageId,omitempty"`
	Type          string `json:"type,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Persistent    bool   `json:"persistent,omitempty"`
	Mandatory     bool   `json:"mandatory,omitempty"`
	Delegate      bool   `json:"delegate,omitempty"`
	Priority      int    `json:"priority,omitempty"`
}

// Content is the per-run payload of every kernel message.
//
// ExecutionID is globally unique per logical run attempt and is the join
// key correlating execute/completion pairs. Keep and PreventComplete are
// behaviour-driven hints; Meta is an open bag for hints the kernel does
// not interpret itself.
type Content struct {
	ID          string  `json:"id,omitempty"`
	Type        string  `json:"type,omitempty"`
	Name        string  `json:"name,omitempty"`
	ExecutionID string  `json:"executionId,omitempty"`
	Parent      *Parent `json:"parent,omitempty"`

	Inbound  []Inbound  `json:"inbound,omitempty"`
	Outbound []Outbound `json:"outbound,omitempty"`

	IsRootScope     bool   `json:"isRootScope,omitempty"`
	IsMultiInstance bool   `json:"isMultiInstance,omitempty"`
	IsSubProcess    bool   `json:"isSubProcess,omitempty"`
	AttachedTo      string `json:"attachedTo,omitempty"`

	// SourceID/TargetID are set on flow and association content.
	SourceID string `json:"sourceId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Action   string `json:"action,omitempty"`
	// Sequence identifies one take of a flow.
	Sequence string `json:"sequenceId,omitempty"`

	// DiscardSequence lists source ids already visited by a discard
	// cascade, used for loop detection.
	DiscardSequence []string `json:"discardSequence,omitempty"`

	Index   int    `json:"index,omitempty"`
	State   string `json:"state,omitempty"`
	Taken   bool   `json:"taken,omitempty"`
	Output  any    `json:"output,omitempty"`
	Result  any    `json:"result,omitempty"`
	Message any    `json:"message,omitempty"`
	Error   *Err   `json:"error,omitempty"`

	Keep              bool `json:"keep,omitempty"`
	PreventComplete   bool `json:"preventComplete,omitempty"`
	IgnoreIfExecuting bool `json:"ignoreIfExecuting,omitempty"`
	IgnoreOutbound    bool `json:"ignoreOutbound,omitempty"`

	Meta map[string]any `json:"meta,omitempty"`
}

// Inbound records one inbound trigger (flow or association take/discard).
type Inbound struct {
	ID              string   `json:"id"`
	Type            string   `json:"type,omitempty"`
	Action          string   `json:"action"`
	SourceID        string   `json:"sourceId,omitempty"`
	TargetID        string   `json:"targetId,omitempty"`
	DiscardSequence []string `json:"discardSequence,omitempty"`
}

// Outbound records one decided outbound action for a flow.
type Outbound struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	TargetID  string `json:"targetId,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty"`
	Result    any    `json:"result,omitempty"`
	Message   any    `json:"message,omitempty"`
}

// Clone returns a deep copy of the content.
func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}

	out := *c
	out.Parent = c.Parent.Clone()

	if c.Inbound != nil {
		out.Inbound = make([]Inbound, len(c.Inbound))
		for i, in := range c.Inbound {
			in.DiscardSequence = cloneStrings(in.DiscardSequence)
			out.Inbound[i] = in
		}
	}

	if c.Outbound != nil {
		out.Outbound = make([]Outbound, len(c.Outbound))
		for i, ob := range c.Outbound {
			ob.Result = CloneValue(ob.Result)
			ob.Message = CloneValue(ob.Message)
			out.Outbound[i] = ob
		}
	}

	out.DiscardSequence = cloneStrings(c.DiscardSequence)
	out.Output = CloneValue(c.Output)
	out.Result = CloneValue(c.Result)
	out.Message = CloneValue(c.Message)
	out.Error = c.Error.Clone()

	if c.Meta != nil {
		out.Meta = make(map[string]any, len(c.Meta))
		for k, v := range c.Meta {
			out.Meta[k] = CloneValue(v)
		}
	}

	return &out
}

// WithError returns a clone of the content with the error attached.
func (c *Content) WithError(err *Err) *Content {
	out := c.Clone()
	out.Error = err
	return out
}

// CloneValue deep-copies plain-data values: maps, slices, and primitives.
// Values of other types are returned as-is; payloads crossing a publish
// boundary are expected to be plain data.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
