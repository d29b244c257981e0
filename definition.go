package flowstone

import (
	"errors"
	"fmt"
)

// Definition errors.
var (
	ErrElementNotFound  = errors.New("element not found")
	ErrFlowNotFound     = errors.New("flow not found")
	ErrDuplicateElement = errors.New("duplicate element ID")
	ErrUnknownBehaviour = errors.New("no behaviour registered for type")
)

// ElementDef describes one structural node of a process. Definitions are
// read-only after construction and shared by every instance created from
// them.
type ElementDef struct {
	ID   string `yaml:"id" json:"id"`
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	IsStart           bool   `yaml:"isStart,omitempty" json:"isStart,omitempty"`
	IsEnd             bool   `yaml:"isEnd,omitempty" json:"isEnd,omitempty"`
	IsSubProcess      bool   `yaml:"isSubProcess,omitempty" json:"isSubProcess,omitempty"`
	IsForCompensation bool   `yaml:"isForCompensation,omitempty" json:"isForCompensation,omitempty"`
	IsParallelJoin    bool   `yaml:"isParallelJoin,omitempty" json:"isParallelJoin,omitempty"`
	IsThrowing        bool   `yaml:"isThrowing,omitempty" json:"isThrowing,omitempty"`
	IsTransaction     bool   `yaml:"isTransaction,omitempty" json:"isTransaction,omitempty"`
	IsMultiInstance   bool   `yaml:"isMultiInstance,omitempty" json:"isMultiInstance,omitempty"`
	AttachedTo        string `yaml:"attachedTo,omitempty" json:"attachedTo,omitempty"`

	// Default names the outbound flow taken when no condition matches.
	Default string `yaml:"default,omitempty" json:"default,omitempty"`

	// Meta carries behaviour-specific configuration (service name, loop
	// cardinality, timer definition...).
	Meta map[string]any `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// FlowDef describes one directed edge.
type FlowDef struct {
	ID        string `yaml:"id" json:"id"`
	Type      string `yaml:"type,omitempty" json:"type,omitempty"` // "sequenceflow" (default) or "association"
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	SourceID  string `yaml:"sourceId" json:"sourceId"`
	TargetID  string `yaml:"targetId" json:"targetId"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

const (
	flowTypeSequence    = "sequenceflow"
	flowTypeAssociation = "association"
)

// Definitions is one process's structural model.
type Definitions struct {
	ID       string       `yaml:"id,omitempty" json:"id,omitempty"`
	Elements []ElementDef `yaml:"elements" json:"elements"`
	Flows    []FlowDef    `yaml:"flows,omitempty" json:"flows,omitempty"`
}

// Context materializes runtime elements from definitions. Elements are
// created lazily on first reference and live for the context's lifetime;
// they are reset, never destroyed, across discard and restart cycles.
type Context struct {
	definitions Definitions
	environment *Environment
	registry    *Registry

	elements  map[string]*ElementDef
	flows     map[string]*FlowDef
	flowOrder []string

	activities    map[string]*Activity
	sequenceFlows map[string]*SequenceFlow
	associations  map[string]*Association
}

// NewContext indexes definitions for structural queries. A nil registry
// uses the package default; a nil environment gets a fresh one.
func NewContext(definitions Definitions, environment *Environment, registry *Registry) (*Context, error) {
	if environment == nil {
		environment = NewEnvironment()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}

	c := &Context{
		definitions:   definitions,
		environment:   environment,
		registry:      registry,
		elements:      make(map[string]*ElementDef),
		flows:         make(map[string]*FlowDef),
		activities:    make(map[string]*Activity),
		sequenceFlows: make(map[string]*SequenceFlow),
		associations:  make(map[string]*Association),
	}

	for i := range definitions.Elements {
		def := &definitions.Elements[i]
		if _, exists := c.elements[def.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateElement, def.ID)
		}
		c.elements[def.ID] = def
	}
	for i := range definitions.Flows {
		def := &definitions.Flows[i]
		if def.Type == "" {
			def.Type = flowTypeSequence
		}
		if _, exists := c.flows[def.ID]; exists {
			return nil, fmt.Errorf("%w: flow %s", ErrDuplicateElement, def.ID)
		}
		if _, ok := c.elements[def.SourceID]; !ok {
			return nil, fmt.Errorf("%w: flow %s source %s", ErrElementNotFound, def.ID, def.SourceID)
		}
		if _, ok := c.elements[def.TargetID]; !ok {
			return nil, fmt.Errorf("%w: flow %s target %s", ErrElementNotFound, def.ID, def.TargetID)
		}
		c.flows[def.ID] = def
		c.flowOrder = append(c.flowOrder, def.ID)
	}

	return c, nil
}

// Environment returns the shared environment.
func (c *Context) Environment() *Environment { return c.environment }

// ElementByID returns a structural definition entry.
func (c *Context) ElementByID(id string) (*ElementDef, bool) {
	def, ok := c.elements[id]
	return def, ok
}

// Activity returns the runtime activity for an element, creating it on
// first reference.
func (c *Context) Activity(id string) (*Activity, error) {
	if a, ok := c.activities[id]; ok {
		return a, nil
	}
	def, ok := c.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	factory, ok := c.registry.Resolve(def.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBehaviour, def.Type)
	}
	a := newActivity(def, c)
	c.activities[id] = a
	a.behaviour = factory(a)
	return a, nil
}

// SequenceFlow returns the runtime flow for an edge, creating it on first
// reference.
func (c *Context) SequenceFlow(id string) (*SequenceFlow, error) {
	if f, ok := c.sequenceFlows[id]; ok {
		return f, nil
	}
	def, ok := c.flows[id]
	if !ok || def.Type != flowTypeSequence {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	f := newSequenceFlow(def, c)
	c.sequenceFlows[id] = f
	return f, nil
}

// Association returns the runtime association for an edge, creating it on
// first reference.
func (c *Context) Association(id string) (*Association, error) {
	if a, ok := c.associations[id]; ok {
		return a, nil
	}
	def, ok := c.flows[id]
	if !ok || def.Type != flowTypeAssociation {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	a := newAssociation(def, c)
	c.associations[id] = a
	return a, nil
}

// InboundFlows returns the sequence flows targeting an element, in
// declaration order.
func (c *Context) InboundFlows(elementID string) []*SequenceFlow {
	return c.collectFlows(func(def *FlowDef) bool {
		return def.Type == flowTypeSequence && def.TargetID == elementID
	})
}

// OutboundFlows returns the sequence flows leaving an element, in
// declaration order.
func (c *Context) OutboundFlows(elementID string) []*SequenceFlow {
	return c.collectFlows(func(def *FlowDef) bool {
		return def.Type == flowTypeSequence && def.SourceID == elementID
	})
}

// InboundAssociations returns the associations targeting an element.
func (c *Context) InboundAssociations(elementID string) []*Association {
	var out []*Association
	for _, id := range c.flowOrder {
		def := c.flows[id]
		if def.Type != flowTypeAssociation || def.TargetID != elementID {
			continue
		}
		a, err := c.Association(id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Context) collectFlows(match func(*FlowDef) bool) []*SequenceFlow {
	var out []*SequenceFlow
	for _, id := range c.flowOrder {
		def := c.flows[id]
		if !match(def) {
			continue
		}
		f, err := c.SequenceFlow(id)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}
