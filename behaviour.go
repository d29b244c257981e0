package flowstone

import "sync"

// Behaviour supplies the type-specific logic of an activity. Execute must
// eventually publish exactly one of execute.completed, execute.discard, or
// execute.error on the activity broker's execution exchange, and may
// publish non-terminal progress signals (execute.wait, execute.timer, ...)
// before that. Behaviours must tolerate redelivery: on a redelivered
// execute message they re-establish listeners without re-emitting external
// events.
type Behaviour interface {
	Execute(msg *Message)
}

// StatefulBehaviour is implemented by behaviours with state worth
// persisting across a stop/recover cycle.
type StatefulBehaviour interface {
	Behaviour
	GetState() map[string]any
	Recover(state map[string]any)
}

// PostponedSource is implemented by sub-process behaviours that expose
// their children's in-flight executions.
type PostponedSource interface {
	Behaviour
	GetPostponed() []*Api
}

// BehaviourFactory builds a behaviour bound to an activity. A new instance
// is created per activity, at activity construction time.
type BehaviourFactory func(*Activity) Behaviour

// Registry maps structural type names to behaviour factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BehaviourFactory
	order     []string
}

// NewRegistry creates an empty behaviour registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]BehaviourFactory)}
}

// Register adds a factory for a type name, overwriting any previous one.
func (r *Registry) Register(typeName string, factory BehaviourFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; !exists {
		r.order = append(r.order, typeName)
	}
	r.factories[typeName] = factory
}

// Resolve returns the factory for a type name.
func (r *Registry) Resolve(typeName string) (BehaviourFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeName]
	return f, ok
}

// Types returns registered type names in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared registry preloaded with the built-in
// behaviours.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

func registerBuiltins(r *Registry) {
	r.Register(TypeTask, NewTaskBehaviour)
	r.Register(TypeSignalTask, NewSignalTaskBehaviour)
	r.Register(TypeExclusiveGateway, NewExclusiveGatewayBehaviour)
	r.Register(TypeParallelGateway, NewParallelGatewayBehaviour)
}
