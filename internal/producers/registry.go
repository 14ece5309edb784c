package producers

import (
	"sync"

	"athena/internal/domain/agent"
	"athena/internal/engine"
)

// Registry stores analysis producers by agent type for quick lookup.
type Registry struct {
	producers map[agent.Type]engine.Producer
	mu        sync.RWMutex
}

// NewRegistry constructs an empty producer registry.
func NewRegistry() *Registry {
	return &Registry{producers: make(map[agent.Type]engine.Producer)}
}

// Register adds or replaces a producer entry.
func (r *Registry) Register(agentType agent.Type, p engine.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[agentType] = p
}

// Producer retrieves a producer by agent type.
func (r *Registry) Producer(agentType agent.Type) (engine.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[agentType]
	return p, ok
}

// NewDefaultRegistry wires a canned producer for every known agent type.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range agent.AllTypes {
		r.Register(t, NewCannedProducer(t))
	}
	return r
}
