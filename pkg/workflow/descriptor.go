package workflow

import (
	"fmt"
	"sync"
)

// Descriptor names a queue position and the factory that builds its
// activity. Instances are created lazily when the pump reaches the
// position and dropped when it moves past it.
type Descriptor struct {
	ID  string
	New Factory
}

// QueueBuilder rebuilds a topic's descriptor queue. It receives the live
// workflow context so descriptors can be built from it (prefilled card
// defaults, context-routed triggers).
type QueueBuilder func(c *Context) []Descriptor

// StaticQueue wraps a fixed descriptor list as a QueueBuilder.
func StaticQueue(queue []Descriptor) QueueBuilder {
	return func(*Context) []Descriptor { return queue }
}

// FactoryRegistry maps activity type tags to constructor closures. It
// replaces runtime type inspection with an explicit builder lookup: the
// catalog compiler resolves a tag plus its raw config to a Factory.
type FactoryRegistry struct {
	mu       sync.RWMutex
	builders map[string]func(config map[string]any) (Factory, error)
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		builders: make(map[string]func(config map[string]any) (Factory, error)),
	}
}

// Register adds a builder for a type tag, overwriting any previous one.
func (r *FactoryRegistry) Register(tag string, build func(config map[string]any) (Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[tag] = build
}

// Build resolves tag and constructs a Factory from config.
func (r *FactoryRegistry) Build(tag string, config map[string]any) (Factory, error) {
	r.mu.RLock()
	build, ok := r.builders[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown activity type %q", tag)
	}
	return build(config)
}

// Tags returns the registered type tags.
func (r *FactoryRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.builders))
	for tag := range r.builders {
		tags = append(tags, tag)
	}
	return tags
}
