// Package registry holds the session's topics and resolves the best topic
// for an input message by confidence score.
package registry

import (
	"fmt"
	"sync"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/workflow"
)

// Registry manages the registered topics. Registration order is preserved
// for deterministic tie-breaking.
type Registry struct {
	mu      sync.RWMutex
	ordered []*workflow.Topic
	byName  map[string]*workflow.Topic
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*workflow.Topic),
	}
}

// Register adds a topic. Registering a duplicate name is an error; topics
// are instantiated once per registration and reset between conversations.
func (r *Registry) Register(t *workflow.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[t.Name()]; exists {
		return fmt.Errorf("topic %q already registered", t.Name())
	}
	r.byName[t.Name()] = t
	r.ordered = append(r.ordered, t)
	return nil
}

// Get returns the topic registered under name.
func (r *Registry) Get(name string) (*workflow.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTopicNotFound, name)
	}
	return t, nil
}

// Topics returns the registered topics in registration order.
func (r *Registry) Topics() []*workflow.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*workflow.Topic, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// FindBestTopic scores every topic's confidence for the message and
// returns the highest non-zero scorer. Ties break by priority, then by
// registration order. If every topic scores zero it returns
// domain.ErrNoTopicMatched rather than an arbitrary pick.
func (r *Registry) FindBestTopic(message string) (*workflow.Topic, float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *workflow.Topic
	bestScore := 0.0
	for _, t := range r.ordered {
		score := t.Confidence(message)
		if score <= 0 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && t.Priority() > best.Priority()) {
			best = t
			bestScore = score
		}
	}
	if best == nil {
		return nil, 0, domain.ErrNoTopicMatched
	}
	return best, bestScore, nil
}

// ResetAll resets every registered topic to Idle.
func (r *Registry) ResetAll() {
	for _, t := range r.Topics() {
		t.Reset()
	}
}
