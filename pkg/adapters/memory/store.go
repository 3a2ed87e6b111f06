// Package memory implements ports.SnapshotStore in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/colloquyhq/colloquy/pkg/domain"
)

// Store implements ports.SnapshotStore in memory. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]*domain.ConversationSnapshot
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.ConversationSnapshot),
	}
}

// Save persists the snapshot in memory. The snapshot is copied so later
// mutation by the caller cannot leak into the store.
func (s *Store) Save(ctx context.Context, sessionID string, snap *domain.ConversationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = copySnapshot(snap)
	return nil
}

// Load retrieves a copy of the stored snapshot.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.ConversationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return copySnapshot(snap), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns stored session IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

// copySnapshot copies the snapshot one context level deep; values inside a
// context are shared, matching the engine's shallow snapshot semantics.
func copySnapshot(snap *domain.ConversationSnapshot) *domain.ConversationSnapshot {
	out := *snap
	out.Contexts = make(map[string]map[string]any, len(snap.Contexts))
	for topic, ctx := range snap.Contexts {
		inner := make(map[string]any, len(ctx))
		for k, v := range ctx {
			inner[k] = v
		}
		out.Contexts[topic] = inner
	}
	return &out
}
