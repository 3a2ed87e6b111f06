package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/orchestrator"
	"github.com/colloquyhq/colloquy/pkg/ports"
	"github.com/colloquyhq/colloquy/pkg/registry"
)

// Builder constructs the per-session topic registry and orchestrator.
// Topics are stateful, so every session needs its own instances.
type Builder func(sessionID string) (*registry.Registry, *orchestrator.Orchestrator, error)

// Session is one live conversation: its registry, orchestrator and the
// event buffer that collects everything the domain bus emits.
type Session struct {
	ID           string
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Events       *EventBuffer
	CreatedAt    time.Time
}

// lockEntry holds a session mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring operations on one session
// are serialized. It uses reference counting to garbage collect unused
// locks.
type Manager struct {
	build  Builder
	store  ports.SnapshotStore
	logger *slog.Logger
	buffer int

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*lockEntry
}

// Option configures the Manager.
type Option func(*Manager)

// WithStore enables snapshot persistence.
func WithStore(store ports.SnapshotStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithBufferLimit bounds each session's event buffer.
func WithBufferLimit(limit int) Option {
	return func(m *Manager) { m.buffer = limit }
}

// NewManager creates a session manager around a session builder.
func NewManager(build Builder, opts ...Option) *Manager {
	m := &Manager{
		build:    build,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		buffer:   256,
		sessions: make(map[string]*Session),
		locks:    make(map[string]*lockEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// withLock executes fn while holding the session's lock.
func (m *Manager) withLock(sessionID string, fn func() error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()
	return fn()
}

// Start creates (or returns) the session with the given ID. A new
// session's orchestrator is wired into the event buffer and its greeting
// topic is started.
func (m *Manager) Start(ctx context.Context, sessionID string) (*Session, error) {
	var sess *Session
	err := m.withLock(sessionID, func() error {
		m.mu.Lock()
		existing, ok := m.sessions[sessionID]
		m.mu.Unlock()
		if ok {
			sess = existing
			return nil
		}

		reg, orch, err := m.build(sessionID)
		if err != nil {
			return fmt.Errorf("failed to build session %s: %w", sessionID, err)
		}
		sess = &Session{
			ID:           sessionID,
			Registry:     reg,
			Orchestrator: orch,
			Events:       NewEventBuffer(m.buffer),
			CreatedAt:    time.Now(),
		}
		orch.Bus().SubscribeAll(func(ev events.Envelope) error {
			sess.Events.Append(ev)
			return nil
		})

		m.mu.Lock()
		m.sessions[sessionID] = sess
		m.mu.Unlock()

		orch.StartConversation()
		return m.persist(ctx, sess)
	})
	return sess, err
}

// Get returns a live session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// ProcessMessage routes text into the session and persists the snapshot.
func (m *Manager) ProcessMessage(ctx context.Context, sessionID, text string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return m.withLock(sessionID, func() error {
		sess.Orchestrator.ProcessMessage(text)
		return m.persist(ctx, sess)
	})
}

// SubmitInput delivers external input (a form submission) to the session.
func (m *Manager) SubmitInput(ctx context.Context, sessionID string, data map[string]any) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return m.withLock(sessionID, func() error {
		sess.Orchestrator.HandleExternalInput(data)
		return m.persist(ctx, sess)
	})
}

// Reset returns the session's conversation to its pristine state.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return m.withLock(sessionID, func() error {
		sess.Orchestrator.ResetConversation()
		return m.persist(ctx, sess)
	})
}

// End removes the session and deletes its snapshot.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	return m.withLock(sessionID, func() error {
		m.mu.Lock()
		sess, ok := m.sessions[sessionID]
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		if !ok {
			return domain.ErrSessionNotFound
		}
		sess.Orchestrator.ResetConversation()
		if m.store != nil {
			return m.store.Delete(ctx, sessionID)
		}
		return nil
	})
}

// List returns the IDs of live sessions.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// persist writes the session's conversation snapshot, if a store is set.
func (m *Manager) persist(ctx context.Context, sess *Session) error {
	if m.store == nil {
		return nil
	}
	snap := &domain.ConversationSnapshot{
		SessionID: sess.ID,
		Contexts:  make(map[string]map[string]any),
		UpdatedAt: time.Now(),
	}
	if active := sess.Orchestrator.ActiveTopic(); active != nil {
		snap.ActiveTopic = active.Name()
	}
	for _, t := range sess.Registry.Topics() {
		snap.Contexts[t.Name()] = t.Context().Snapshot()
	}
	if err := m.store.Save(ctx, sess.ID, snap); err != nil {
		m.logger.Warn("failed to persist session snapshot", "session_id", sess.ID, "err", err)
		return err
	}
	return nil
}
