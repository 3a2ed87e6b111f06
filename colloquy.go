// Package colloquy is the high-level entry point for the conversation
// engine. It wires a YAML topic catalog, the per-session orchestration
// core and optional snapshot persistence into a single session manager.
//
// Hosts that need finer control (custom activity types, programmatic
// topics, their own registries) use the pkg/... packages directly; the
// facade covers the common catalog-driven case.
package colloquy

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/colloquyhq/colloquy/internal/compiler"
	"github.com/colloquyhq/colloquy/internal/logging"
	"github.com/colloquyhq/colloquy/pkg/orchestrator"
	"github.com/colloquyhq/colloquy/pkg/ports"
	"github.com/colloquyhq/colloquy/pkg/registry"
	"github.com/colloquyhq/colloquy/pkg/session"
)

// Version is the current release of the engine.
const Version = "0.3.0"

// Engine bundles a compiled catalog with a session manager.
type Engine struct {
	sessions *session.Manager
	catalog  []byte
	greeting string
	logger   *slog.Logger
	store    ports.SnapshotStore
	buffer   int
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and every session.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithGreetingTopic overrides the topic started when a conversation
// begins. The default is the first topic in the catalog.
func WithGreetingTopic(name string) Option {
	return func(e *Engine) { e.greeting = name }
}

// WithStore enables conversation snapshot persistence.
func WithStore(store ports.SnapshotStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithBufferLimit bounds each session's event buffer.
func WithBufferLimit(limit int) Option {
	return func(e *Engine) { e.buffer = limit }
}

// New builds an engine from a catalog file. The catalog is compiled once
// up front to fail fast on bad definitions; each session then gets its
// own topic instances, since topics carry live state.
func New(catalogPath string, opts ...Option) (*Engine, error) {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", catalogPath, err)
	}
	return NewFromCatalog(data, opts...)
}

// NewFromCatalog builds an engine from an in-memory catalog document.
func NewFromCatalog(catalog []byte, opts ...Option) (*Engine, error) {
	e := &Engine{
		catalog: catalog,
		logger:  logging.NewNop(),
		buffer:  256,
	}
	for _, opt := range opts {
		opt(e)
	}

	comp := compiler.New(e.logger)
	topics, err := comp.Compile(catalog)
	if err != nil {
		return nil, err
	}
	if e.greeting == "" {
		e.greeting = topics[0].Name()
	}
	found := false
	for _, t := range topics {
		if t.Name() == e.greeting {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("greeting topic %q is not in the catalog", e.greeting)
	}

	builder := func(sessionID string) (*registry.Registry, *orchestrator.Orchestrator, error) {
		sessTopics, err := comp.Compile(e.catalog)
		if err != nil {
			return nil, nil, err
		}
		reg := registry.NewRegistry()
		for _, t := range sessTopics {
			if err := reg.Register(t); err != nil {
				return nil, nil, err
			}
		}
		orch := orchestrator.New(reg,
			orchestrator.WithLogger(e.logger.With("session_id", sessionID)),
			orchestrator.WithGreetingTopic(e.greeting),
		)
		return reg, orch, nil
	}

	managerOpts := []session.Option{
		session.WithLogger(e.logger),
		session.WithBufferLimit(e.buffer),
	}
	if e.store != nil {
		managerOpts = append(managerOpts, session.WithStore(e.store))
	}
	e.sessions = session.NewManager(builder, managerOpts...)
	return e, nil
}

// Sessions exposes the engine's session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}
