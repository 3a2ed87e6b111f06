// Package fsm provides the small transition-table state machine shared by
// activities and topics. It favors explicit operations over cleverness:
// Fire validates against the table, ForceState and ClearHistory exist as
// first-class operations so callers never have to reach into internals to
// reset a machine.
package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/colloquyhq/colloquy/pkg/domain"
)

// Transition records one completed state change.
type Transition[S ~string] struct {
	From S
	To   S
	At   time.Time
}

// Observer is notified after every state change, forced or not.
type Observer[S ~string] func(from, to S)

// Machine is a thread-safe finite state machine over string-typed states.
// The transition table is fixed at construction; history accumulates until
// ClearHistory.
type Machine[S ~string] struct {
	mu       sync.Mutex
	current  S
	table    map[S][]S
	history  []Transition[S]
	observer Observer[S]
}

// New creates a machine starting at initial with the given transition table.
func New[S ~string](initial S, table map[S][]S) *Machine[S] {
	return &Machine[S]{
		current: initial,
		table:   table,
	}
}

// OnTransition registers a single observer invoked after each change. The
// observer runs outside the machine lock so it may query the machine.
func (m *Machine[S]) OnTransition(fn Observer[S]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Is reports whether the machine is currently in state s.
func (m *Machine[S]) Is(s S) bool {
	return m.Current() == s
}

// Fire attempts the transition to next. It returns a wrapped
// domain.ErrIllegalTransition if the table does not allow the edge.
func (m *Machine[S]) Fire(next S) error {
	m.mu.Lock()
	from := m.current
	allowed := false
	for _, s := range m.table[from] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, next)
	}
	m.advance(next)
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(from, next)
	}
	return nil
}

// ForceState moves the machine to next bypassing the transition table. It
// records the change in history and notifies the observer like any other
// transition. Forcing the current state is a no-op.
func (m *Machine[S]) ForceState(next S) {
	m.mu.Lock()
	from := m.current
	if from == next {
		m.mu.Unlock()
		return
	}
	m.advance(next)
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(from, next)
	}
}

// advance must be called with m.mu held.
func (m *Machine[S]) advance(next S) {
	m.history = append(m.history, Transition[S]{
		From: m.current,
		To:   next,
		At:   time.Now(),
	})
	m.current = next
}

// History returns a copy of the recorded transitions.
func (m *Machine[S]) History() []Transition[S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition[S], len(m.history))
	copy(out, m.history)
	return out
}

// ClearHistory discards all recorded transitions.
func (m *Machine[S]) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}
