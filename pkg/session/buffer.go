package session

import (
	"sync"

	"github.com/colloquyhq/colloquy/pkg/events"
)

// EventBuffer is a bounded FIFO of envelopes. When full, the oldest
// envelope is dropped; pull-based consumers that fall behind lose history,
// not liveness.
type EventBuffer struct {
	mu    sync.Mutex
	buf   []events.Envelope
	limit int
}

// NewEventBuffer creates a buffer holding at most limit envelopes.
func NewEventBuffer(limit int) *EventBuffer {
	if limit <= 0 {
		limit = 256
	}
	return &EventBuffer{limit: limit}
}

// Append adds an envelope, evicting the oldest if the buffer is full.
func (b *EventBuffer) Append(ev events.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) >= b.limit {
		b.buf = b.buf[1:]
	}
	b.buf = append(b.buf, ev)
}

// Drain returns the buffered envelopes and empties the buffer.
func (b *EventBuffer) Drain() []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = nil
	return out
}

// Len returns the number of buffered envelopes.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
