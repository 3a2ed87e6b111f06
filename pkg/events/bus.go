package events

import (
	"container/list"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Handler processes a single envelope. Returning an error does not stop
// delivery to later subscribers; the error is re-emitted as a fault
// envelope by the supervising dispatch loop.
type Handler func(ev Envelope) error

// Subscription is the opaque handle returned by Subscribe. Passing it to
// Unsubscribe removes exactly the one registration it stands for.
type Subscription struct {
	token uint64
}

type subscriber struct {
	token   uint64
	handler Handler
}

// entryRef locates a subscriber inside its list for O(1) removal.
type entryRef struct {
	ls *list.List
	el *list.Element
}

// Bus is a synchronous publish/subscribe dispatcher. It exposes a typed
// channel keyed by event type and a broadcast stream that observes every
// envelope. Safe for concurrent use; handlers may publish, subscribe and
// unsubscribe re-entrantly.
type Bus struct {
	mu        sync.Mutex
	nextToken uint64
	typed     map[EventType]*list.List
	broadcast *list.List
	entries   map[uint64]entryRef
	logger    *slog.Logger
}

// Option configures the Bus.
type Option func(*Bus)

// WithLogger configures a logger for supervised dispatch faults.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		typed:     make(map[EventType]*list.List),
		broadcast: list.New(),
		entries:   make(map[uint64]entryRef),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one event type and returns its token.
func (b *Bus) Subscribe(t EventType, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ls, ok := b.typed[t]
	if !ok {
		ls = list.New()
		b.typed[t] = ls
	}
	return b.register(ls, h)
}

// SubscribeAll registers a handler on the broadcast stream. It observes
// every envelope regardless of type.
func (b *Bus) SubscribeAll(h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.register(b.broadcast, h)
}

// register must be called with b.mu held.
func (b *Bus) register(ls *list.List, h Handler) *Subscription {
	b.nextToken++
	token := b.nextToken
	el := ls.PushBack(&subscriber{token: token, handler: h})
	b.entries[token] = entryRef{ls: ls, el: el}
	return &Subscription{token: token}
}

// Unsubscribe removes the registration behind sub. Unknown or already
// removed subscriptions are a no-op, so Unsubscribe is idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ref, ok := b.entries[sub.token]
	if !ok {
		return
	}
	ref.ls.Remove(ref.el)
	delete(b.entries, sub.token)
}

// Publish delivers ev to every matching typed subscriber and every
// broadcast subscriber, synchronously, in registration order. It returns
// once all handlers have run. Handler errors and panics are captured and
// re-emitted as HandlerFault envelopes; they never reach the publisher.
func (b *Bus) Publish(ev Envelope) {
	for _, sub := range b.snapshot(ev.Type) {
		if err := b.dispatch(sub, ev); err != nil {
			b.fault(sub.token, ev, err)
		}
	}
}

// snapshot collects the delivery list under the lock so handlers can
// mutate subscriptions without invalidating an in-flight publish.
func (b *Bus) snapshot(t EventType) []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	var subs []*subscriber
	if ls, ok := b.typed[t]; ok {
		for el := ls.Front(); el != nil; el = el.Next() {
			subs = append(subs, el.Value.(*subscriber))
		}
	}
	for el := b.broadcast.Front(); el != nil; el = el.Next() {
		subs = append(subs, el.Value.(*subscriber))
	}
	// Interleave typed and broadcast registrations by age.
	sortByToken(subs)
	return subs
}

func sortByToken(subs []*subscriber) {
	// Insertion sort; subscriber counts are small and mostly ordered.
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j-1].token > subs[j].token; j-- {
			subs[j-1], subs[j] = subs[j], subs[j-1]
		}
	}
}

func (b *Bus) dispatch(sub *subscriber, ev Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(ev)
}

// fault reports a handler failure. Faults raised while delivering a fault
// envelope are only logged, so a broken fault subscriber cannot recurse.
func (b *Bus) fault(token uint64, ev Envelope, err error) {
	b.logger.Error("event handler fault",
		"event_type", string(ev.Type),
		"source_id", ev.SourceID,
		"err", err,
	)
	if ev.Type == HandlerFault {
		return
	}
	b.Publish(New(ev.SourceID, HandlerFault, map[string]any{
		KeyEventType: string(ev.Type),
		KeyReason:    err.Error(),
	}))
}

// Next returns a channel that receives the first envelope matching pred,
// then closes its subscription. The channel is buffered so the publishing
// goroutine never blocks on a slow waiter.
func (b *Bus) Next(pred func(Envelope) bool) <-chan Envelope {
	ch := make(chan Envelope, 1)
	var once sync.Once

	// The handle must be complete before the handler can observe it, so
	// register manually instead of going through SubscribeAll.
	b.mu.Lock()
	b.nextToken++
	sub := &Subscription{token: b.nextToken}
	el := b.broadcast.PushBack(&subscriber{
		token: sub.token,
		handler: func(ev Envelope) error {
			if !pred(ev) {
				return nil
			}
			once.Do(func() {
				ch <- ev
				b.Unsubscribe(sub)
			})
			return nil
		},
	})
	b.entries[sub.token] = entryRef{ls: b.broadcast, el: el}
	b.mu.Unlock()
	return ch
}
