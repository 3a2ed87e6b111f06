package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/fsm"
)

var topicTransitions = map[domain.TopicState][]domain.TopicState{
	domain.TopicIdle:    {domain.TopicRunning, domain.TopicTerminated},
	domain.TopicRunning: {domain.TopicWaiting, domain.TopicCompleted, domain.TopicFailed, domain.TopicTerminated},
	domain.TopicWaiting: {domain.TopicRunning, domain.TopicFailed, domain.TopicTerminated},
}

// Topic is an FSM-driven ordered queue of activities. It owns its internal
// bus and workflow context; the pump runs activities sequentially and the
// forwarding subscription mirrors every internal envelope onto a domain
// bus re-tagged with the topic's name.
type Topic struct {
	name       string
	priority   int
	logger     *slog.Logger
	machine    *fsm.Machine[domain.TopicState]
	bus        *events.Bus
	wctx       *Context
	buildQueue QueueBuilder
	confidence ConfidenceFunc

	mu      sync.Mutex
	queue   []Descriptor
	index   int
	current *Activity
	cancel  context.CancelFunc
}

// TopicOption configures a Topic.
type TopicOption func(*Topic)

// WithPriority sets the routing tie-break priority (higher wins).
func WithPriority(p int) TopicOption {
	return func(t *Topic) { t.priority = p }
}

// WithConfidence sets the topic's confidence function.
func WithConfidence(fn ConfidenceFunc) TopicOption {
	return func(t *Topic) { t.confidence = fn }
}

// WithQueue sets a fixed descriptor queue.
func WithQueue(queue ...Descriptor) TopicOption {
	return func(t *Topic) { t.buildQueue = StaticQueue(queue) }
}

// WithQueueBuilder sets a queue builder invoked at construction and on
// every Reset, so descriptors can be derived from the live context.
func WithQueueBuilder(build QueueBuilder) TopicOption {
	return func(t *Topic) { t.buildQueue = build }
}

// WithTopicLogger sets the topic's logger.
func WithTopicLogger(logger *slog.Logger) TopicOption {
	return func(t *Topic) { t.logger = logger }
}

// NewTopic creates an idle topic with its own internal bus and context.
func NewTopic(name string, opts ...TopicOption) *Topic {
	t := &Topic{
		name:       name,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		wctx:       NewContext(),
		buildQueue: StaticQueue(nil),
		confidence: NoConfidence(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.bus = events.NewBus(events.WithLogger(t.logger))
	t.machine = fsm.New(domain.TopicIdle, topicTransitions)
	t.machine.OnTransition(func(from, to domain.TopicState) {
		t.bus.Publish(events.New(t.name, events.TopicStateChanged, map[string]any{
			events.KeyPrevious: from.String(),
			events.KeyNext:     to.String(),
		}))
	})
	t.queue = t.buildQueue(t.wctx)
	return t
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Priority returns the routing tie-break priority.
func (t *Topic) Priority() int { return t.priority }

// State returns the current lifecycle state.
func (t *Topic) State() domain.TopicState { return t.machine.Current() }

// History returns the recorded state transitions.
func (t *Topic) History() []fsm.Transition[domain.TopicState] { return t.machine.History() }

// Context returns the topic's workflow context.
func (t *Topic) Context() *Context { return t.wctx }

// Bus returns the topic's internal bus. Exposed for activities created
// outside the pump (tests, custom wiring); the orchestrator never uses it.
func (t *Topic) Bus() *events.Bus { return t.bus }

// Confidence scores the message with the topic's confidence function.
func (t *Topic) Confidence(message string) float64 { return t.confidence(message) }

// Forward subscribes the domain bus to every internal envelope, re-tagged
// with the topic's name. The returned subscription is the hook the
// orchestrator removes when the topic is paused or replaced.
func (t *Topic) Forward(domainBus *events.Bus) *events.Subscription {
	return t.bus.SubscribeAll(func(ev events.Envelope) error {
		domainBus.Publish(ev.ForTopic(t.name))
		return nil
	})
}

// Start begins the pump. Valid only from Idle; an illegal start is
// reported as a failed envelope, never thrown.
func (t *Topic) Start(input *domain.ResumeInput) error {
	if err := t.machine.Fire(domain.TopicRunning); err != nil {
		t.reportIllegal("start", err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.bus.Publish(events.New(t.name, events.TopicStarted, nil))
	go t.pump(runCtx, input)
	return nil
}

// Resume re-enters the pump with external input. Valid only from Waiting;
// resuming from any other state is reported as a failed envelope. The
// explicit check matters because Idle also allows the Running edge, and
// resuming there would be indistinguishable from Start.
func (t *Topic) Resume(input *domain.ResumeInput) error {
	if !t.machine.Is(domain.TopicWaiting) {
		err := fmt.Errorf("%w: resume from %s", domain.ErrIllegalTransition, t.machine.Current())
		t.reportIllegal("resume", err)
		return err
	}
	if err := t.machine.Fire(domain.TopicRunning); err != nil {
		t.reportIllegal("resume", err)
		return err
	}

	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel == nil {
		// Waiting implies an open run scope; guard against misuse anyway.
		runCtx, c := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = c
		t.mu.Unlock()
		go t.pump(runCtx, input)
		return nil
	}

	runCtx := t.runContext()
	go t.pump(runCtx, input)
	return nil
}

// runContext rebuilds a context tied to the current cancel func. The
// scope opened by Start stays open across Waiting, so the pump just needs
// a context that observes the same cancellation.
func (t *Topic) runContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return context.Background()
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev := t.cancel
	t.cancel = func() {
		cancel()
		prev()
	}
	return ctx
}

// pump drives the descriptor queue. It instantiates one activity at a
// time, publishes the execution request on the internal bus and awaits
// exactly one terminal signal before advancing. Any non-completed outcome
// aborts the run.
func (t *Topic) pump(ctx context.Context, input *domain.ResumeInput) {
	for {
		t.mu.Lock()
		if t.index >= len(t.queue) {
			t.mu.Unlock()
			break
		}
		desc := t.queue[t.index]
		act := desc.New(desc.ID, t.bus, t.logger)
		t.current = act
		t.mu.Unlock()

		waiter := t.bus.Next(func(ev events.Envelope) bool {
			if ev.GetString(events.KeyActivityID) != desc.ID {
				return false
			}
			switch ev.Type {
			case events.ActivityCompleted, events.ActivityFailed,
				events.ActivityTimedOut, events.ActivityTerminated,
				events.ActivityWaiting:
				return true
			}
			return false
		})

		t.bus.Publish(events.New(t.name, events.ExecutionRequested, map[string]any{
			events.KeyActivityID: desc.ID,
			events.KeyRequest: &ExecutionRequest{
				ActivityID: desc.ID,
				Input:      input,
				Context:    t.wctx,
				Ctx:        ctx,
			},
		}))

		var ev events.Envelope
		select {
		case ev = <-waiter:
		case <-ctx.Done():
			act.Terminate()
			t.fail("run cancelled")
			return
		}

		switch ev.Type {
		case events.ActivityCompleted:
			act.Unhook()
			t.mu.Lock()
			t.current = nil
			t.index++
			t.mu.Unlock()
			// State travels through the workflow context from here on.
			input = nil

		case events.ActivityWaiting:
			act.Unhook()
			t.mu.Lock()
			t.current = nil
			t.mu.Unlock()
			if err := t.machine.Fire(domain.TopicWaiting); err != nil {
				t.logger.Error("cannot park topic", "topic", t.name, "err", err)
			}
			return

		default:
			act.Unhook()
			t.mu.Lock()
			t.current = nil
			t.mu.Unlock()
			t.fail(fmt.Sprintf("activity %s ended with %s", desc.ID, ev.Type))
			return
		}
	}

	if err := t.machine.Fire(domain.TopicCompleted); err == nil {
		t.bus.Publish(events.New(t.name, events.TopicCompleted, map[string]any{
			events.KeySnapshot: t.wctx.Snapshot(),
		}))
	}
}

// fail transitions to Failed and publishes the terminal envelope. If the
// machine is already terminal (terminated during cancellation) the event
// is suppressed.
func (t *Topic) fail(reason string) {
	if err := t.machine.Fire(domain.TopicFailed); err != nil {
		t.logger.Debug("suppressing failure after terminal state", "topic", t.name, "reason", reason)
		return
	}
	t.bus.Publish(events.New(t.name, events.TopicFailed, map[string]any{
		events.KeyReason: reason,
	}))
}

// reportIllegal surfaces an illegal transition as a failed envelope
// without changing state.
func (t *Topic) reportIllegal(op string, err error) {
	t.logger.Warn("illegal topic transition", "topic", t.name, "op", op, "err", err)
	t.bus.Publish(events.New(t.name, events.TopicFailed, map[string]any{
		events.KeyReason:    fmt.Sprintf("%s: %v", op, err),
		events.KeyErrorKind: "illegal_transition",
	}))
}

// Reset force-returns the topic to Idle, clears its transition history,
// empties the workflow context and rebuilds the descriptor queue from it.
// It bypasses the transition table and is idempotent: repeat calls leave
// the same state, empty history and a freshly built queue.
func (t *Topic) Reset() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	current := t.current
	t.current = nil
	t.mu.Unlock()

	if current != nil {
		current.Terminate()
	}

	t.machine.ForceState(domain.TopicIdle)
	t.machine.ClearHistory()
	t.wctx.Clear()

	t.mu.Lock()
	t.index = 0
	t.queue = t.buildQueue(t.wctx)
	t.mu.Unlock()
}

// Terminate cancels the run scope, terminates any live activity and emits
// a terminated envelope. Idempotent.
func (t *Topic) Terminate() {
	if t.machine.Is(domain.TopicTerminated) {
		return
	}

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	current := t.current
	t.current = nil
	t.mu.Unlock()

	if current != nil {
		current.Terminate()
	}

	t.machine.ForceState(domain.TopicTerminated)
	t.bus.Publish(events.New(t.name, events.TopicTerminated, nil))
}
