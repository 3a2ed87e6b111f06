package orchestrator

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/registry"
	"github.com/colloquyhq/colloquy/pkg/workflow"
)

// handDownIntent is a wait=true hand-down observed on the domain bus. The
// switch itself happens once the caller has parked in Waiting, so the
// caller is never suspended mid-pump.
type handDownIntent struct {
	caller string
	sub    string
}

// Orchestrator is the top-level driver of one conversation session.
type Orchestrator struct {
	logger    *slog.Logger
	registry  *registry.Registry
	domainBus *events.Bus
	greeting  string

	mu       sync.Mutex
	active   *workflow.Topic
	forward  *events.Subscription
	stack    *callStack
	pending  *pendingMap
	intent   *handDownIntent
	deferred string
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithGreetingTopic names the topic StartConversation activates.
func WithGreetingTopic(name string) Option {
	return func(o *Orchestrator) { o.greeting = name }
}

// New creates an orchestrator over a topic registry with a fresh domain
// bus and installs its event handlers.
func New(reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		registry: reg,
		stack:    &callStack{},
		pending:  newPendingMap(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.domainBus = events.NewBus(events.WithLogger(o.logger))

	o.domainBus.Subscribe(events.HandDownRequested, o.onHandDownRequested)
	o.domainBus.Subscribe(events.TopicStateChanged, o.onTopicStateChanged)
	o.domainBus.Subscribe(events.TopicCompleted, o.onTopicCompleted)
	o.domainBus.Subscribe(events.TopicFailed, o.onTopicFailed)
	return o
}

// Bus returns the session's domain bus. Hosts subscribe here for
// message-ready, card-ready and lifecycle envelopes.
func (o *Orchestrator) Bus() *events.Bus { return o.domainBus }

// ActiveTopic returns the currently active topic, or nil.
func (o *Orchestrator) ActiveTopic() *workflow.Topic {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// StackDepth returns the number of suspended callers.
func (o *Orchestrator) StackDepth() int { return o.stack.depth() }

// StartConversation activates the configured greeting topic. Without one,
// or with a conversation already underway, it is a logged no-op.
func (o *Orchestrator) StartConversation() {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if o.greeting == "" || active != nil {
		o.logger.Debug("start conversation ignored", "greeting", o.greeting, "active", active != nil)
		return
	}
	t, err := o.registry.Get(o.greeting)
	if err != nil {
		o.logger.Error("greeting topic not registered", "topic", o.greeting, "err", err)
		return
	}
	o.activate(t, nil)
}

// ProcessMessage routes raw text. With no active topic it asks the
// registry for the best-scoring topic and activates it; a waiting topic
// receives the text as external input; a running topic makes the message
// a logged no-op. No value is returned: outcomes surface on the bus.
func (o *Orchestrator) ProcessMessage(text string) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active != nil {
		if active.State() == domain.TopicWaiting {
			o.resume(active, &domain.ResumeInput{Data: map[string]any{events.KeyText: text}})
			return
		}
		o.logger.Debug("message ignored, topic busy", "topic", active.Name(), "state", active.State().String())
		return
	}

	t, score, err := o.registry.FindBestTopic(text)
	if err != nil {
		o.logger.Info("no topic matched", "text", text)
		o.domainBus.Publish(events.New("orchestrator", events.RoutingNoMatch, map[string]any{
			events.KeyText: text,
		}))
		return
	}
	o.logger.Info("routing message", "topic", t.Name(), "score", score)
	o.activate(t, &domain.ResumeInput{Data: map[string]any{events.KeyText: text}})
}

// HandleExternalInput delivers out-of-band input (a form submission) to
// the active topic if it is waiting for one.
func (o *Orchestrator) HandleExternalInput(data map[string]any) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active == nil || active.State() != domain.TopicWaiting {
		o.logger.Debug("external input ignored, no waiting topic")
		return
	}
	o.resume(active, &domain.ResumeInput{Data: data})
}

// ResetConversation clears the call stack, the pending map and every
// registered topic, returning the session to its pristine state.
func (o *Orchestrator) ResetConversation() {
	o.mu.Lock()
	forward := o.forward
	o.active = nil
	o.forward = nil
	o.intent = nil
	o.deferred = ""
	o.mu.Unlock()

	o.domainBus.Unsubscribe(forward)
	o.stack.clear()
	o.pending.clear()
	o.registry.ResetAll()
	o.logger.Info("conversation reset")
}

// activate makes t the single active topic. The previous forwarding
// subscription is always removed before the new one is installed.
func (o *Orchestrator) activate(t *workflow.Topic, input *domain.ResumeInput) {
	if o.guardCycle(t.Name()) {
		return
	}

	o.mu.Lock()
	prev := o.forward
	o.mu.Unlock()
	o.domainBus.Unsubscribe(prev)

	if t.State().Terminal() {
		// Topics are instantiated once per registration; a rerun within
		// the same session starts from a clean queue.
		t.Reset()
	}

	sub := t.Forward(o.domainBus)
	o.mu.Lock()
	o.active = t
	o.forward = sub
	o.mu.Unlock()

	if err := t.Start(input); err != nil {
		o.logger.Error("topic failed to start", "topic", t.Name(), "err", err)
	}
}

// guardCycle rejects activation of a topic already in the call chain.
func (o *Orchestrator) guardCycle(name string) bool {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active != nil && active.Name() == name {
		o.logger.Warn("activation ignored, topic already active", "topic", name)
		return true
	}
	if o.stack.contains(name) {
		o.logger.Warn("activation ignored, topic suspended on call stack", "topic", name)
		return true
	}
	return false
}

// resume restarts a waiting topic. Resumption faults are logged and
// swallowed; the session stays in its last-known state.
func (o *Orchestrator) resume(t *workflow.Topic, input *domain.ResumeInput) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("resumption fault", "topic", t.Name(), "panic", r)
		}
	}()
	if err := t.Resume(input); err != nil {
		o.logger.Error("resumption fault", "topic", t.Name(), "err", err)
	}
}

// onHandDownRequested records what a trigger activity asked for. Waited
// hand-downs switch only after the caller parks; non-waited ones defer
// activation until the caller completes.
func (o *Orchestrator) onHandDownRequested(ev events.Envelope) error {
	sub := ev.GetString(events.KeySubTopic)
	if sub == "" {
		o.logger.Warn("hand-down request without sub-topic", "topic", ev.Topic)
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.GetBool(events.KeyWait) {
		o.intent = &handDownIntent{caller: ev.Topic, sub: sub}
	} else {
		o.deferred = sub
	}
	return nil
}

// onTopicStateChanged completes the first half of the hand-down protocol:
// once the calling topic reaches Waiting, control is handed to the
// sub-topic.
func (o *Orchestrator) onTopicStateChanged(ev events.Envelope) error {
	if domain.TopicState(ev.GetString(events.KeyNext)) != domain.TopicWaiting {
		return nil
	}

	o.mu.Lock()
	intent := o.intent
	if intent == nil || intent.caller != ev.Topic {
		o.mu.Unlock()
		return nil
	}
	o.intent = nil
	caller := o.active
	o.mu.Unlock()

	if caller == nil || caller.Name() != intent.caller {
		o.logger.Warn("hand-down caller is not active", "caller", intent.caller)
		return nil
	}
	o.handDown(caller, intent.sub)
	return nil
}

// handDown suspends caller and runs the named sub-topic: push the caller
// onto the pause stack, register the pending record, swap the forwarding
// subscriptions and start the sub-topic.
func (o *Orchestrator) handDown(caller *workflow.Topic, subName string) {
	if o.guardCycle(subName) {
		return
	}
	sub, err := o.registry.Get(subName)
	if err != nil {
		o.logger.Error("hand-down to unknown topic", "sub_topic", subName, "err", err)
		// Unblock the caller; the trigger completes with no data.
		o.resume(caller, &domain.ResumeInput{Sentinel: domain.SubTopicCompleted, Data: map[string]any{}})
		return
	}

	o.stack.push(frame{
		topic: caller,
		info: domain.TopicCallInfo{
			CallingTopicName: caller.Name(),
			SubTopicName:     subName,
			ResumeData:       map[string]any{},
		},
	})
	o.pending.add(PendingSubTopic{
		CallingTopic:     caller,
		SubTopic:         sub,
		CallingTopicName: caller.Name(),
		SubTopicName:     subName,
		StartTime:        time.Now(),
	})

	o.logger.Info("handing control down", "caller", caller.Name(), "sub_topic", subName)

	o.mu.Lock()
	prev := o.forward
	o.mu.Unlock()
	o.domainBus.Unsubscribe(prev)

	if sub.State().Terminal() {
		sub.Reset()
	}
	fw := sub.Forward(o.domainBus)
	o.mu.Lock()
	o.active = sub
	o.forward = fw
	o.mu.Unlock()

	if err := sub.Start(nil); err != nil {
		o.logger.Error("sub-topic failed to start", "sub_topic", subName, "err", err)
	}
}

// onTopicCompleted is the single completion handler. A completed pending
// sub-topic resumes its caller with merged state; an ordinary completion
// either activates a deferred hand-off or idles the session.
func (o *Orchestrator) onTopicCompleted(ev events.Envelope) error {
	if rec, ok := o.pending.remove(ev.Topic); ok {
		o.regainControl(rec)
		return nil
	}

	o.mu.Lock()
	if o.active == nil || o.active.Name() != ev.Topic {
		o.mu.Unlock()
		return nil
	}
	deferred := o.deferred
	o.deferred = ""
	forward := o.forward
	o.active = nil
	o.forward = nil
	o.mu.Unlock()
	o.domainBus.Unsubscribe(forward)

	if deferred != "" {
		t, err := o.registry.Get(deferred)
		if err != nil {
			o.logger.Error("deferred hand-off to unknown topic", "topic", deferred, "err", err)
			return nil
		}
		o.logger.Info("deferred hand-off", "topic", deferred)
		o.activate(t, nil)
	}
	return nil
}

// regainControl is the second half of the hand-down protocol: snapshot the
// sub-topic's context, merge the call-stack resume data, re-hook the
// caller and resume it with the completion sentinel.
func (o *Orchestrator) regainControl(rec PendingSubTopic) {
	completion := rec.SubTopic.Context().Snapshot()

	f, ok := o.stack.pop()
	if !ok || f.topic != rec.CallingTopic {
		o.logger.Error("call stack out of step with pending map",
			"caller", rec.CallingTopicName, "sub_topic", rec.SubTopicName)
		return
	}
	for k, v := range f.info.ResumeData {
		completion[k] = v
	}

	o.mu.Lock()
	prev := o.forward
	o.mu.Unlock()
	o.domainBus.Unsubscribe(prev)

	fw := rec.CallingTopic.Forward(o.domainBus)
	o.mu.Lock()
	o.active = rec.CallingTopic
	o.forward = fw
	o.mu.Unlock()

	o.logger.Info("regaining control",
		"caller", rec.CallingTopicName,
		"sub_topic", rec.SubTopicName,
		"duration", time.Since(rec.StartTime),
	)
	o.resume(rec.CallingTopic, &domain.ResumeInput{
		Sentinel: domain.SubTopicCompleted,
		Data:     completion,
	})
}

// onTopicFailed drops the pending record of a failed sub-topic. The
// caller stays suspended; there is no automatic recovery.
func (o *Orchestrator) onTopicFailed(ev events.Envelope) error {
	if rec, ok := o.pending.remove(ev.Topic); ok {
		o.logger.Error("sub-topic failed, caller remains suspended",
			"caller", rec.CallingTopicName, "sub_topic", rec.SubTopicName)
	}
	return nil
}
