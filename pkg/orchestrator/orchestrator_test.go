package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/orchestrator"
	"github.com/colloquyhq/colloquy/pkg/registry"
	"github.com/colloquyhq/colloquy/pkg/workflow"
)

type collector struct {
	mu   sync.Mutex
	seen []events.Envelope
}

func collect(bus *events.Bus) *collector {
	c := &collector{}
	bus.SubscribeAll(func(ev events.Envelope) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.seen = append(c.seen, ev)
		return nil
	})
	return c
}

func (c *collector) ofType(t events.EventType) []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Envelope
	for _, ev := range c.seen {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func awaitEnvelope(t *testing.T, ch <-chan events.Envelope) events.Envelope {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return events.Envelope{}
	}
}

func topicCompleted(bus *events.Bus, name string) <-chan events.Envelope {
	return bus.Next(func(ev events.Envelope) bool {
		return ev.Type == events.TopicCompleted && ev.Topic == name
	})
}

func topicWaiting(bus *events.Bus, name string) <-chan events.Envelope {
	return bus.Next(func(ev events.Envelope) bool {
		return ev.Type == events.TopicStateChanged && ev.Topic == name &&
			ev.GetString(events.KeyNext) == domain.TopicWaiting.String()
	})
}

func setKey(key string, value any) workflow.Factory {
	return workflow.NewTask(func(ctx context.Context, a *workflow.Activity, req *workflow.ExecutionRequest) error {
		req.Context.Set(key, value)
		return nil
	})
}

func TestOrchestrator_StartConversation(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("greeting", workflow.WithQueue(
		workflow.Descriptor{ID: "hello", New: workflow.NewMessage("Hello!")},
	))))
	o := orchestrator.New(reg, orchestrator.WithGreetingTopic("greeting"))
	got := collect(o.Bus())
	done := topicCompleted(o.Bus(), "greeting")

	o.StartConversation()
	awaitEnvelope(t, done)

	messages := got.ofType(events.MessageReady)
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello!", messages[0].GetString(events.KeyText))
	assert.Equal(t, "greeting", messages[0].Topic)
	// The session idles once the greeting completes.
	assert.Nil(t, o.ActiveTopic())
}

func TestOrchestrator_StartConversationWithoutGreeting(t *testing.T) {
	o := orchestrator.New(registry.NewRegistry())
	o.StartConversation()
	assert.Nil(t, o.ActiveTopic())
}

func TestOrchestrator_ProcessMessageRoutes(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("billing",
		workflow.WithConfidence(workflow.KeywordConfidence("invoice")),
		workflow.WithQueue(workflow.Descriptor{ID: "m", New: workflow.NewMessage("Billing here.")}),
	)))
	require.NoError(t, reg.Register(workflow.NewTopic("shipping",
		workflow.WithConfidence(workflow.KeywordConfidence("parcel")),
		workflow.WithQueue(workflow.Descriptor{ID: "m", New: workflow.NewMessage("Shipping here.")}),
	)))
	o := orchestrator.New(reg)
	got := collect(o.Bus())
	done := topicCompleted(o.Bus(), "billing")

	o.ProcessMessage("where is my invoice")
	awaitEnvelope(t, done)

	messages := got.ofType(events.MessageReady)
	require.Len(t, messages, 1)
	assert.Equal(t, "Billing here.", messages[0].GetString(events.KeyText))
}

func TestOrchestrator_ProcessMessageNoMatch(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("billing",
		workflow.WithConfidence(workflow.KeywordConfidence("invoice")),
	)))
	o := orchestrator.New(reg)
	got := collect(o.Bus())

	o.ProcessMessage("completely unrelated")

	misses := got.ofType(events.RoutingNoMatch)
	require.Len(t, misses, 1)
	assert.Equal(t, "completely unrelated", misses[0].GetString(events.KeyText))
	assert.Nil(t, o.ActiveTopic())
}

func TestOrchestrator_MessageIgnoredWhileRunning(t *testing.T) {
	release := make(chan struct{})
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("slow",
		workflow.WithConfidence(workflow.KeywordConfidence("slow")),
		workflow.WithQueue(workflow.Descriptor{ID: "block", New: workflow.NewTask(
			func(ctx context.Context, a *workflow.Activity, req *workflow.ExecutionRequest) error {
				<-release
				return nil
			})}),
	)))
	require.NoError(t, reg.Register(workflow.NewTopic("other",
		workflow.WithConfidence(workflow.KeywordConfidence("other")),
	)))
	o := orchestrator.New(reg)
	got := collect(o.Bus())
	done := topicCompleted(o.Bus(), "slow")

	o.ProcessMessage("slow please")
	// The active topic is busy; a second message must not activate another
	// topic or produce a routing miss.
	o.ProcessMessage("other please")

	close(release)
	awaitEnvelope(t, done)

	assert.Empty(t, got.ofType(events.RoutingNoMatch))
	starts := got.ofType(events.TopicStarted)
	require.Len(t, starts, 1)
	assert.Equal(t, "slow", starts[0].Topic)
}

func TestOrchestrator_ExternalInputResumesWaitingCard(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("signup",
		workflow.WithConfidence(workflow.KeywordConfidence("signup")),
		workflow.WithQueue(
			workflow.Descriptor{ID: "form", New: workflow.NewCard(domain.CardPayload{ID: "profile"})},
			workflow.Descriptor{ID: "thanks", New: workflow.NewMessage("Thanks!")},
		),
	)))
	o := orchestrator.New(reg)
	got := collect(o.Bus())
	waiting := topicWaiting(o.Bus(), "signup")

	o.ProcessMessage("signup")
	awaitEnvelope(t, waiting)

	require.Len(t, got.ofType(events.CardReady), 1)
	active := o.ActiveTopic()
	require.NotNil(t, active)
	assert.Equal(t, domain.TopicWaiting, active.State())

	done := topicCompleted(o.Bus(), "signup")
	o.HandleExternalInput(map[string]any{"name": "Ada"})
	awaitEnvelope(t, done)

	assert.Equal(t, "Ada", active.Context().GetString("name"))
	require.Len(t, got.ofType(events.MessageReady), 1)
}

func TestOrchestrator_ExternalInputWithoutWaitingTopicIsIgnored(t *testing.T) {
	o := orchestrator.New(registry.NewRegistry())
	assert.NotPanics(t, func() {
		o.HandleExternalInput(map[string]any{"name": "Ada"})
	})
}

func TestOrchestrator_HandDownRoundTrip(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("caller", workflow.WithQueue(
		workflow.Descriptor{ID: "delegate", New: workflow.NewTrigger("compute", true)},
		workflow.Descriptor{ID: "report", New: workflow.NewMessage("done")},
	))))
	require.NoError(t, reg.Register(workflow.NewTopic("compute", workflow.WithQueue(
		workflow.Descriptor{ID: "answer", New: setKey("x", 42)},
	))))
	o := orchestrator.New(reg, orchestrator.WithGreetingTopic("caller"))
	got := collect(o.Bus())
	done := topicCompleted(o.Bus(), "caller")

	o.StartConversation()
	awaitEnvelope(t, done)

	// The sub-topic's result crossed back into the caller's context.
	caller, err := reg.Get("caller")
	require.NoError(t, err)
	v, ok := caller.Context().Get("x")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	assert.Zero(t, o.StackDepth())
	require.Len(t, got.ofType(events.MessageReady), 1)

	// The sub-topic ran to completion while the caller was parked.
	subCompletions := got.ofType(events.TopicCompleted)
	require.Len(t, subCompletions, 2)
	assert.Equal(t, "compute", subCompletions[0].Topic)
	assert.Equal(t, "caller", subCompletions[1].Topic)
}

func TestOrchestrator_NestedHandDown(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("outer", workflow.WithQueue(
		workflow.Descriptor{ID: "call", New: workflow.NewTrigger("middle", true)},
	))))
	require.NoError(t, reg.Register(workflow.NewTopic("middle", workflow.WithQueue(
		workflow.Descriptor{ID: "call", New: workflow.NewTrigger("inner", true)},
		workflow.Descriptor{ID: "tag", New: setKey("middle_done", true)},
	))))
	require.NoError(t, reg.Register(workflow.NewTopic("inner", workflow.WithQueue(
		workflow.Descriptor{ID: "answer", New: setKey("depth", 3)},
	))))
	o := orchestrator.New(reg, orchestrator.WithGreetingTopic("outer"))
	done := topicCompleted(o.Bus(), "outer")

	o.StartConversation()
	awaitEnvelope(t, done)

	outer, err := reg.Get("outer")
	require.NoError(t, err)
	v, ok := outer.Context().Get("depth")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	mid, ok := outer.Context().Get("middle_done")
	require.True(t, ok)
	assert.Equal(t, true, mid)
	assert.Zero(t, o.StackDepth())
}

func TestOrchestrator_CycleIsRejected(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("a", workflow.WithQueue(
		workflow.Descriptor{ID: "call", New: workflow.NewTrigger("b", true)},
	))))
	require.NoError(t, reg.Register(workflow.NewTopic("b", workflow.WithQueue(
		workflow.Descriptor{ID: "call", New: workflow.NewTrigger("a", true)},
		workflow.Descriptor{ID: "never", New: workflow.NewMessage("unreachable")},
	))))
	o := orchestrator.New(reg, orchestrator.WithGreetingTopic("a"))
	got := collect(o.Bus())
	bWaiting := topicWaiting(o.Bus(), "b")

	o.StartConversation()
	awaitEnvelope(t, bWaiting)

	// b asked for a, which is suspended on the stack; the request is
	// refused and b stays parked.
	active := o.ActiveTopic()
	require.NotNil(t, active)
	assert.Equal(t, "b", active.Name())
	assert.Equal(t, domain.TopicWaiting, active.State())
	assert.Equal(t, 1, o.StackDepth())
	assert.Empty(t, got.ofType(events.MessageReady))
}

func TestOrchestrator_HandDownToUnknownTopicUnblocksCaller(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("caller", workflow.WithQueue(
		workflow.Descriptor{ID: "call", New: workflow.NewTrigger("ghost", true)},
		workflow.Descriptor{ID: "report", New: workflow.NewMessage("moving on")},
	))))
	o := orchestrator.New(reg, orchestrator.WithGreetingTopic("caller"))
	got := collect(o.Bus())
	done := topicCompleted(o.Bus(), "caller")

	o.StartConversation()
	awaitEnvelope(t, done)

	require.Len(t, got.ofType(events.MessageReady), 1)
	assert.Zero(t, o.StackDepth())
}

func TestOrchestrator_DeferredHandOff(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("first", workflow.WithQueue(
		workflow.Descriptor{ID: "jump", New: workflow.NewTrigger("second", false)},
		workflow.Descriptor{ID: "bye", New: workflow.NewMessage("bye from first")},
	))))
	require.NoError(t, reg.Register(workflow.NewTopic("second", workflow.WithQueue(
		workflow.Descriptor{ID: "hi", New: workflow.NewMessage("hi from second")},
	))))
	o := orchestrator.New(reg, orchestrator.WithGreetingTopic("first"))
	got := collect(o.Bus())
	done := topicCompleted(o.Bus(), "second")

	o.StartConversation()
	awaitEnvelope(t, done)

	// The first topic finishes its own queue before the hand-off happens.
	messages := got.ofType(events.MessageReady)
	require.Len(t, messages, 2)
	assert.Equal(t, "bye from first", messages[0].GetString(events.KeyText))
	assert.Equal(t, "hi from second", messages[1].GetString(events.KeyText))

	completions := got.ofType(events.TopicCompleted)
	require.Len(t, completions, 2)
	assert.Equal(t, "first", completions[0].Topic)
	assert.Equal(t, "second", completions[1].Topic)
	assert.Zero(t, o.StackDepth())
}

func TestOrchestrator_SubTopicFailureLeavesCallerSuspended(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("caller", workflow.WithQueue(
		workflow.Descriptor{ID: "call", New: workflow.NewTrigger("broken", true)},
	))))
	require.NoError(t, reg.Register(workflow.NewTopic("broken", workflow.WithQueue(
		workflow.Descriptor{ID: "bad", New: workflow.NewTask(
			func(ctx context.Context, a *workflow.Activity, req *workflow.ExecutionRequest) error {
				return context.DeadlineExceeded
			})}),
	)))
	o := orchestrator.New(reg, orchestrator.WithGreetingTopic("caller"))
	failed := o.Bus().Next(func(ev events.Envelope) bool {
		return ev.Type == events.TopicFailed && ev.Topic == "broken"
	})

	o.StartConversation()
	awaitEnvelope(t, failed)

	caller, err := reg.Get("caller")
	require.NoError(t, err)
	assert.Equal(t, domain.TopicWaiting, caller.State())
	assert.Equal(t, 1, o.StackDepth())
}

func TestOrchestrator_ResetConversation(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("signup",
		workflow.WithConfidence(workflow.KeywordConfidence("signup")),
		workflow.WithQueue(
			workflow.Descriptor{ID: "form", New: workflow.NewCard(domain.CardPayload{ID: "profile"})},
		),
	)))
	o := orchestrator.New(reg)
	waiting := topicWaiting(o.Bus(), "signup")

	o.ProcessMessage("signup")
	awaitEnvelope(t, waiting)

	o.ResetConversation()

	assert.Nil(t, o.ActiveTopic())
	assert.Zero(t, o.StackDepth())
	topic, err := reg.Get("signup")
	require.NoError(t, err)
	assert.Equal(t, domain.TopicIdle, topic.State())
	assert.Zero(t, topic.Context().Len())

	// The session routes again after a reset.
	waiting = topicWaiting(o.Bus(), "signup")
	o.ProcessMessage("signup")
	awaitEnvelope(t, waiting)
	assert.NotNil(t, o.ActiveTopic())
}

func TestOrchestrator_RerunCompletedTopic(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(workflow.NewTopic("echo",
		workflow.WithConfidence(workflow.KeywordConfidence("echo")),
		workflow.WithQueue(workflow.Descriptor{ID: "m", New: workflow.NewMessage("echo!")}),
	)))
	o := orchestrator.New(reg)
	got := collect(o.Bus())

	done := topicCompleted(o.Bus(), "echo")
	o.ProcessMessage("echo")
	awaitEnvelope(t, done)

	// Routing to a completed topic resets and reruns it.
	done = topicCompleted(o.Bus(), "echo")
	o.ProcessMessage("echo")
	awaitEnvelope(t, done)

	assert.Len(t, got.ofType(events.MessageReady), 2)
}
