package workflow

import (
	"context"
	"log/slog"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
)

// NewTask wraps an arbitrary work func as a plain task activity.
func NewTask(work WorkFunc) Factory {
	return func(id string, bus *events.Bus, logger *slog.Logger) *Activity {
		return NewActivity(id, bus, logger, work)
	}
}

// NewMessage builds an activity that emits a message-ready envelope with
// the given text and completes.
func NewMessage(text string) Factory {
	return NewTask(func(ctx context.Context, a *Activity, req *ExecutionRequest) error {
		a.Publish(events.MessageReady, map[string]any{
			events.KeyText: text,
		})
		return nil
	})
}

// NewDecision builds a conditional-branch activity: decide runs over a
// snapshot of the workflow context and its result is written back under
// key. A typical use is choosing the name of the next topic.
func NewDecision(key string, decide func(snapshot map[string]any) any) Factory {
	return NewTask(func(ctx context.Context, a *Activity, req *ExecutionRequest) error {
		req.Context.Set(key, decide(req.Context.Snapshot()))
		return nil
	})
}

// NewGroup builds a composite activity that runs the given work funcs in
// order as a single unit. The first error aborts the group.
func NewGroup(steps ...WorkFunc) Factory {
	return NewTask(func(ctx context.Context, a *Activity, req *ExecutionRequest) error {
		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := step(ctx, a, req); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewCard builds an input-collecting activity. Without input it publishes
// the opaque card payload and parks awaiting a submission; once input
// arrives the submitted fields are written into the workflow context and
// the activity completes. The card content is never inspected.
func NewCard(card domain.CardPayload) Factory {
	return NewTask(func(ctx context.Context, a *Activity, req *ExecutionRequest) error {
		if req.Input == nil || len(req.Input.Data) == 0 {
			a.Publish(events.CardReady, map[string]any{
				events.KeyCard: card,
			})
			return ErrAwaitingInput
		}
		req.Context.Merge(req.Input.Data)
		return nil
	})
}

// NewCardPrefilled is a card whose document is completed from the live
// workflow context before publication: each prefill key present in the
// context is copied into the document. The stored card is not mutated.
func NewCardPrefilled(card domain.CardPayload, prefill []string) Factory {
	return NewTask(func(ctx context.Context, a *Activity, req *ExecutionRequest) error {
		if req.Input == nil || len(req.Input.Data) == 0 {
			doc := make(map[string]any, len(card.Document)+len(prefill))
			for k, v := range card.Document {
				doc[k] = v
			}
			for _, key := range prefill {
				if v, ok := req.Context.Get(key); ok {
					doc[key] = v
				}
			}
			a.Publish(events.CardReady, map[string]any{
				events.KeyCard: domain.CardPayload{
					ID:         card.ID,
					RenderMode: card.RenderMode,
					Document:   doc,
				},
			})
			return ErrAwaitingInput
		}
		req.Context.Merge(req.Input.Data)
		return nil
	})
}

// NewTrigger builds a sub-topic hand-off activity. With wait semantics it
// publishes the hand-down request and parks; when the topic is resumed
// with the sub-topic-completed sentinel it merges the completion data into
// the workflow context and completes. Without wait it publishes the
// request and completes immediately.
func NewTrigger(subTopic string, wait bool) Factory {
	return NewTriggerFunc(func(*Context) string { return subTopic }, wait)
}

// NewTriggerFromContext is a trigger whose target topic name is read from
// the workflow context at execution time.
func NewTriggerFromContext(key string, wait bool) Factory {
	return NewTriggerFunc(func(c *Context) string { return c.GetString(key) }, wait)
}

// NewTriggerFunc is the general trigger form; target resolves the
// sub-topic name against the live context.
func NewTriggerFunc(target func(*Context) string, wait bool) Factory {
	return NewTask(func(ctx context.Context, a *Activity, req *ExecutionRequest) error {
		if wait && req.Input != nil && req.Input.Sentinel == domain.SubTopicCompleted {
			// Regaining control: bridge the sub-topic's completion data
			// into the caller's context.
			req.Context.Merge(req.Input.Data)
			return nil
		}
		a.Publish(events.HandDownRequested, map[string]any{
			events.KeySubTopic: target(req.Context),
			events.KeyWait:     wait,
		})
		if wait {
			return ErrAwaitingInput
		}
		return nil
	})
}

// NewDone builds the completion marker: a terminal no-op that completes
// immediately.
func NewDone() Factory {
	return NewTask(func(ctx context.Context, a *Activity, req *ExecutionRequest) error {
		return nil
	})
}
