package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/fsm"
)

// ErrAwaitingInput is returned by a WorkFunc to park the activity until
// external input arrives. The activity publishes an activity-waiting
// signal instead of a terminal outcome and returns to Idle so the same
// descriptor can be re-requested with the input.
var ErrAwaitingInput = errors.New("awaiting external input")

// WorkFunc is the core work step of an activity. Implementations observe
// ctx for cooperative cancellation and move state through req.Context, not
// through return values.
type WorkFunc func(ctx context.Context, a *Activity, req *ExecutionRequest) error

// Factory builds an activity instance for a queue position. The contract
// is deliberately narrow: id, bus and logger are all the core provides.
type Factory func(id string, bus *events.Bus, logger *slog.Logger) *Activity

// Activity is the atomic FSM-driven unit of conversational work. It
// self-subscribes to its topic's internal bus at construction and starts
// only on an execution-requested envelope whose target id matches its own
// while it is Idle; duplicate or foreign requests are silently ignored.
type Activity struct {
	id      string
	bus     *events.Bus
	logger  *slog.Logger
	machine *fsm.Machine[domain.ActivityState]
	work    WorkFunc
	sub     *events.Subscription

	mu       sync.Mutex
	cancel   context.CancelFunc
	termOnce sync.Once
}

var activityTransitions = map[domain.ActivityState][]domain.ActivityState{
	domain.ActivityIdle:    {domain.ActivityRunning},
	domain.ActivityRunning: {domain.ActivityCompleted, domain.ActivityFailed, domain.ActivityTimedOut},
}

// NewActivity creates an activity around a work func and subscribes it to
// the bus. A nil logger is replaced with a no-op logger.
func NewActivity(id string, bus *events.Bus, logger *slog.Logger, work WorkFunc) *Activity {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Activity{
		id:      id,
		bus:     bus,
		logger:  logger,
		machine: fsm.New(domain.ActivityIdle, activityTransitions),
		work:    work,
	}
	a.machine.OnTransition(func(from, to domain.ActivityState) {
		bus.Publish(events.New(a.id, events.ActivityStateChanged, map[string]any{
			events.KeyActivityID: a.id,
			events.KeyPrevious:   from.String(),
			events.KeyNext:       to.String(),
		}))
	})
	a.sub = bus.Subscribe(events.ExecutionRequested, a.onExecutionRequested)
	return a
}

// ID returns the activity's id, unique within a topic run.
func (a *Activity) ID() string { return a.id }

// State returns the current lifecycle state.
func (a *Activity) State() domain.ActivityState { return a.machine.Current() }

// Publish emits an envelope on the activity's bus with the activity as
// source. Used by work funcs for message-ready, card-ready and hand-down
// envelopes.
func (a *Activity) Publish(t events.EventType, payload map[string]any) {
	a.bus.Publish(events.New(a.id, t, payload))
}

func (a *Activity) onExecutionRequested(ev events.Envelope) error {
	if ev.GetString(events.KeyActivityID) != a.id {
		return nil
	}
	req, ok := ev.Payload[events.KeyRequest].(*ExecutionRequest)
	if !ok {
		a.logger.Warn("execution request without request payload", "activity_id", a.id)
		return nil
	}
	if err := a.machine.Fire(domain.ActivityRunning); err != nil {
		// Already running or finished; duplicate requests are not an error.
		a.logger.Debug("ignoring execution request", "activity_id", a.id, "state", a.State().String())
		return nil
	}

	parent := req.Ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	err := a.run(ctx, req)
	switch {
	case err == nil:
		a.machine.Fire(domain.ActivityCompleted)
		a.Publish(events.ActivityCompleted, map[string]any{
			events.KeyActivityID: a.id,
			events.KeySnapshot:   req.Context.Snapshot(),
		})
	case errors.Is(err, ErrAwaitingInput):
		// Not an outcome: the activity parks and may be re-requested with
		// the external input, so it returns to Idle.
		a.machine.ForceState(domain.ActivityIdle)
		a.Publish(events.ActivityWaiting, map[string]any{
			events.KeyActivityID: a.id,
		})
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		a.machine.Fire(domain.ActivityTimedOut)
		a.Publish(events.ActivityTimedOut, map[string]any{
			events.KeyActivityID: a.id,
			events.KeyReason:     err.Error(),
		})
	default:
		a.machine.Fire(domain.ActivityFailed)
		a.Publish(events.ActivityFailed, map[string]any{
			events.KeyActivityID: a.id,
			events.KeyReason:     err.Error(),
			events.KeyErrorKind:  errorKind(err),
		})
	}
	return nil
}

// run executes the work func, converting panics into errors so a faulty
// activity can never crash the pump.
func (a *Activity) run(ctx context.Context, req *ExecutionRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(errors.New("activity panicked"), toError(r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.work(ctx, a, req)
}

// Terminate cancels in-flight work, emits a terminated envelope and
// unsubscribes from the bus. It is idempotent.
func (a *Activity) Terminate() {
	a.termOnce.Do(func() {
		a.mu.Lock()
		if a.cancel != nil {
			a.cancel()
		}
		a.mu.Unlock()

		a.machine.ForceState(domain.ActivityTerminated)
		a.Publish(events.ActivityTerminated, map[string]any{
			events.KeyActivityID: a.id,
		})
		a.bus.Unsubscribe(a.sub)
	})
}

// Unhook removes the bus subscription without emitting any events. The
// pump uses it to drop an instance that has already reported its outcome.
func (a *Activity) Unhook() {
	a.bus.Unsubscribe(a.sub)
}

// errorKind classifies an activity fault for the failed envelope.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, domain.ErrTopicNotFound):
		return "routing"
	default:
		return "runtime"
	}
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
