package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	"github.com/dmitrymomot/seatledger/pkg/logger"
)

// StateEvent is the event name of downstream state notifications.
const StateEvent = "subscription.state_changed"

// ErrNotifyQueueFull is returned by Publish when the delivery queue is full.
var ErrNotifyQueueFull = errors.New("billing: notification queue is full")

// Sender delivers one notification. *webhook.Notifier implements it.
type Sender interface {
	Notify(ctx context.Context, event string, data any) error
}

// AsyncNotifier is a billing.Publisher that hands states to a background
// worker, so slow downstream endpoints never hold the tenant lock.
type AsyncNotifier struct {
	sender Sender
	queue  chan billing.State
	log    *slog.Logger
	onDrop func()
}

var _ billing.Publisher = (*AsyncNotifier)(nil)

// NewAsyncNotifier creates a notifier with a queue of size states.
// onDrop, when set, is called for every state dropped on a full queue.
func NewAsyncNotifier(sender Sender, size int, log *slog.Logger, onDrop func()) *AsyncNotifier {
	if sender == nil {
		panic("billing: notification sender is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &AsyncNotifier{
		sender: sender,
		queue:  make(chan billing.State, max(size, 1)),
		log:    log.With(logger.Component("notifier")),
		onDrop: onDrop,
	}
}

// Publish enqueues the state without blocking.
func (a *AsyncNotifier) Publish(_ context.Context, state billing.State) error {
	select {
	case a.queue <- state:
		return nil
	default:
		if a.onDrop != nil {
			a.onDrop()
		}
		return ErrNotifyQueueFull
	}
}

// Run delivers queued states until ctx is done. States still queued at that
// point are not delivered; subscribers can resync with the subscription API.
func (a *AsyncNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(a.queue); n > 0 {
				a.log.WarnContext(ctx, "notifications left undelivered on shutdown", slog.Int("count", n))
			}
			return nil
		case state := <-a.queue:
			if err := a.sender.Notify(ctx, StateEvent, NewStateView(state)); err != nil {
				a.log.ErrorContext(ctx, "state notification failed",
					logger.Tenant(state.Tenant.Key()),
					logger.PlanID(state.PlanID),
					logger.Error(err),
				)
			}
		}
	}
}
