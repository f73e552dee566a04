package billing

import (
	"context"

	"github.com/dmitrymomot/seatledger/pkg/broadcast"
)

// Publisher receives every state produced by a mutation. Publish must return quickly;
// errors are logged by the service and never undo the mutation.
type Publisher interface {
	Publish(ctx context.Context, state State) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, state State) error

func (f PublisherFunc) Publish(ctx context.Context, state State) error { return f(ctx, state) }

// StateFeed is the in-process Publisher the service always writes to.
// Subscribers that fall behind lose states; they can recover with GetSubscription.
type StateFeed struct {
	b *broadcast.Broadcaster[State]
}

// NewStateFeed creates a feed with the given per-subscriber buffer.
func NewStateFeed(buffer int) *StateFeed {
	return &StateFeed{b: broadcast.New[State](buffer)}
}

// Subscribe returns a subscription that ends with ctx.
func (f *StateFeed) Subscribe(ctx context.Context) *broadcast.Subscription[State] {
	return f.b.Subscribe(ctx)
}

func (f *StateFeed) Publish(_ context.Context, state State) error {
	f.b.Publish(state)
	return nil
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (f *StateFeed) Dropped() uint64 { return f.b.Dropped() }

// Close ends every subscription.
func (f *StateFeed) Close() error { return f.b.Close() }
