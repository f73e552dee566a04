package billing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Event is a normalized vendor notification ready to be applied to the ledger.
type Event interface {
	Kind() EventKind
	Subject() Tenant
}

// OrderPaidEvent reports a completed payment.
type OrderPaidEvent struct {
	Order Order
}

func (e *OrderPaidEvent) Kind() EventKind { return EventOrderPaid }
func (e *OrderPaidEvent) Subject() Tenant { return e.Order.Tenant }

// OrderRefundEvent reports that a previously paid order was refunded.
type OrderRefundEvent struct {
	Tenant     Tenant
	OrderID    string
	RefundedAt time.Time
}

func (e *OrderRefundEvent) Kind() EventKind { return EventOrderRefunded }
func (e *OrderRefundEvent) Subject() Tenant { return e.Tenant }

// TrialGrantedEvent reports a new or replaced trial authorization.
type TrialGrantedEvent struct {
	Grant TrialGrant
}

func (e *TrialGrantedEvent) Kind() EventKind { return EventTrialGranted }
func (e *TrialGrantedEvent) Subject() Tenant { return e.Grant.Tenant }

// Classifier turns raw vendor payloads of one channel into normalized events.
// Parse returns ErrInvalidSignature when the payload is not authentic,
// ErrMalformedEvent when it cannot be decoded and ErrUnsupportedEvent for
// notifications the engine does not act upon.
type Classifier interface {
	Channel() Channel
	Parse(ctx context.Context, payload []byte, signature string) (Event, error)
}

// Registry resolves the classifier of a channel. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[Channel]Classifier
}

// NewRegistry creates a registry holding the given classifiers.
func NewRegistry(classifiers ...Classifier) *Registry {
	r := &Registry{classifiers: make(map[Channel]Classifier, len(classifiers))}
	for _, c := range classifiers {
		r.Register(c)
	}
	return r
}

// Register adds a classifier. Panics on nil classifiers and on a second
// classifier for the same channel.
func (r *Registry) Register(c Classifier) {
	if c == nil {
		panic("billing: nil classifier")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.classifiers[c.Channel()]; exists {
		panic(fmt.Sprintf("billing: classifier for channel %q already registered", c.Channel()))
	}
	r.classifiers[c.Channel()] = c
}

// Lookup returns the classifier of channel or ErrUnknownChannel.
func (r *Registry) Lookup(channel Channel) (Classifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classifiers[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return c, nil
}

// Channels lists the registered channels in lexical order.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.classifiers))
	for ch := range r.classifiers {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}
