package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/seatledger/pkg/broadcast"
	"github.com/dmitrymomot/seatledger/pkg/cache"
	"github.com/dmitrymomot/seatledger/pkg/logger"
)

// Service applies vendor billing events to the ledger and derives subscription states.
type Service interface {
	// Raw vendor payloads
	HandleWebhook(ctx context.Context, channel Channel, payload []byte, signature string) (State, error)
	HandlePaidEvent(ctx context.Context, channel Channel, payload []byte, signature string) (State, error)
	HandleRefundEvent(ctx context.Context, channel Channel, payload []byte, signature string) (State, error)
	HandleTrialEvent(ctx context.Context, channel Channel, payload []byte, signature string) (State, error)

	// Normalized events
	ApplyPaid(ctx context.Context, ev *OrderPaidEvent) (State, error)
	ApplyRefund(ctx context.Context, ev *OrderRefundEvent) (State, error)
	ApplyTrial(ctx context.Context, ev *TrialGrantedEvent) (State, error)

	// Queries
	GetSubscription(ctx context.Context, tenant Tenant) (State, error)
	Subscribe(ctx context.Context) *broadcast.Subscription[State]
	// FeedDropped counts states skipped for feed subscribers that fell behind.
	FeedDropped() uint64
	Channels() []Channel
}

// Observer receives handler metrics. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveEvent(kind EventKind, channel Channel, outcome string, elapsed time.Duration)
	ObserveCache(hit bool)
	ObservePublishError()
}

type noopObserver struct{}

func (noopObserver) ObserveEvent(EventKind, Channel, string, time.Duration) {}
func (noopObserver) ObserveCache(bool)                                     {}
func (noopObserver) ObservePublishError()                                  {}

const (
	defaultCacheSize  = 10_000
	defaultFeedBuffer = 64
)

type service struct {
	store        Store
	catalog      Catalog
	projector    *Projector
	registry     *Registry
	locker       Locker
	lockTimeout  time.Duration
	leaseTimeout time.Duration
	cache        *cache.LRUCache[string, cachedState]
	cacheSize    int
	group        singleflight.Group
	feed         *StateFeed
	feedBuffer   int
	publishers   []Publisher
	observer     Observer
	months       MonthsFunc
	now          Clock
	log          *slog.Logger
}

// NewService creates a Service over a catalog and a store.
// Panics if catalog or store is nil.
func NewService(catalog Catalog, store Store, opts ...ServiceOption) Service {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: Store is required")
	}

	s := &service{
		store:      store,
		catalog:    catalog,
		registry:   NewRegistry(),
		locker:     NewKeyedLocker(),
		cacheSize:  defaultCacheSize,
		feedBuffer: defaultFeedBuffer,
		observer:   noopObserver{},
		months:     MonthsFloor30,
		now:        systemClock,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.projector = NewProjector(catalog, s.months)
	s.feed = NewStateFeed(s.feedBuffer)
	if s.cacheSize > 0 {
		s.cache = cache.NewLRUCache[string, cachedState](s.cacheSize)
		s.cache.SetClock(s.now)
	}
	s.log = s.log.With(logger.Component("billing"))
	return s
}

func (s *service) Channels() []Channel {
	return s.registry.Channels()
}

func (s *service) Subscribe(ctx context.Context) *broadcast.Subscription[State] {
	return s.feed.Subscribe(ctx)
}

func (s *service) FeedDropped() uint64 {
	return s.feed.Dropped()
}

func (s *service) HandleWebhook(ctx context.Context, channel Channel, payload []byte, signature string) (State, error) {
	ev, err := s.classify(ctx, channel, payload, signature)
	if err != nil {
		return State{}, err
	}

	switch e := ev.(type) {
	case *OrderPaidEvent:
		return s.ApplyPaid(ctx, e)
	case *OrderRefundEvent:
		return s.ApplyRefund(ctx, e)
	case *TrialGrantedEvent:
		return s.ApplyTrial(ctx, e)
	}
	return State{}, fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev)
}

func (s *service) HandlePaidEvent(ctx context.Context, channel Channel, payload []byte, signature string) (State, error) {
	ev, err := s.classify(ctx, channel, payload, signature)
	if err != nil {
		return State{}, err
	}
	paid, ok := ev.(*OrderPaidEvent)
	if !ok {
		return State{}, unexpectedEvent(EventOrderPaid, ev)
	}
	return s.ApplyPaid(ctx, paid)
}

func (s *service) HandleRefundEvent(ctx context.Context, channel Channel, payload []byte, signature string) (State, error) {
	ev, err := s.classify(ctx, channel, payload, signature)
	if err != nil {
		return State{}, err
	}
	refund, ok := ev.(*OrderRefundEvent)
	if !ok {
		return State{}, unexpectedEvent(EventOrderRefunded, ev)
	}
	return s.ApplyRefund(ctx, refund)
}

func (s *service) HandleTrialEvent(ctx context.Context, channel Channel, payload []byte, signature string) (State, error) {
	ev, err := s.classify(ctx, channel, payload, signature)
	if err != nil {
		return State{}, err
	}
	trial, ok := ev.(*TrialGrantedEvent)
	if !ok {
		return State{}, unexpectedEvent(EventTrialGranted, ev)
	}
	return s.ApplyTrial(ctx, trial)
}

func (s *service) ApplyPaid(ctx context.Context, ev *OrderPaidEvent) (State, error) {
	if ev == nil {
		return State{}, errors.Join(ErrMalformedEvent, errors.New("nil paid event"))
	}
	order := ev.Order
	order.Status = OrderStatusActive
	if order.ReceivedAt.IsZero() {
		order.ReceivedAt = s.now()
	}

	start := time.Now()
	state, err := s.applyOrderPaid(ctx, order)
	s.observer.ObserveEvent(EventOrderPaid, order.Tenant.Channel, Outcome(err), time.Since(start))
	return state, err
}

func (s *service) applyOrderPaid(ctx context.Context, order Order) (State, error) {
	if err := order.Validate(); err != nil {
		s.log.WarnContext(ctx, "rejected paid order",
			logger.Tenant(order.Tenant.Key()),
			logger.OrderID(order.ID),
			logger.Error(err),
		)
		return State{}, err
	}

	return s.reconcile(ctx, order.Tenant, func(ctx context.Context) error {
		known, err := s.store.HasOrder(ctx, order.Tenant, order.ID)
		if err != nil {
			return storeFailure("find order", err)
		}
		if known {
			s.log.InfoContext(ctx, "duplicate paid order ignored",
				logger.Tenant(order.Tenant.Key()),
				logger.OrderID(order.ID),
			)
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ID)
		}
		// an order the catalog cannot price is rejected before it reaches the ledger
		if _, err := s.project(ctx, order.Tenant, order); err != nil {
			return err
		}
		err = s.store.Append(ctx, order)
		switch {
		case err == nil:
			s.log.InfoContext(ctx, "order recorded",
				logger.Tenant(order.Tenant.Key()),
				logger.OrderID(order.ID),
				slog.String("order_type", string(order.Type)),
				slog.String("edition_id", order.EditionID),
				slog.Int("seats", order.Seats),
			)
			return nil
		case errors.Is(err, ErrDuplicateOrder):
			s.log.InfoContext(ctx, "duplicate paid order ignored",
				logger.Tenant(order.Tenant.Key()),
				logger.OrderID(order.ID),
			)
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.ID)
		default:
			return storeFailure("append order", err)
		}
	})
}

func (s *service) ApplyRefund(ctx context.Context, ev *OrderRefundEvent) (State, error) {
	if ev == nil {
		return State{}, errors.Join(ErrMalformedEvent, errors.New("nil refund event"))
	}

	start := time.Now()
	state, err := s.applyRefund(ctx, *ev)
	s.observer.ObserveEvent(EventOrderRefunded, ev.Tenant.Channel, Outcome(err), time.Since(start))
	return state, err
}

func (s *service) applyRefund(ctx context.Context, ev OrderRefundEvent) (State, error) {
	if ev.Tenant.IsZero() || ev.OrderID == "" {
		return State{}, errors.Join(ErrMalformedEvent, errors.New("refund requires tenant and order id"))
	}

	return s.reconcile(ctx, ev.Tenant, func(ctx context.Context) error {
		err := s.store.MarkRefunded(ctx, ev.Tenant, ev.OrderID)
		switch {
		case err == nil:
			s.log.InfoContext(ctx, "order refunded",
				logger.Tenant(ev.Tenant.Key()),
				logger.OrderID(ev.OrderID),
			)
			return nil
		case errors.Is(err, ErrOrderNotFound):
			s.log.WarnContext(ctx, "refund for unknown order",
				logger.Tenant(ev.Tenant.Key()),
				logger.OrderID(ev.OrderID),
			)
			return fmt.Errorf("%w: %s", ErrOrderNotFound, ev.OrderID)
		default:
			return storeFailure("mark refunded", err)
		}
	})
}

func (s *service) ApplyTrial(ctx context.Context, ev *TrialGrantedEvent) (State, error) {
	if ev == nil {
		return State{}, errors.Join(ErrMalformedEvent, errors.New("nil trial event"))
	}

	start := time.Now()
	state, err := s.applyTrial(ctx, ev.Grant)
	s.observer.ObserveEvent(EventTrialGranted, ev.Grant.Tenant.Channel, Outcome(err), time.Since(start))
	return state, err
}

func (s *service) applyTrial(ctx context.Context, grant TrialGrant) (State, error) {
	if grant.Tenant.IsZero() || grant.ExpiresAt.IsZero() {
		return State{}, errors.Join(ErrMalformedEvent, errors.New("trial grant requires tenant and expiry"))
	}

	return s.reconcile(ctx, grant.Tenant, func(ctx context.Context) error {
		if err := s.store.SaveTrial(ctx, grant); err != nil {
			return storeFailure("save trial", err)
		}
		s.log.InfoContext(ctx, "trial granted",
			logger.Tenant(grant.Tenant.Key()),
			slog.String("edition_id", grant.EditionID),
			slog.Time("expires_at", grant.ExpiresAt),
			slog.Bool("unlimited", grant.Unlimited),
		)
		return nil
	})
}

// GetSubscription returns the effective state of a tenant. A cached state is served
// while the store revision of the tenant is unchanged and, for trial states, until
// the trial ends.
func (s *service) GetSubscription(ctx context.Context, tenant Tenant) (State, error) {
	if tenant.IsZero() {
		return State{}, ErrInvalidTenant
	}

	if s.cache != nil {
		st, ok := s.cached(ctx, tenant)
		s.observer.ObserveCache(ok)
		if ok {
			return st.clone(), nil
		}
	}

	v, err, _ := s.group.Do(tenant.Key(), func() (any, error) {
		ctx, unlock, err := s.lock(ctx, tenant)
		if err != nil {
			return State{}, err
		}
		defer unlock()

		if st, ok := s.cached(ctx, tenant); ok {
			return st, nil
		}
		st, rev, err := s.snapshot(ctx, tenant)
		if err != nil {
			return State{}, err
		}
		s.remember(st, rev)
		return st, nil
	})
	if err != nil {
		return State{}, err
	}
	return v.(State).clone(), nil
}

// reconcile runs mutate and re-projects the tenant under the tenant lock.
// Acknowledged outcomes (duplicate, unknown order) return the current state with the error.
func (s *service) reconcile(ctx context.Context, tenant Tenant, mutate func(context.Context) error) (State, error) {
	ctx, unlock, err := s.lock(ctx, tenant)
	if err != nil {
		return State{}, err
	}
	defer unlock()

	mutErr := mutate(ctx)
	if mutErr != nil && !IsAcknowledged(mutErr) {
		s.log.ErrorContext(ctx, "billing event not applied",
			logger.Tenant(tenant.Key()),
			logger.Error(mutErr),
		)
		return State{}, mutErr
	}

	s.forget(tenant)
	state, rev, err := s.snapshot(ctx, tenant)
	if err != nil {
		s.log.ErrorContext(ctx, "projection failed",
			logger.Tenant(tenant.Key()),
			logger.Error(err),
		)
		return State{}, err
	}
	s.remember(state, rev)

	if mutErr == nil {
		s.publish(ctx, state)
	}
	return state.clone(), mutErr
}

// snapshot projects the tenant and returns the store revision read before the
// projection, so a write that lands in between makes the cached entry stale.
func (s *service) snapshot(ctx context.Context, tenant Tenant) (State, int64, error) {
	rev, err := s.store.Revision(ctx, tenant)
	if err != nil {
		return State{}, 0, storeFailure("read revision", err)
	}
	st, err := s.project(ctx, tenant)
	if err != nil {
		return State{}, 0, err
	}
	return st, rev, nil
}

// project replays the stored ledger of a tenant, together with extra orders not yet stored.
func (s *service) project(ctx context.Context, tenant Tenant, extra ...Order) (State, error) {
	orders, err := s.store.ListActive(ctx, tenant)
	if err != nil {
		return State{}, storeFailure("list orders", err)
	}
	for _, o := range extra {
		if !slices.ContainsFunc(orders, func(stored Order) bool { return stored.ID == o.ID }) {
			orders = append(orders, o)
		}
	}

	var grant *TrialGrant
	g, err := s.store.GetTrial(ctx, tenant)
	switch {
	case err == nil:
		grant = &g
	case errors.Is(err, ErrTrialNotFound):
	default:
		return State{}, storeFailure("get trial", err)
	}

	return s.projector.Project(s.now(), tenant, orders, grant)
}

func (s *service) publish(ctx context.Context, state State) {
	_ = s.feed.Publish(ctx, state.clone())
	for _, p := range s.publishers {
		if err := p.Publish(ctx, state.clone()); err != nil {
			s.observer.ObservePublishError()
			s.log.WarnContext(ctx, "state publish failed",
				logger.Tenant(state.Tenant.Key()),
				logger.Error(err),
			)
		}
	}
	s.log.DebugContext(ctx, "state published",
		logger.Tenant(state.Tenant.Key()),
		logger.PlanID(state.PlanID),
		slog.Int("seats", state.Seats),
		logger.Deadline(state.Deadline),
		slog.Bool("on_trial", state.OnTrial),
	)
}

// lock takes the tenant lock. The returned context ends after the lease timeout,
// so work done under a lease-based lock stops before the lease can expire.
func (s *service) lock(ctx context.Context, tenant Tenant) (context.Context, func(), error) {
	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	unlock, err := s.locker.Lock(lockCtx, tenant.Key())
	if err != nil {
		return nil, nil, errors.Join(ErrLockTimeout, fmt.Errorf("tenant %s: %w", tenant, err))
	}
	if s.leaseTimeout <= 0 {
		return ctx, unlock, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.leaseTimeout)
	return ctx, func() {
		cancel()
		unlock()
	}, nil
}

// cachedState is a projected state together with the store revision it was built from.
type cachedState struct {
	state    State
	revision int64
}

// cached returns the cached state of a tenant if it is still current.
// Entries built from an older store revision, written by another instance, are dropped.
func (s *service) cached(ctx context.Context, tenant Tenant) (State, bool) {
	if s.cache == nil {
		return State{}, false
	}
	entry, ok := s.cache.Get(tenant.Key())
	if !ok {
		return State{}, false
	}
	rev, err := s.store.Revision(ctx, tenant)
	if err != nil || rev != entry.revision {
		s.cache.Remove(tenant.Key())
		return State{}, false
	}
	return entry.state, true
}

func (s *service) remember(st State, rev int64) {
	if s.cache == nil {
		return
	}
	entry := cachedState{state: st, revision: rev}
	if st.OnTrial && st.Deadline != nil {
		s.cache.PutUntil(st.Tenant.Key(), entry, *st.Deadline)
		return
	}
	s.cache.Put(st.Tenant.Key(), entry)
}

func (s *service) forget(tenant Tenant) {
	if s.cache != nil {
		s.cache.Remove(tenant.Key())
	}
}

func (s *service) classify(ctx context.Context, channel Channel, payload []byte, signature string) (Event, error) {
	c, err := s.registry.Lookup(channel)
	if err != nil {
		return nil, err
	}
	ev, err := c.Parse(ctx, payload, signature)
	if err != nil {
		s.log.WarnContext(ctx, "webhook rejected",
			logger.Channel(string(channel)),
			slog.String("outcome", Outcome(err)),
			logger.Error(err),
		)
		return nil, err
	}
	return ev, nil
}

func storeFailure(op string, err error) error {
	return errors.Join(ErrStoreFailure, fmt.Errorf("%s: %w", op, err))
}

func unexpectedEvent(want EventKind, got Event) error {
	return errors.Join(ErrUnsupportedEvent, fmt.Errorf("expected %s event, got %s", want, got.Kind()))
}

