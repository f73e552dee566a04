// Package billing reconciles third-party billing events into the effective
// subscription of a tenant.
//
// Vendors (marketplace suites, payment providers) notify the engine about paid
// orders, refunds and trial authorizations, at least once and in any order. The
// engine never patches a stored state. Instead it keeps an append-only ledger of
// orders plus the latest trial grant per tenant, and derives the subscription by
// replaying the surviving orders on every mutation:
//
//	paid orders  >  unexpired trial grant  >  channel free plan
//
// # Components
//
//   - Classifier parses the raw payload of one channel into an OrderPaidEvent,
//     OrderRefundEvent or TrialGrantedEvent. Classifiers are selected through a Registry.
//   - Ledger and TrialStore persist orders and grants. MemoryStore is the in-process
//     implementation; pgstore and mongostore provide durable ones.
//   - Projector is the pure replay. Orders are sorted by begin time, processing time
//     and id, then folded: new orders replace the state, upgrades change seats within
//     the current window, renewals push the deadline forward, edition changes replace
//     the edition and window.
//   - Service ties them together under a per-tenant Locker, caches derived states and
//     publishes every new state to a StateFeed and optional Publishers.
//
// # Errors
//
// Duplicate paid events return the current state with ErrDuplicateOrder, and refunds
// for unknown orders return it with ErrOrderNotFound. Both are acknowledged outcomes
// (see IsAcknowledged). A catalog miss fails the event with ErrCatalogLookup and is
// never defaulted to the free plan.
//
// # Usage
//
//	svc := billing.NewService(cat, billing.NewMemoryStore(),
//		billing.WithClassifier(wecomClassifier),
//		billing.WithLogger(log),
//	)
//
//	state, err := svc.HandleWebhook(ctx, "wecom", payload, signature)
//	if err != nil && !billing.IsAcknowledged(err) {
//		return err
//	}
package billing
