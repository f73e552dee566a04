package billing

import "context"

// Ledger is the append-only record of paid orders.
type Ledger interface {
	// Append records a new order. Returns ErrDuplicateOrder if an order with the
	// same id already exists for the tenant; the stored order is left untouched.
	Append(ctx context.Context, order Order) error

	// MarkRefunded moves an order to the refunded status.
	// Returns ErrOrderNotFound when the tenant has no such order.
	// Refunding an already refunded order is a no-op.
	MarkRefunded(ctx context.Context, tenant Tenant, orderID string) error

	// HasOrder reports whether the tenant has an order with the id, refunded or not.
	HasOrder(ctx context.Context, tenant Tenant, orderID string) (bool, error)

	// ListActive returns the non-refunded orders of a tenant in any order.
	ListActive(ctx context.Context, tenant Tenant) ([]Order, error)
}

// TrialStore keeps the latest trial grant per tenant.
type TrialStore interface {
	// GetTrial returns the grant of a tenant or ErrTrialNotFound.
	GetTrial(ctx context.Context, tenant Tenant) (TrialGrant, error)

	// SaveTrial stores a grant, replacing the previous one of the same tenant.
	SaveTrial(ctx context.Context, grant TrialGrant) error
}

// Store combines the persistence the service needs.
type Store interface {
	Ledger
	TrialStore

	// Revision returns a counter that grows with every successful Append,
	// MarkRefunded and SaveTrial of the tenant. Tenants without writes are at 0.
	// Instances sharing a store compare it to tell whether a cached state is current.
	Revision(ctx context.Context, tenant Tenant) (int64, error)
}
