package billing

import "time"

// Channel identifies the distribution surface a billing event came through
// (a marketplace suite, a payment provider account).
type Channel string

func (c Channel) String() string { return string(c) }

// Tenant identifies a billed unit within a channel.
// The same vendor tenant id may appear in several channels, so both parts form the key.
type Tenant struct {
	Channel Channel
	ID      string
}

// Key returns a stable string form used for locks and cache entries.
func (t Tenant) Key() string {
	return string(t.Channel) + ":" + t.ID
}

func (t Tenant) String() string { return t.Key() }

// IsZero reports whether either part of the tenant identity is missing.
func (t Tenant) IsZero() bool {
	return t.Channel == "" || t.ID == ""
}

// OrderType describes how a paid order relates to the orders before it.
type OrderType string

const (
	OrderTypeNew           OrderType = "new"
	OrderTypeUpgrade       OrderType = "upgrade"
	OrderTypeRenew         OrderType = "renew"
	OrderTypeChangeEdition OrderType = "change_edition"
)

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeNew, OrderTypeUpgrade, OrderTypeRenew, OrderTypeChangeEdition:
		return true
	}
	return false
}

// OrderStatus is the ledger status of an order. It only moves from active to refunded.
type OrderStatus string

const (
	OrderStatusActive   OrderStatus = "active"
	OrderStatusRefunded OrderStatus = "refunded"
)

// Tier is the coarse subscription level derived from a State.
type Tier string

const (
	TierFree  Tier = "free"
	TierTrial Tier = "trial"
	TierPaid  Tier = "paid"
)

// Money represents a monetary amount in the smallest currency unit.
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`     // minor units (cents, fen)
	Currency string `yaml:"currency" json:"currency"` // ISO 4217 code
}

// EventKind is the normalized kind of an incoming vendor event.
type EventKind string

const (
	EventOrderPaid     EventKind = "order_paid"
	EventOrderRefunded EventKind = "order_refunded"
	EventTrialGranted  EventKind = "trial_granted"
)

// Clock returns the current instant. Injected so projections can be pinned in tests.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
