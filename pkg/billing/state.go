package billing

import "time"

// State is the effective subscription of a tenant at a given instant.
// It is never stored; the projector derives it from the ledger and trial grant.
type State struct {
	Tenant     Tenant
	PlanID     string
	EditionID  string
	Seats      int        // 0 while on trial or on the free plan
	Deadline   *time.Time // nil means the plan does not expire
	OnTrial    bool
	Paid       bool // at least one active order was folded
	ComputedAt time.Time
}

// Tier returns the coarse level of the state.
func (s State) Tier() Tier {
	switch {
	case s.Paid:
		return TierPaid
	case s.OnTrial:
		return TierTrial
	default:
		return TierFree
	}
}

// Equal compares the business fields of two states, ignoring ComputedAt.
func (s State) Equal(other State) bool {
	if s.Tenant != other.Tenant || s.PlanID != other.PlanID || s.EditionID != other.EditionID ||
		s.Seats != other.Seats || s.OnTrial != other.OnTrial || s.Paid != other.Paid {
		return false
	}
	switch {
	case s.Deadline == nil && other.Deadline == nil:
		return true
	case s.Deadline == nil || other.Deadline == nil:
		return false
	default:
		return s.Deadline.Equal(*other.Deadline)
	}
}

func (s State) clone() State {
	if s.Deadline != nil {
		d := *s.Deadline
		s.Deadline = &d
	}
	return s
}
