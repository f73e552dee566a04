package billing

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Projector derives the effective subscription of a tenant from its surviving orders
// and trial grant. It is a pure function of its inputs: the same orders, grant and
// instant always produce the same State, which makes refunds plain removals from the
// input set instead of inverse operations.
type Projector struct {
	catalog Catalog
	months  MonthsFunc
}

// NewProjector creates a projector. A nil months function selects MonthsFloor30.
// Panics if catalog is nil.
func NewProjector(catalog Catalog, months MonthsFunc) *Projector {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if months == nil {
		months = MonthsFloor30
	}
	return &Projector{catalog: catalog, months: months}
}

// Months returns the priced duration of an order.
func (p *Projector) Months(o Order) int {
	return p.months(o.Days())
}

// Project replays orders on top of the trial/free baseline.
// Refunded orders and orders of other tenants are ignored, so callers may pass the
// raw ledger content. A catalog miss fails the whole projection with ErrCatalogLookup.
func (p *Projector) Project(now time.Time, tenant Tenant, orders []Order, grant *TrialGrant) (State, error) {
	state, err := p.baseline(now, tenant, grant)
	if err != nil {
		return State{}, err
	}

	active := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.IsActive() && o.Tenant == tenant {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return state, nil
	}
	SortOrders(active)

	for _, o := range active {
		if err := p.apply(&state, o); err != nil {
			return State{}, err
		}
	}
	state.OnTrial = false
	return state, nil
}

func (p *Projector) baseline(now time.Time, tenant Tenant, grant *TrialGrant) (State, error) {
	state := State{Tenant: tenant, ComputedAt: now}

	if grant != nil && grant.ActiveAt(now) {
		plan, err := p.catalog.TrialPlan(tenant.Channel)
		if err != nil {
			return State{}, errors.Join(ErrCatalogLookup, fmt.Errorf("trial plan of channel %q: %w", tenant.Channel, err))
		}
		expiresAt := grant.ExpiresAt
		state.PlanID = plan.ID
		state.EditionID = grant.EditionID
		state.Deadline = &expiresAt
		state.OnTrial = true
		return state, nil
	}

	plan, err := p.catalog.FreePlan(tenant.Channel)
	if err != nil {
		return State{}, errors.Join(ErrCatalogLookup, fmt.Errorf("free plan of channel %q: %w", tenant.Channel, err))
	}
	state.PlanID = plan.ID
	return state, nil
}

func (p *Projector) apply(s *State, o Order) error {
	switch o.Type {
	case OrderTypeNew, OrderTypeChangeEdition:
		return p.replace(s, o)

	case OrderTypeUpgrade:
		if !s.Paid {
			return p.replace(s, o)
		}
		edition := cmp.Or(o.EditionID, s.EditionID)
		plan, err := p.price(edition, o.Seats, o)
		if err != nil {
			return err
		}
		// the superseded order's deadline stays in force
		s.PlanID = plan.ID
		s.EditionID = edition
		s.Seats = o.Seats
		return nil

	case OrderTypeRenew:
		if !s.Paid {
			if o.Seats == 0 {
				return errors.Join(ErrCatalogLookup,
					fmt.Errorf("renewal %s has no seat count and no preceding paid order", o.ID))
			}
			return p.replace(s, o)
		}
		if s.Deadline == nil || o.EndAt.After(*s.Deadline) {
			end := o.EndAt
			s.Deadline = &end
		}
		if o.EditionID != "" && o.EditionID != s.EditionID {
			seats := cmp.Or(o.Seats, s.Seats)
			plan, err := p.price(o.EditionID, seats, o)
			if err != nil {
				return err
			}
			s.PlanID = plan.ID
			s.EditionID = o.EditionID
			s.Seats = seats
		}
		return nil
	}

	return errors.Join(ErrMalformedEvent, fmt.Errorf("order %s has unknown type %q", o.ID, o.Type))
}

func (p *Projector) replace(s *State, o Order) error {
	plan, err := p.price(o.EditionID, o.Seats, o)
	if err != nil {
		return err
	}
	end := o.EndAt
	s.PlanID = plan.ID
	s.EditionID = o.EditionID
	s.Seats = o.Seats
	s.Deadline = &end
	s.Paid = true
	return nil
}

func (p *Projector) price(editionID string, seats int, o Order) (Plan, error) {
	months := p.Months(o)
	plan, err := p.catalog.PriceFor(editionID, seats, months)
	if err != nil {
		return Plan{}, errors.Join(ErrCatalogLookup,
			fmt.Errorf("order %s: edition %q, %d seats, %d months: %w", o.ID, editionID, seats, months, err))
	}
	return plan, nil
}

// SortOrders orders a ledger slice for replay: by begin time, then by the instant the
// event was processed, then by order id.
func SortOrders(orders []Order) {
	slices.SortStableFunc(orders, func(a, b Order) int {
		if c := a.BeginAt.Compare(b.BeginAt); c != 0 {
			return c
		}
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
