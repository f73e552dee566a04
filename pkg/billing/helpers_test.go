package billing_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

const day = 24 * time.Hour

var (
	t0     = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	wecom  = billing.Channel("wecom")
	tenant = billing.Tenant{Channel: wecom, ID: "corp-1"}
)

// tieredCatalog prices editions by seat tier: the smallest tier holding the
// requested seats for an exact duration wins. A withdrawn catalog prices nothing.
type tieredCatalog struct {
	tiers     []int
	withdrawn atomic.Bool
}

func newCatalog() *tieredCatalog {
	return &tieredCatalog{tiers: []int{10, 20, 50}}
}

func (c *tieredCatalog) PriceFor(editionID string, seats, months int) (billing.Plan, error) {
	if c.withdrawn.Load() {
		return billing.Plan{}, billing.ErrPlanNotFound
	}
	if editionID != "pro" && editionID != "ent" {
		return billing.Plan{}, billing.ErrPlanNotFound
	}
	if months != 1 && months != 12 && months != 24 {
		return billing.Plan{}, billing.ErrPlanNotFound
	}
	for _, tier := range c.tiers {
		if seats <= tier {
			return billing.Plan{
				ID:        fmt.Sprintf("%s-%d-%dm", editionID, tier, months),
				EditionID: editionID,
				Seats:     tier,
				Months:    months,
			}, nil
		}
	}
	return billing.Plan{}, billing.ErrPlanNotFound
}

func (c *tieredCatalog) FreePlan(channel billing.Channel) (billing.Plan, error) {
	return billing.Plan{ID: "free"}, nil
}

func (c *tieredCatalog) TrialPlan(channel billing.Channel) (billing.Plan, error) {
	return billing.Plan{ID: "trial"}, nil
}

func order(id string, typ billing.OrderType, edition string, seats int, begin time.Time, days int) billing.Order {
	return billing.Order{
		ID:         id,
		Tenant:     tenant,
		Type:       typ,
		EditionID:  edition,
		Seats:      seats,
		BeginAt:    begin,
		EndAt:      begin.Add(time.Duration(days) * day),
		Status:     billing.OrderStatusActive,
		ReceivedAt: begin,
	}
}

func trial(expires time.Time) *billing.TrialGrant {
	return &billing.TrialGrant{
		Tenant:    tenant,
		EditionID: "pro",
		GrantedAt: t0,
		ExpiresAt: expires,
	}
}

// fakeClock is a movable time source shared by a service and its tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func deadline(t time.Time) *time.Time { return &t }
