package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

func TestProjector_Baseline(t *testing.T) {
	t.Parallel()

	p := billing.NewProjector(newCatalog(), nil)

	t.Run("no orders and no grant yields free plan", func(t *testing.T) {
		st, err := p.Project(t0, tenant, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "free", st.PlanID)
		assert.Nil(t, st.Deadline)
		assert.False(t, st.OnTrial)
		assert.Equal(t, billing.TierFree, st.Tier())
	})

	t.Run("unexpired grant yields trial", func(t *testing.T) {
		st, err := p.Project(t0, tenant, nil, trial(t0.Add(15*day)))
		require.NoError(t, err)
		assert.Equal(t, "trial", st.PlanID)
		assert.True(t, st.OnTrial)
		assert.Zero(t, st.Seats)
		require.NotNil(t, st.Deadline)
		assert.Equal(t, t0.Add(15*day), *st.Deadline)
		assert.Equal(t, billing.TierTrial, st.Tier())
	})

	t.Run("grant expiring now yields free plan", func(t *testing.T) {
		st, err := p.Project(t0.Add(15*day), tenant, nil, trial(t0.Add(15*day)))
		require.NoError(t, err)
		assert.Equal(t, "free", st.PlanID)
		assert.False(t, st.OnTrial)
	})

	t.Run("refunded and foreign orders are ignored", func(t *testing.T) {
		refunded := order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365)
		refunded.Status = billing.OrderStatusRefunded
		foreign := order("o-2", billing.OrderTypeNew, "pro", 10, t0, 365)
		foreign.Tenant = billing.Tenant{Channel: wecom, ID: "corp-2"}

		st, err := p.Project(t0, tenant, []billing.Order{refunded, foreign}, nil)
		require.NoError(t, err)
		assert.Equal(t, "free", st.PlanID)
	})
}

func TestProjector_Fold(t *testing.T) {
	t.Parallel()

	p := billing.NewProjector(newCatalog(), nil)

	t.Run("new order supersedes trial", func(t *testing.T) {
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365)}
		st, err := p.Project(t0, tenant, orders, trial(t0.Add(15*day)))
		require.NoError(t, err)
		assert.False(t, st.OnTrial)
		assert.True(t, st.Paid)
		assert.Equal(t, "pro-10-12m", st.PlanID)
		assert.Equal(t, "pro", st.EditionID)
		assert.Equal(t, 10, st.Seats)
		assert.Equal(t, t0.Add(365*day), *st.Deadline)
	})

	t.Run("upgrade keeps the superseded deadline", func(t *testing.T) {
		up := order("o-2", billing.OrderTypeUpgrade, "", 20, t0.Add(30*day), 365)
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365), up}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, "pro-20-12m", st.PlanID)
		assert.Equal(t, "pro", st.EditionID)
		assert.Equal(t, 20, st.Seats)
		assert.Equal(t, t0.Add(365*day), *st.Deadline)
	})

	t.Run("upgrade prices with its own duration", func(t *testing.T) {
		up := order("o-2", billing.OrderTypeUpgrade, "pro", 20, t0.Add(335*day), 30)
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365), up}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, "pro-20-1m", st.PlanID)
	})

	t.Run("upgrade without preceding paid order takes its own window", func(t *testing.T) {
		orders := []billing.Order{order("o-2", billing.OrderTypeUpgrade, "pro", 20, t0, 365)}
		st, err := p.Project(t0, tenant, orders, trial(t0.Add(15*day)))
		require.NoError(t, err)
		assert.Equal(t, "pro-20-12m", st.PlanID)
		assert.Equal(t, t0.Add(365*day), *st.Deadline)
		assert.False(t, st.OnTrial)
	})

	t.Run("renew extends the deadline and keeps the plan", func(t *testing.T) {
		renew := order("o-2", billing.OrderTypeRenew, "", 0, t0.Add(365*day), 365)
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365), renew}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, "pro-10-12m", st.PlanID)
		assert.Equal(t, 10, st.Seats)
		assert.Equal(t, t0.Add(730*day), *st.Deadline)
	})

	t.Run("renew never shortens the deadline", func(t *testing.T) {
		renew := order("o-2", billing.OrderTypeRenew, "pro", 10, t0.Add(10*day), 30)
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365), renew}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(365*day), *st.Deadline)
	})

	t.Run("renew changing edition re-resolves the plan", func(t *testing.T) {
		renew := order("o-2", billing.OrderTypeRenew, "ent", 0, t0.Add(365*day), 365)
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365), renew}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, "ent-10-12m", st.PlanID)
		assert.Equal(t, "ent", st.EditionID)
		assert.Equal(t, 10, st.Seats)
	})

	t.Run("renew over free baseline acts as new", func(t *testing.T) {
		orders := []billing.Order{order("o-1", billing.OrderTypeRenew, "pro", 10, t0, 365)}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, "pro-10-12m", st.PlanID)
		assert.Equal(t, t0.Add(365*day), *st.Deadline)
	})

	t.Run("renew without seats over free baseline cannot be priced", func(t *testing.T) {
		orders := []billing.Order{order("o-1", billing.OrderTypeRenew, "", 0, t0, 365)}
		_, err := p.Project(t0, tenant, orders, nil)
		assert.ErrorIs(t, err, billing.ErrCatalogLookup)
	})

	t.Run("change edition replaces edition and window", func(t *testing.T) {
		change := order("o-2", billing.OrderTypeChangeEdition, "ent", 20, t0.Add(100*day), 30)
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365), change}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, "ent-20-1m", st.PlanID)
		assert.Equal(t, "ent", st.EditionID)
		assert.Equal(t, 20, st.Seats)
		assert.Equal(t, t0.Add(130*day), *st.Deadline)
	})

	t.Run("later new order replaces wholesale", func(t *testing.T) {
		orders := []billing.Order{
			order("o-2", billing.OrderTypeNew, "ent", 50, t0.Add(day), 30),
			order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365),
		}
		st, err := p.Project(t0, tenant, orders, nil)
		require.NoError(t, err)
		assert.Equal(t, "ent-50-1m", st.PlanID)
		assert.Equal(t, t0.Add(31*day), *st.Deadline)
	})

	t.Run("catalog miss is not defaulted", func(t *testing.T) {
		orders := []billing.Order{order("o-1", billing.OrderTypeNew, "pro", 500, t0, 365)}
		_, err := p.Project(t0, tenant, orders, trial(t0.Add(15*day)))
		require.Error(t, err)
		assert.ErrorIs(t, err, billing.ErrCatalogLookup)
		assert.ErrorIs(t, err, billing.ErrPlanNotFound)
	})
}

func TestProjector_ReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	p := billing.NewProjector(newCatalog(), nil)
	orders := []billing.Order{
		order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365),
		order("o-2", billing.OrderTypeUpgrade, "pro", 20, t0, 365),
		order("o-3", billing.OrderTypeRenew, "", 0, t0.Add(365*day), 365),
	}
	orders[1].ReceivedAt = t0.Add(time.Minute)

	first, err := p.Project(t0, tenant, orders, trial(t0.Add(15*day)))
	require.NoError(t, err)
	second, err := p.Project(t0, tenant, orders, trial(t0.Add(15*day)))
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	// input order does not matter either
	reversed := []billing.Order{orders[2], orders[1], orders[0]}
	third, err := p.Project(t0, tenant, reversed, trial(t0.Add(15*day)))
	require.NoError(t, err)
	assert.True(t, first.Equal(third))
	assert.Equal(t, "pro-20-12m", first.PlanID)
	assert.Equal(t, t0.Add(730*day), *first.Deadline)
}

func TestSortOrders(t *testing.T) {
	t.Parallel()

	a := order("b", billing.OrderTypeNew, "pro", 10, t0, 30)
	b := order("a", billing.OrderTypeNew, "pro", 10, t0, 30)
	c := order("c", billing.OrderTypeNew, "pro", 10, t0, 30)
	c.ReceivedAt = t0.Add(-time.Second)
	d := order("d", billing.OrderTypeNew, "pro", 10, t0.Add(-day), 30)

	orders := []billing.Order{a, b, c, d}
	billing.SortOrders(orders)

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
}

func TestNewProjector_PanicsWithoutCatalog(t *testing.T) {
	assert.Panics(t, func() { billing.NewProjector(nil, nil) })
}
