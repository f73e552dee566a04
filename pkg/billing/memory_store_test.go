package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

func TestMemoryStore_Ledger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("append rejects duplicates per tenant", func(t *testing.T) {
		s := billing.NewMemoryStore()
		o := order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365)
		require.NoError(t, s.Append(ctx, o))

		dup := o
		dup.Seats = 50
		assert.ErrorIs(t, s.Append(ctx, dup), billing.ErrDuplicateOrder)

		other := o
		other.Tenant = billing.Tenant{Channel: wecom, ID: "corp-2"}
		require.NoError(t, s.Append(ctx, other), "order ids are scoped by tenant")

		active, err := s.ListActive(ctx, tenant)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, 10, active[0].Seats, "stored order is not overwritten")
	})

	t.Run("mark refunded is idempotent", func(t *testing.T) {
		s := billing.NewMemoryStore()
		require.NoError(t, s.Append(ctx, order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365)))
		require.NoError(t, s.Append(ctx, order("o-2", billing.OrderTypeUpgrade, "pro", 20, t0, 365)))

		require.NoError(t, s.MarkRefunded(ctx, tenant, "o-2"))
		require.NoError(t, s.MarkRefunded(ctx, tenant, "o-2"))

		active, err := s.ListActive(ctx, tenant)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "o-1", active[0].ID)

		assert.ErrorIs(t, s.MarkRefunded(ctx, tenant, "missing"), billing.ErrOrderNotFound)
	})
}

func TestMemoryStore_Trials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := billing.NewMemoryStore()

	_, err := s.GetTrial(ctx, tenant)
	assert.ErrorIs(t, err, billing.ErrTrialNotFound)

	require.NoError(t, s.SaveTrial(ctx, *trial(t0.Add(15*day))))
	require.NoError(t, s.SaveTrial(ctx, *trial(t0.Add(30*day))))

	g, err := s.GetTrial(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*day), g.ExpiresAt, "later grant replaces the previous one")
}

func TestMemoryStore_Revision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := billing.NewMemoryStore()

	rev, err := s.Revision(ctx, tenant)
	require.NoError(t, err)
	assert.Zero(t, rev)

	require.NoError(t, s.Append(ctx, order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365)))
	assert.ErrorIs(t, s.Append(ctx, order("o-1", billing.OrderTypeNew, "pro", 10, t0, 365)), billing.ErrDuplicateOrder)
	require.NoError(t, s.MarkRefunded(ctx, tenant, "o-1"))
	require.NoError(t, s.SaveTrial(ctx, *trial(t0.Add(15*day))))

	rev, err = s.Revision(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev, "rejected duplicates do not count")

	known, err := s.HasOrder(ctx, tenant, "o-1")
	require.NoError(t, err)
	assert.True(t, known, "refunded orders are still known")
	known, err = s.HasOrder(ctx, billing.Tenant{Channel: wecom, ID: "corp-2"}, "o-1")
	require.NoError(t, err)
	assert.False(t, known)
}
