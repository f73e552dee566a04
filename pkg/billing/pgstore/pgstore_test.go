package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	"github.com/dmitrymomot/seatledger/pkg/billing/pgstore"
	"github.com/dmitrymomot/seatledger/pkg/pg"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *bool:
			*p = r.vals[i].(bool)
		case *int64:
			*p = r.vals[i].(int64)
		}
	}
	return nil
}

type fakeDB struct {
	execTag pgconn.CommandTag
	execErr error
	rowErr  error
	rowVals []any
	lastSQL string
	args    []any
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastSQL, f.args = sql, args
	return f.execTag, f.execErr
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL, f.args = sql, args
	return fakeRow{vals: f.rowVals, err: f.rowErr}
}

var tenant = billing.Tenant{Channel: "wecom", ID: "corp-1"}

func paidOrder(id string) billing.Order {
	begin := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	return billing.Order{
		ID:         id,
		Tenant:     tenant,
		Type:       billing.OrderTypeNew,
		EditionID:  "pro",
		Seats:      10,
		BeginAt:    begin,
		EndAt:      begin.AddDate(1, 0, 0),
		ReceivedAt: begin,
	}
}

func TestNewPanicsWithoutDB(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { pgstore.New(nil) })
}

func TestAppendMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execErr: &pgconn.PgError{Code: "23505"}}
	err := pgstore.New(db).Append(context.Background(), paidOrder("o-1"))
	assert.ErrorIs(t, err, billing.ErrDuplicateOrder)
}

func TestAppendDefaultsStatus(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	require.NoError(t, pgstore.New(db).Append(context.Background(), paidOrder("o-1")))
	require.Len(t, db.args, 11)
	assert.Equal(t, "active", db.args[9])
	assert.Contains(t, db.lastSQL, "billing_revisions", "the append bumps the tenant revision")
}

func TestHasOrder(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rowVals: []any{true}}
	ok, err := pgstore.New(db).HasOrder(context.Background(), tenant, "o-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{"wecom", "corp-1", "o-1"}, db.args)
	assert.NotContains(t, db.lastSQL, "status", "refunded orders count as present")
}

func TestRevision(t *testing.T) {
	t.Parallel()

	t.Run("tenant without writes", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rowErr: pgx.ErrNoRows}
		rev, err := pgstore.New(db).Revision(context.Background(), tenant)
		require.NoError(t, err)
		assert.Zero(t, rev)
	})

	t.Run("stored revision", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rowVals: []any{int64(7)}}
		rev, err := pgstore.New(db).Revision(context.Background(), tenant)
		require.NoError(t, err)
		assert.Equal(t, int64(7), rev)
	})

	t.Run("driver error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		_, err := pgstore.New(&fakeDB{rowErr: boom}).Revision(context.Background(), tenant)
		assert.ErrorIs(t, err, boom)
	})
}

func TestMarkRefunded(t *testing.T) {
	t.Parallel()

	t.Run("unknown order", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
		err := pgstore.New(db).MarkRefunded(context.Background(), tenant, "missing")
		assert.ErrorIs(t, err, billing.ErrOrderNotFound)
	})

	t.Run("refunded", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
		require.NoError(t, pgstore.New(db).MarkRefunded(context.Background(), tenant, "o-1"))
		assert.Equal(t, []any{"wecom", "corp-1", "o-1"}, db.args)
	})

	t.Run("driver error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		db := &fakeDB{execErr: boom}
		err := pgstore.New(db).MarkRefunded(context.Background(), tenant, "o-1")
		assert.ErrorIs(t, err, boom)
	})
}

func TestGetTrialNotFound(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rowErr: pgx.ErrNoRows}
	_, err := pgstore.New(db).GetTrial(context.Background(), tenant)
	assert.ErrorIs(t, err, billing.ErrTrialNotFound)
}

func TestSaveTrialRequiresTenant(t *testing.T) {
	t.Parallel()

	err := pgstore.New(&fakeDB{}).SaveTrial(context.Background(), billing.TrialGrant{})
	assert.ErrorIs(t, err, billing.ErrInvalidTenant)
}

// TestStoreIntegration runs against a live database when PGSTORE_TEST_URL is set.
func TestStoreIntegration(t *testing.T) {
	url := os.Getenv("PGSTORE_TEST_URL")
	if url == "" {
		t.Skip("PGSTORE_TEST_URL is not set")
	}

	ctx := context.Background()
	cfg := pg.Config{ConnectionString: url, MaxOpenConns: 4, RetryAttempts: 1, MigrationsTable: "billing_schema_migrations"}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pg.Migrate(ctx, pool, cfg, pgstore.Migrations, pgstore.MigrationsDir, nil))

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(ctx) })
	store := pgstore.New(tx)

	rev, err := store.Revision(ctx, tenant)
	require.NoError(t, err)
	assert.Zero(t, rev)

	require.NoError(t, store.Append(ctx, paidOrder("o-1")))
	require.NoError(t, store.Append(ctx, paidOrder("o-2")))
	assert.ErrorIs(t, store.Append(ctx, paidOrder("o-1")), billing.ErrDuplicateOrder)

	require.NoError(t, store.MarkRefunded(ctx, tenant, "o-1"))
	require.NoError(t, store.MarkRefunded(ctx, tenant, "o-1"))
	assert.ErrorIs(t, store.MarkRefunded(ctx, tenant, "o-9"), billing.ErrOrderNotFound)

	rev, err = store.Revision(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rev, "two appends and two refunds")

	ok, err := store.HasOrder(ctx, tenant, "o-1")
	require.NoError(t, err)
	assert.True(t, ok, "refunded orders are still known")
	ok, err = store.HasOrder(ctx, tenant, "o-9")
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := store.ListActive(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, paidOrder("o-2").EndAt, active[0].EndAt)
	assert.Equal(t, billing.OrderStatusActive, active[0].Status)

	other, err := store.ListActive(ctx, billing.Tenant{Channel: "paddle", ID: "corp-1"})
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = store.GetTrial(ctx, tenant)
	require.ErrorIs(t, err, billing.ErrTrialNotFound)

	expires := time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)
	grant, err := billing.NewTrialGrant(tenant, "pro", expires.AddDate(0, -1, 0), expires, false)
	require.NoError(t, err)
	require.NoError(t, store.SaveTrial(ctx, grant))
	grant.ExpiresAt = expires.AddDate(0, 1, 0)
	require.NoError(t, store.SaveTrial(ctx, grant))

	got, err := store.GetTrial(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, grant, got)
}
