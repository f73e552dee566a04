package pgstore

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	"github.com/dmitrymomot/seatledger/pkg/pg"
)

// Migrations holds the goose migrations of the ledger tables.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations to pass to pg.Migrate.
const MigrationsDir = "migrations"

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a billing.Store backed by PostgreSQL.
type Store struct {
	db DBTX
}

var _ billing.Store = (*Store)(nil)

// New creates a store on top of a pool or transaction.
func New(db DBTX) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

// bumpRevision is appended to every write so the ledger row and the tenant
// revision change in one statement. $1 and $2 are the channel and tenant id.
const bumpRevision = `
INSERT INTO billing_revisions (channel, tenant_id, revision, updated_at)
SELECT $1, $2, 1, now() FROM written
ON CONFLICT (channel, tenant_id) DO UPDATE SET
    revision   = billing_revisions.revision + 1,
    updated_at = now()`

const appendOrder = `
WITH written AS (
    INSERT INTO billing_orders (
        channel, tenant_id, order_id, order_type, edition_id, seats,
        begin_at, end_at, period_days, status, received_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    RETURNING 1
)` + bumpRevision

func (s *Store) Append(ctx context.Context, order billing.Order) error {
	status := order.Status
	if status == "" {
		status = billing.OrderStatusActive
	}
	receivedAt := order.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	_, err := s.db.Exec(ctx, appendOrder,
		string(order.Tenant.Channel), order.Tenant.ID, order.ID, string(order.Type), order.EditionID, order.Seats,
		order.BeginAt.UTC(), order.EndAt.UTC(), order.PeriodDays, string(status), receivedAt.UTC(),
	)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrDuplicateOrder
	}
	return err
}

const markRefunded = `
WITH written AS (
    UPDATE billing_orders
    SET status = 'refunded', refunded_at = COALESCE(refunded_at, now())
    WHERE channel = $1 AND tenant_id = $2 AND order_id = $3
    RETURNING 1
)` + bumpRevision

func (s *Store) MarkRefunded(ctx context.Context, tenant billing.Tenant, orderID string) error {
	tag, err := s.db.Exec(ctx, markRefunded, string(tenant.Channel), tenant.ID, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrOrderNotFound
	}
	return nil
}

const hasOrder = `
SELECT EXISTS (
    SELECT 1 FROM billing_orders
    WHERE channel = $1 AND tenant_id = $2 AND order_id = $3
)`

func (s *Store) HasOrder(ctx context.Context, tenant billing.Tenant, orderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, hasOrder, string(tenant.Channel), tenant.ID, orderID).Scan(&exists)
	return exists, err
}

const listActive = `
SELECT order_id, order_type, edition_id, seats, begin_at, end_at, period_days, status, received_at
FROM billing_orders
WHERE channel = $1 AND tenant_id = $2 AND status = 'active'`

type orderRow struct {
	OrderID    string    `db:"order_id"`
	OrderType  string    `db:"order_type"`
	EditionID  string    `db:"edition_id"`
	Seats      int       `db:"seats"`
	BeginAt    time.Time `db:"begin_at"`
	EndAt      time.Time `db:"end_at"`
	PeriodDays int       `db:"period_days"`
	Status     string    `db:"status"`
	ReceivedAt time.Time `db:"received_at"`
}

func (s *Store) ListActive(ctx context.Context, tenant billing.Tenant) ([]billing.Order, error) {
	rows, err := s.db.Query(ctx, listActive, string(tenant.Channel), tenant.ID)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[orderRow])
	if err != nil {
		return nil, err
	}

	orders := make([]billing.Order, 0, len(records))
	for _, r := range records {
		orders = append(orders, billing.Order{
			ID:         r.OrderID,
			Tenant:     tenant,
			Type:       billing.OrderType(r.OrderType),
			EditionID:  r.EditionID,
			Seats:      r.Seats,
			BeginAt:    r.BeginAt.UTC(),
			EndAt:      r.EndAt.UTC(),
			PeriodDays: r.PeriodDays,
			Status:     billing.OrderStatus(r.Status),
			ReceivedAt: r.ReceivedAt.UTC(),
		})
	}
	return orders, nil
}

const getTrial = `
SELECT edition_id, granted_at, expires_at, unlimited
FROM billing_trials
WHERE channel = $1 AND tenant_id = $2`

func (s *Store) GetTrial(ctx context.Context, tenant billing.Tenant) (billing.TrialGrant, error) {
	grant := billing.TrialGrant{Tenant: tenant}
	err := s.db.QueryRow(ctx, getTrial, string(tenant.Channel), tenant.ID).
		Scan(&grant.EditionID, &grant.GrantedAt, &grant.ExpiresAt, &grant.Unlimited)
	if pg.IsNotFoundError(err) {
		return billing.TrialGrant{}, billing.ErrTrialNotFound
	}
	if err != nil {
		return billing.TrialGrant{}, err
	}
	grant.GrantedAt = grant.GrantedAt.UTC()
	grant.ExpiresAt = grant.ExpiresAt.UTC()
	return grant, nil
}

const saveTrial = `
WITH written AS (
    INSERT INTO billing_trials (channel, tenant_id, edition_id, granted_at, expires_at, unlimited, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, now())
    ON CONFLICT (channel, tenant_id) DO UPDATE SET
        edition_id = EXCLUDED.edition_id,
        granted_at = EXCLUDED.granted_at,
        expires_at = EXCLUDED.expires_at,
        unlimited  = EXCLUDED.unlimited,
        updated_at = now()
    RETURNING 1
)` + bumpRevision

func (s *Store) SaveTrial(ctx context.Context, grant billing.TrialGrant) error {
	if grant.Tenant.IsZero() {
		return errors.Join(billing.ErrInvalidTenant, errors.New("trial grant without tenant"))
	}
	_, err := s.db.Exec(ctx, saveTrial,
		string(grant.Tenant.Channel), grant.Tenant.ID, grant.EditionID,
		grant.GrantedAt.UTC(), grant.ExpiresAt.UTC(), grant.Unlimited,
	)
	return err
}

const revision = `
SELECT revision FROM billing_revisions
WHERE channel = $1 AND tenant_id = $2`

func (s *Store) Revision(ctx context.Context, tenant billing.Tenant) (int64, error) {
	var rev int64
	err := s.db.QueryRow(ctx, revision, string(tenant.Channel), tenant.ID).Scan(&rev)
	if pg.IsNotFoundError(err) {
		return 0, nil
	}
	return rev, err
}
