package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

// Default collection names.
const (
	OrdersCollection    = "billing_orders"
	TrialsCollection    = "billing_trials"
	RevisionsCollection = "billing_revisions"
)

// Store is a billing.Store backed by MongoDB.
type Store struct {
	orders    *mongo.Collection
	trials    *mongo.Collection
	revisions *mongo.Collection
	now       func() time.Time
}

var _ billing.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCollections overrides the collection names. Empty names keep the defaults.
func WithCollections(db *mongo.Database, orders, trials, revisions string) Option {
	return func(s *Store) {
		if orders != "" {
			s.orders = db.Collection(orders)
		}
		if trials != "" {
			s.trials = db.Collection(trials)
		}
		if revisions != "" {
			s.revisions = db.Collection(revisions)
		}
	}
}

// WithClock sets the time source for refund timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store on db. Call EnsureIndexes once before serving traffic.
func New(db *mongo.Database, opts ...Option) *Store {
	if db == nil {
		panic("mongostore: database is required")
	}
	s := &Store{
		orders:    db.Collection(OrdersCollection),
		trials:    db.Collection(TrialsCollection),
		revisions: db.Collection(RevisionsCollection),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the unique indexes the ledger relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.orders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "tenant_id", Value: 1}, {Key: "order_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("tenant_order_unique"),
	}); err != nil {
		return err
	}
	tenantUnique := mongo.IndexModel{
		Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "tenant_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("tenant_unique"),
	}
	if _, err := s.trials.Indexes().CreateOne(ctx, tenantUnique); err != nil {
		return err
	}
	_, err := s.revisions.Indexes().CreateOne(ctx, tenantUnique)
	return err
}

type orderDoc struct {
	Channel    string     `bson:"channel"`
	TenantID   string     `bson:"tenant_id"`
	OrderID    string     `bson:"order_id"`
	Type       string     `bson:"order_type"`
	EditionID  string     `bson:"edition_id"`
	Seats      int        `bson:"seats"`
	BeginAt    time.Time  `bson:"begin_at"`
	EndAt      time.Time  `bson:"end_at"`
	PeriodDays int        `bson:"period_days"`
	Status     string     `bson:"status"`
	ReceivedAt time.Time  `bson:"received_at"`
	RefundedAt *time.Time `bson:"refunded_at,omitempty"`
}

type trialDoc struct {
	Channel   string    `bson:"channel"`
	TenantID  string    `bson:"tenant_id"`
	EditionID string    `bson:"edition_id"`
	GrantedAt time.Time `bson:"granted_at"`
	ExpiresAt time.Time `bson:"expires_at"`
	Unlimited bool      `bson:"unlimited"`
}

func tenantFilter(t billing.Tenant) bson.D {
	return bson.D{{Key: "channel", Value: string(t.Channel)}, {Key: "tenant_id", Value: t.ID}}
}

func (s *Store) Append(ctx context.Context, order billing.Order) error {
	status := order.Status
	if status == "" {
		status = billing.OrderStatusActive
	}
	receivedAt := order.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	_, err := s.orders.InsertOne(ctx, orderDoc{
		Channel:    string(order.Tenant.Channel),
		TenantID:   order.Tenant.ID,
		OrderID:    order.ID,
		Type:       string(order.Type),
		EditionID:  order.EditionID,
		Seats:      order.Seats,
		BeginAt:    order.BeginAt.UTC(),
		EndAt:      order.EndAt.UTC(),
		PeriodDays: order.PeriodDays,
		Status:     string(status),
		ReceivedAt: receivedAt.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return errors.Join(billing.ErrDuplicateOrder, s.bump(ctx, order.Tenant))
	}
	if err != nil {
		return err
	}
	return s.bump(ctx, order.Tenant)
}

func (s *Store) MarkRefunded(ctx context.Context, tenant billing.Tenant, orderID string) error {
	filter := append(tenantFilter(tenant), bson.E{Key: "order_id", Value: orderID})
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "status", Value: string(billing.OrderStatusRefunded)}}},
		{Key: "$min", Value: bson.D{{Key: "refunded_at", Value: s.now().UTC()}}},
	}
	res, err := s.orders.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return billing.ErrOrderNotFound
	}
	return s.bump(ctx, tenant)
}

func (s *Store) HasOrder(ctx context.Context, tenant billing.Tenant, orderID string) (bool, error) {
	filter := append(tenantFilter(tenant), bson.E{Key: "order_id", Value: orderID})
	n, err := s.orders.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *Store) ListActive(ctx context.Context, tenant billing.Tenant) ([]billing.Order, error) {
	filter := append(tenantFilter(tenant), bson.E{Key: "status", Value: string(billing.OrderStatusActive)})
	cur, err := s.orders.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	orders := make([]billing.Order, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, billing.Order{
			ID:         d.OrderID,
			Tenant:     tenant,
			Type:       billing.OrderType(d.Type),
			EditionID:  d.EditionID,
			Seats:      d.Seats,
			BeginAt:    d.BeginAt.UTC(),
			EndAt:      d.EndAt.UTC(),
			PeriodDays: d.PeriodDays,
			Status:     billing.OrderStatus(d.Status),
			ReceivedAt: d.ReceivedAt.UTC(),
		})
	}
	return orders, nil
}

func (s *Store) GetTrial(ctx context.Context, tenant billing.Tenant) (billing.TrialGrant, error) {
	var doc trialDoc
	err := s.trials.FindOne(ctx, tenantFilter(tenant)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return billing.TrialGrant{}, billing.ErrTrialNotFound
	}
	if err != nil {
		return billing.TrialGrant{}, err
	}
	return billing.TrialGrant{
		Tenant:    tenant,
		EditionID: doc.EditionID,
		GrantedAt: doc.GrantedAt.UTC(),
		ExpiresAt: doc.ExpiresAt.UTC(),
		Unlimited: doc.Unlimited,
	}, nil
}

func (s *Store) SaveTrial(ctx context.Context, grant billing.TrialGrant) error {
	if grant.Tenant.IsZero() {
		return errors.Join(billing.ErrInvalidTenant, errors.New("trial grant without tenant"))
	}
	doc := trialDoc{
		Channel:   string(grant.Tenant.Channel),
		TenantID:  grant.Tenant.ID,
		EditionID: grant.EditionID,
		GrantedAt: grant.GrantedAt.UTC(),
		ExpiresAt: grant.ExpiresAt.UTC(),
		Unlimited: grant.Unlimited,
	}
	if _, err := s.trials.ReplaceOne(ctx, tenantFilter(grant.Tenant), doc, options.Replace().SetUpsert(true)); err != nil {
		return err
	}
	return s.bump(ctx, grant.Tenant)
}

type revisionDoc struct {
	Revision int64 `bson:"revision"`
}

func (s *Store) Revision(ctx context.Context, tenant billing.Tenant) (int64, error) {
	var doc revisionDoc
	err := s.revisions.FindOne(ctx, tenantFilter(tenant)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	return doc.Revision, err
}

// bump follows the write it accounts for. Collections are not written in one
// transaction, so a redelivered duplicate bumps again to repair a lost bump.
func (s *Store) bump(ctx context.Context, tenant billing.Tenant) error {
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "revision", Value: int64(1)}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: s.now().UTC()}}},
	}
	_, err := s.revisions.UpdateOne(ctx, tenantFilter(tenant), update, options.UpdateOne().SetUpsert(true))
	return err
}
