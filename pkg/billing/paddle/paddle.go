package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

// Channel is the default channel id of the payment provider.
const Channel billing.Channel = "paddle"

// SignatureHeader carries the provider webhook signature.
const SignatureHeader = "Paddle-Signature"

// Notification event types.
const (
	EventTransactionCompleted = "transaction.completed"
	EventAdjustmentCreated    = "adjustment.created"
	EventAdjustmentUpdated    = "adjustment.updated"
	EventSubscriptionTrialing = "subscription.trialing"
)

// Transaction origins that map to non-new order types.
const (
	originSubscriptionRecurring = "subscription_recurring"
	originSubscriptionUpdate    = "subscription_update"
)

// Custom data keys set by the checkout integration.
const (
	customEditionID     = "edition_id"
	customEditionChange = "edition_change"
)

// Config configures the classifier.
type Config struct {
	Channel          billing.Channel // defaults to Channel
	WebhookSecret    string          // notification destination secret key
	SkipVerification bool            // sandbox mode: accept unsigned payloads
}

// Classifier parses provider notifications into billing events.
// The tenant id is the provider customer id, the only key present on
// transactions, subscriptions and adjustments alike.
type Classifier struct {
	cfg      Config
	verifier *paddle.WebhookVerifier
	now      func() time.Time
}

var _ billing.Classifier = (*Classifier)(nil)

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock sets the time source used when a notification has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a classifier. A webhook secret is required unless verification is skipped.
func New(cfg Config, opts ...Option) (*Classifier, error) {
	if cfg.Channel == "" {
		cfg.Channel = Channel
	}
	if cfg.WebhookSecret == "" && !cfg.SkipVerification {
		return nil, errors.New("paddle webhook secret is required")
	}
	c := &Classifier{cfg: cfg, now: time.Now}
	if cfg.WebhookSecret != "" {
		c.verifier = paddle.NewWebhookVerifier(cfg.WebhookSecret)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Classifier) Channel() billing.Channel { return c.cfg.Channel }

type notification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type item struct {
	PriceID string `json:"price_id"`
	Price   *struct {
		ID string `json:"id"`
	} `json:"price"`
	Quantity   int     `json:"quantity"`
	TrialDates *period `json:"trial_dates"`
}

func (i item) priceID() string {
	if i.Price != nil && i.Price.ID != "" {
		return i.Price.ID
	}
	return i.PriceID
}

type period struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type transaction struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	CustomerID    string            `json:"customer_id"`
	Origin        string            `json:"origin"`
	CustomData    paddle.CustomData `json:"custom_data"`
	Items         []item            `json:"items"`
	BillingPeriod *period           `json:"billing_period"`
}

type adjustment struct {
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type subscription struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	CustomerID string            `json:"customer_id"`
	CustomData paddle.CustomData `json:"custom_data"`
	Items      []item            `json:"items"`
	StartedAt  time.Time         `json:"started_at"`
}

func (c *Classifier) Parse(ctx context.Context, payload []byte, signature string) (billing.Event, error) {
	if err := c.verify(ctx, payload, signature); err != nil {
		return nil, err
	}

	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, errors.Join(billing.ErrMalformedEvent, err)
	}
	if len(n.Data) == 0 && n.EventType != "" {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("notification data is required"))
	}

	switch n.EventType {
	case EventTransactionCompleted:
		return c.transaction(n)
	case EventAdjustmentCreated, EventAdjustmentUpdated:
		return c.adjustment(n)
	case EventSubscriptionTrialing:
		return c.trial(n)
	case "":
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("event_type is required"))
	}
	return nil, fmt.Errorf("%w: %s", billing.ErrUnsupportedEvent, n.EventType)
}

func (c *Classifier) verify(ctx context.Context, payload []byte, signature string) error {
	if c.cfg.SkipVerification || c.verifier == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(SignatureHeader, signature)

	valid, err := c.verifier.Verify(req)
	if err != nil {
		return errors.Join(billing.ErrInvalidSignature, err)
	}
	if !valid {
		return errors.Join(billing.ErrInvalidSignature, errors.New("webhook signature verification failed"))
	}
	return nil
}

func (c *Classifier) transaction(n notification) (billing.Event, error) {
	var tx transaction
	if err := json.Unmarshal(n.Data, &tx); err != nil {
		return nil, errors.Join(billing.ErrMalformedEvent, err)
	}
	if len(tx.Items) == 0 {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("transaction has no items"))
	}
	if tx.BillingPeriod == nil {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("billing_period is required"))
	}

	first := tx.Items[0]
	edition := customString(tx.CustomData, customEditionID)
	if edition == "" {
		edition = first.priceID()
	}

	order := billing.Order{
		ID:        tx.ID,
		Tenant:    billing.Tenant{Channel: c.cfg.Channel, ID: tx.CustomerID},
		Type:      orderType(tx.Origin, customBool(tx.CustomData, customEditionChange)),
		EditionID: edition,
		Seats:     first.Quantity,
		BeginAt:   tx.BillingPeriod.StartsAt.UTC(),
		EndAt:     tx.BillingPeriod.EndsAt.UTC(),
		Status:    billing.OrderStatusActive,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return &billing.OrderPaidEvent{Order: order}, nil
}

func (c *Classifier) adjustment(n notification) (billing.Event, error) {
	var adj adjustment
	if err := json.Unmarshal(n.Data, &adj); err != nil {
		return nil, errors.Join(billing.ErrMalformedEvent, err)
	}
	if adj.Action != "refund" {
		return nil, fmt.Errorf("%w: adjustment action %q", billing.ErrUnsupportedEvent, adj.Action)
	}
	if adj.Status != "approved" {
		// pending and rejected refunds leave the order in force
		return nil, fmt.Errorf("%w: refund status %q", billing.ErrUnsupportedEvent, adj.Status)
	}
	if adj.TransactionID == "" || adj.CustomerID == "" {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("refund requires transaction_id and customer_id"))
	}
	return &billing.OrderRefundEvent{
		Tenant:     billing.Tenant{Channel: c.cfg.Channel, ID: adj.CustomerID},
		OrderID:    adj.TransactionID,
		RefundedAt: c.instant(adj.UpdatedAt, n.OccurredAt),
	}, nil
}

func (c *Classifier) trial(n notification) (billing.Event, error) {
	var sub subscription
	if err := json.Unmarshal(n.Data, &sub); err != nil {
		return nil, errors.Join(billing.ErrMalformedEvent, err)
	}
	if len(sub.Items) == 0 || sub.Items[0].TrialDates == nil || sub.Items[0].TrialDates.EndsAt.IsZero() {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("trialing subscription requires item trial_dates"))
	}
	first := sub.Items[0]
	edition := customString(sub.CustomData, customEditionID)
	if edition == "" {
		edition = first.priceID()
	}

	grant, err := billing.NewTrialGrant(
		billing.Tenant{Channel: c.cfg.Channel, ID: sub.CustomerID},
		edition,
		c.instant(first.TrialDates.StartsAt, sub.StartedAt, n.OccurredAt),
		first.TrialDates.EndsAt,
		false,
	)
	if err != nil {
		return nil, err
	}
	return &billing.TrialGrantedEvent{Grant: grant}, nil
}

func orderType(origin string, editionChange bool) billing.OrderType {
	switch origin {
	case originSubscriptionRecurring:
		return billing.OrderTypeRenew
	case originSubscriptionUpdate:
		if editionChange {
			return billing.OrderTypeChangeEdition
		}
		return billing.OrderTypeUpgrade
	}
	return billing.OrderTypeNew
}

func customString(data paddle.CustomData, key string) string {
	v, _ := data[key].(string)
	return strings.TrimSpace(v)
}

func customBool(data paddle.CustomData, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// instant returns the first non-zero time, or the current time.
func (c *Classifier) instant(candidates ...time.Time) time.Time {
	for _, t := range candidates {
		if !t.IsZero() {
			return t.UTC()
		}
	}
	return c.now().UTC()
}
