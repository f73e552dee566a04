package wecom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	"github.com/dmitrymomot/seatledger/pkg/webhook"
)

// Channel is the default channel id of the marketplace.
const Channel billing.Channel = "wecom"

// Callback info types.
const (
	InfoTypePaid          = "pay_for_app_success"
	InfoTypeRefund        = "refund"
	InfoTypeCreateAuth    = "create_auth"
	InfoTypeChangeAuth    = "change_auth"
	InfoTypeChangeEdition = "change_edition"
)

// Order type flags of paid orders.
const (
	orderTypeNew           = 0
	orderTypeUpgrade       = 1 // seat expansion
	orderTypeRenew         = 2
	orderTypeChangeEdition = 3
)

// Application statuses carried by authorization callbacks.
const (
	AppStatusTrial          = 1
	AppStatusTrialExpired   = 2
	AppStatusUnlimitedTrial = 5
)

// Config configures the classifier.
type Config struct {
	Channel          billing.Channel // defaults to Channel
	SuiteID          string          // when set, callbacks of other suites are rejected
	Secret           string          // when set, payloads must carry a webhook signature
	SkipVerification bool            // sandbox mode: accept unsigned payloads
	Tolerance        time.Duration   // signature timestamp tolerance
}

// Classifier parses marketplace callbacks, already decrypted by the intake gateway,
// into billing events.
type Classifier struct {
	cfg Config
	now func() time.Time
}

var _ billing.Classifier = (*Classifier)(nil)

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock sets the time source for signature checks and missing callback timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a classifier.
func New(cfg Config, opts ...Option) *Classifier {
	if cfg.Channel == "" {
		cfg.Channel = Channel
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	c := &Classifier{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) Channel() billing.Channel { return c.cfg.Channel }

type envelope struct {
	InfoType  string         `json:"info_type"`
	SuiteID   string         `json:"suite_id"`
	Timestamp int64          `json:"timestamp"`
	Order     *orderPayload  `json:"order"`
	Refund    *refundPayload `json:"refund"`
	Auth      *authPayload   `json:"auth"`
}

type orderPayload struct {
	OrderID     string `json:"order_id"`
	PaidCorpID  string `json:"paid_corp_id"`
	OrderType   *int   `json:"order_type"`
	EditionID   string `json:"edition_id"`
	UserCount   int    `json:"user_count"`
	OrderPeriod int    `json:"order_period"`
	BeginTime   int64  `json:"begin_time"`
	EndTime     int64  `json:"end_time"`
	PaidTime    int64  `json:"paid_time"`
}

type refundPayload struct {
	OrderID    string `json:"order_id"`
	PaidCorpID string `json:"paid_corp_id"`
	RefundTime int64  `json:"refund_time"`
}

type authPayload struct {
	AuthCorpID  string `json:"auth_corp_id"`
	EditionID   string `json:"edition_id"`
	AppStatus   int    `json:"app_status"`
	ExpiredTime int64  `json:"expired_time"`
}

func (c *Classifier) Parse(ctx context.Context, payload []byte, signature string) (billing.Event, error) {
	if err := c.verify(payload, signature); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(billing.ErrMalformedEvent, err)
	}
	if c.cfg.SuiteID != "" && env.SuiteID != c.cfg.SuiteID {
		return nil, errors.Join(billing.ErrInvalidSignature, fmt.Errorf("callback for suite %q", env.SuiteID))
	}

	switch env.InfoType {
	case InfoTypePaid:
		return c.paid(env)
	case InfoTypeRefund:
		return c.refund(env)
	case InfoTypeCreateAuth, InfoTypeChangeAuth, InfoTypeChangeEdition:
		return c.trial(env)
	case "":
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("info_type is required"))
	}
	return nil, fmt.Errorf("%w: %s", billing.ErrUnsupportedEvent, env.InfoType)
}

func (c *Classifier) verify(payload []byte, signature string) error {
	if c.cfg.Secret == "" || c.cfg.SkipVerification {
		return nil
	}
	if err := webhook.Verify(c.cfg.Secret, payload, signature, c.now(), c.cfg.Tolerance); err != nil {
		return errors.Join(billing.ErrInvalidSignature, err)
	}
	return nil
}

func (c *Classifier) paid(env envelope) (billing.Event, error) {
	o := env.Order
	if o == nil {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("order is required"))
	}
	if o.OrderType == nil {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("order_type is required"))
	}
	typ, err := orderType(*o.OrderType)
	if err != nil {
		return nil, err
	}
	if o.BeginTime <= 0 || o.EndTime <= 0 {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("begin_time and end_time are required"))
	}

	order := billing.Order{
		ID:         o.OrderID,
		Tenant:     billing.Tenant{Channel: c.cfg.Channel, ID: o.PaidCorpID},
		Type:       typ,
		EditionID:  o.EditionID,
		Seats:      o.UserCount,
		BeginAt:    unix(o.BeginTime),
		EndAt:      unix(o.EndTime),
		PeriodDays: o.OrderPeriod,
		Status:     billing.OrderStatusActive,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return &billing.OrderPaidEvent{Order: order}, nil
}

func (c *Classifier) refund(env envelope) (billing.Event, error) {
	r := env.Refund
	if r == nil || r.OrderID == "" || r.PaidCorpID == "" {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("refund requires order_id and paid_corp_id"))
	}
	refundedAt := c.instant(r.RefundTime, env.Timestamp)
	return &billing.OrderRefundEvent{
		Tenant:     billing.Tenant{Channel: c.cfg.Channel, ID: r.PaidCorpID},
		OrderID:    r.OrderID,
		RefundedAt: refundedAt,
	}, nil
}

func (c *Classifier) trial(env envelope) (billing.Event, error) {
	a := env.Auth
	if a == nil {
		return nil, errors.Join(billing.ErrMalformedEvent, errors.New("auth is required"))
	}
	tenant := billing.Tenant{Channel: c.cfg.Channel, ID: a.AuthCorpID}
	grantedAt := c.instant(env.Timestamp)

	var (
		grant billing.TrialGrant
		err   error
	)
	switch a.AppStatus {
	case AppStatusUnlimitedTrial:
		grant, err = billing.NewTrialGrant(tenant, a.EditionID, grantedAt, time.Time{}, true)
	case AppStatusTrial:
		if a.ExpiredTime <= 0 {
			return nil, errors.Join(billing.ErrMalformedEvent, errors.New("expired_time is required for timed trials"))
		}
		grant, err = billing.NewTrialGrant(tenant, a.EditionID, grantedAt, unix(a.ExpiredTime), false)
	case AppStatusTrialExpired:
		expiredAt := grantedAt
		if a.ExpiredTime > 0 {
			expiredAt = unix(a.ExpiredTime)
		}
		grant, err = billing.NewTrialGrant(tenant, a.EditionID, grantedAt, expiredAt, false)
	default:
		// purchase statuses are driven by paid orders
		return nil, fmt.Errorf("%w: app_status %d", billing.ErrUnsupportedEvent, a.AppStatus)
	}
	if err != nil {
		return nil, err
	}
	return &billing.TrialGrantedEvent{Grant: grant}, nil
}

func orderType(flag int) (billing.OrderType, error) {
	switch flag {
	case orderTypeNew:
		return billing.OrderTypeNew, nil
	case orderTypeUpgrade:
		return billing.OrderTypeUpgrade, nil
	case orderTypeRenew:
		return billing.OrderTypeRenew, nil
	case orderTypeChangeEdition:
		return billing.OrderTypeChangeEdition, nil
	}
	return "", errors.Join(billing.ErrMalformedEvent, fmt.Errorf("unknown order_type %d", flag))
}

// instant returns the first positive unix timestamp, or the current time.
func (c *Classifier) instant(candidates ...int64) time.Time {
	for _, ts := range candidates {
		if ts > 0 {
			return unix(ts)
		}
	}
	return c.now().UTC()
}

func unix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
