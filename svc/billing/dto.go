package billing

import (
	"time"

	"github.com/dmitrymomot/seatledger/pkg/billing"
)

// StateView is the wire form of a subscription state, used by the HTTP API and
// downstream notifications.
type StateView struct {
	Channel    string     `json:"channel"`
	TenantID   string     `json:"tenant_id"`
	Tier       string     `json:"tier"`
	PlanID     string     `json:"plan_id"`
	EditionID  string     `json:"edition_id,omitempty"`
	Seats      int        `json:"seats"`
	Deadline   *time.Time `json:"deadline"`
	OnTrial    bool       `json:"on_trial"`
	ComputedAt time.Time  `json:"computed_at"`
}

// NewStateView converts a state to its wire form.
func NewStateView(s billing.State) StateView {
	return StateView{
		Channel:    string(s.Tenant.Channel),
		TenantID:   s.Tenant.ID,
		Tier:       string(s.Tier()),
		PlanID:     s.PlanID,
		EditionID:  s.EditionID,
		Seats:      s.Seats,
		Deadline:   s.Deadline,
		OnTrial:    s.OnTrial,
		ComputedAt: s.ComputedAt,
	}
}

// WebhookResponse acknowledges a vendor delivery.
type WebhookResponse struct {
	Outcome string     `json:"outcome"`
	State   *StateView `json:"state,omitempty"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Outcome string `json:"outcome"`
}
