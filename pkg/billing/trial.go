package billing

import (
	"errors"
	"time"
)

// UnlimitedTrialYears is the vendor convention for "unlimited" trial grants:
// the expiry is set this many years after the grant instead of leaving it open.
const UnlimitedTrialYears = 100

// TrialGrant is a vendor-issued, time-bounded free access authorization.
// A tenant has at most one; a newer grant replaces the previous one.
type TrialGrant struct {
	Tenant    Tenant
	EditionID string
	GrantedAt time.Time
	ExpiresAt time.Time
	Unlimited bool
}

// NewTrialGrant builds a grant from a vendor authorization.
// Unlimited grants ignore expiresAt and expire UnlimitedTrialYears after grantedAt.
func NewTrialGrant(tenant Tenant, editionID string, grantedAt, expiresAt time.Time, unlimited bool) (TrialGrant, error) {
	if tenant.IsZero() {
		return TrialGrant{}, errors.Join(ErrMalformedEvent, errors.New("trial tenant is required"))
	}
	if grantedAt.IsZero() {
		return TrialGrant{}, errors.Join(ErrMalformedEvent, errors.New("trial grant time is required"))
	}
	grant := TrialGrant{
		Tenant:    tenant,
		EditionID: editionID,
		GrantedAt: grantedAt.UTC(),
		Unlimited: unlimited,
	}
	if unlimited {
		grant.ExpiresAt = grant.GrantedAt.AddDate(UnlimitedTrialYears, 0, 0)
		return grant, nil
	}
	if expiresAt.IsZero() {
		return TrialGrant{}, errors.Join(ErrMalformedEvent, errors.New("trial expiry is required for limited trials"))
	}
	grant.ExpiresAt = expiresAt.UTC()
	return grant, nil
}

// ActiveAt reports whether the grant still provides access at now.
func (g TrialGrant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}
