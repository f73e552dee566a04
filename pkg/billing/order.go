package billing

import (
	"errors"
	"fmt"
	"time"
)

// Order is one paid vendor order recorded in the ledger.
// Business fields are immutable once appended; only Status changes.
type Order struct {
	ID         string
	Tenant     Tenant
	Type       OrderType
	EditionID  string
	Seats      int
	BeginAt    time.Time
	EndAt      time.Time
	PeriodDays int // vendor-supplied period; derived from the window when zero
	Status     OrderStatus
	ReceivedAt time.Time
}

// Days returns the order period in days, preferring the vendor value.
// Partial days of the begin/end span count as a full day.
func (o Order) Days() int {
	if o.PeriodDays > 0 {
		return o.PeriodDays
	}
	span := o.EndAt.Sub(o.BeginAt)
	if span <= 0 {
		return 0
	}
	days := int(span / (24 * time.Hour))
	if span%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// IsActive reports whether the order still counts for projection.
func (o Order) IsActive() bool {
	return o.Status == "" || o.Status == OrderStatusActive
}

// Validate checks the invariants a paid order must satisfy before it is appended.
func (o Order) Validate() error {
	var errs []error
	if o.ID == "" {
		errs = append(errs, errors.New("order id is required"))
	}
	if o.Tenant.IsZero() {
		errs = append(errs, errors.New("tenant channel and id are required"))
	}
	if !o.Type.Valid() {
		errs = append(errs, fmt.Errorf("unknown order type %q", o.Type))
	}
	if o.Type != OrderTypeRenew && o.EditionID == "" {
		errs = append(errs, errors.New("edition id is required"))
	}
	if o.Seats < 0 || (o.Type != OrderTypeRenew && o.Seats == 0) {
		errs = append(errs, fmt.Errorf("invalid seat count %d", o.Seats))
	}
	if o.BeginAt.IsZero() || o.EndAt.IsZero() {
		errs = append(errs, errors.New("begin and end time are required"))
	} else if !o.EndAt.After(o.BeginAt) {
		errs = append(errs, fmt.Errorf("end time %s is not after begin time %s", o.EndAt, o.BeginAt))
	}
	if o.PeriodDays < 0 {
		errs = append(errs, fmt.Errorf("negative order period %d", o.PeriodDays))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrMalformedEvent}, errs...)...)
	}
	return nil
}
