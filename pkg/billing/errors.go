package billing

import "errors"

var (
	ErrMalformedEvent   = errors.New("billing: malformed vendor event")
	ErrInvalidSignature = errors.New("billing: webhook signature verification failed")
	ErrUnknownChannel   = errors.New("billing: unknown channel")
	ErrUnsupportedEvent = errors.New("billing: unsupported event kind")
	ErrInvalidTenant    = errors.New("billing: tenant channel and id are required")

	ErrDuplicateOrder = errors.New("billing: order already recorded")
	ErrOrderNotFound  = errors.New("billing: order not found")
	ErrTrialNotFound  = errors.New("billing: trial grant not found")
	ErrStoreFailure   = errors.New("billing: store operation failed")

	ErrCatalogLookup = errors.New("billing: catalog lookup failed")
	ErrPlanNotFound  = errors.New("billing: plan not found")

	ErrLockTimeout = errors.New("billing: tenant lock not acquired")
)

// IsAcknowledged reports whether err still allows acknowledging the delivery to the vendor.
// Redelivered paid events and refunds for orders never recorded are not failures of the
// engine and must not trigger vendor retries.
func IsAcknowledged(err error) bool {
	return err == nil || errors.Is(err, ErrDuplicateOrder) || errors.Is(err, ErrOrderNotFound)
}

// IsRetryable reports whether the vendor should redeliver the event later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCatalogLookup) || errors.Is(err, ErrStoreFailure) || errors.Is(err, ErrLockTimeout)
}

// Outcome classifies the result of handling an event for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateOrder):
		return "duplicate"
	case errors.Is(err, ErrOrderNotFound):
		return "unknown_order"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUnknownChannel):
		return "unknown_channel"
	case errors.Is(err, ErrUnsupportedEvent):
		return "unsupported"
	case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrInvalidTenant):
		return "malformed"
	case IsRetryable(err):
		return "retry"
	default:
		return "error"
	}
}
