package webhook

import "errors"

var (
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrSignatureExpired = errors.New("webhook: signature timestamp outside tolerance")
	ErrMissingSecret    = errors.New("webhook: secret is required")
	ErrInvalidURL       = errors.New("webhook: invalid URL")
	ErrInvalidPayload   = errors.New("webhook: invalid payload")
	ErrDeliveryFailed   = errors.New("webhook: delivery failed")
	ErrPermanentFailure = errors.New("webhook: permanent delivery failure")
	ErrCircuitOpen      = errors.New("webhook: circuit breaker is open")
)
