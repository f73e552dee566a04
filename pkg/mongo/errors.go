package mongo

import "errors"

var (
	// ErrMissingURL is returned when MONGODB_URL is empty.
	ErrMissingURL = errors.New("mongo: MONGODB_URL is required for the mongo store backend")
	// ErrMissingDatabase is returned when MONGODB_DATABASE is empty.
	ErrMissingDatabase = errors.New("mongo: MONGODB_DATABASE is required")
	// ErrNotReady wraps the last connect or ping failure.
	ErrNotReady = errors.New("mongo: server did not answer ping")
	// ErrUnhealthy is reported by the readiness check.
	ErrUnhealthy = errors.New("mongo: ledger store unreachable")
)
