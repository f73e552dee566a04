package redis

import "errors"

var (
	// ErrMissingURL is returned when REDIS_URL is empty.
	ErrMissingURL = errors.New("redis: REDIS_URL is required for the redis lock backend")
	// ErrInvalidURL wraps a REDIS_URL that go-redis cannot parse.
	ErrInvalidURL = errors.New("redis: invalid REDIS_URL")
	// ErrNotReady is returned when no ping succeeds within the connect attempts.
	ErrNotReady = errors.New("redis: server did not answer ping")
	// ErrUnhealthy is reported by the readiness check.
	ErrUnhealthy = errors.New("redis: lock backend unreachable")
	// ErrLockNotAcquired is returned when a tenant lock stays held elsewhere until ctx ends.
	ErrLockNotAcquired = errors.New("redis: tenant lock not acquired")
	// ErrLockFailed wraps a failed SET NX of a tenant lock.
	ErrLockFailed = errors.New("redis: tenant lock command failed")
)
