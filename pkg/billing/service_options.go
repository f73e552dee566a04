package billing

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the logger. The default discards records.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLocker replaces the in-process tenant locker, e.g. with a distributed one
// when several instances consume the same vendor stream.
func WithLocker(l Locker) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockTimeout bounds how long a handler waits for the tenant lock. Zero waits
// as long as the caller context allows.
func WithLockTimeout(d time.Duration) ServiceOption {
	return func(s *service) {
		if d >= 0 {
			s.lockTimeout = d
		}
	}
}

// WithLeaseTimeout bounds the work done while a tenant lock is held. With a
// lease-based locker it must be shorter than the lease, so a slow store call is
// cancelled before another instance can take the lock. Zero leaves it unbounded.
func WithLeaseTimeout(d time.Duration) ServiceOption {
	return func(s *service) {
		if d >= 0 {
			s.leaseTimeout = d
		}
	}
}

// WithPublisher adds a downstream publisher next to the built-in state feed.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *service) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithClassifier registers the classifier of a channel.
// Panics if a classifier for the same channel is already registered.
func WithClassifier(c Classifier) ServiceOption {
	return func(s *service) {
		if c != nil {
			s.registry.Register(c)
		}
	}
}

// WithClock pins the time source used for projections and cache expiry.
func WithClock(now Clock) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMonths sets the days-to-months conversion used for catalog lookups.
func WithMonths(fn MonthsFunc) ServiceOption {
	return func(s *service) {
		if fn != nil {
			s.months = fn
		}
	}
}

// WithCacheSize sets how many tenant states are kept in memory. Zero disables the cache.
func WithCacheSize(n int) ServiceOption {
	return func(s *service) {
		if n >= 0 {
			s.cacheSize = n
		}
	}
}

// WithFeedBuffer sets the per-subscriber buffer of the state feed.
func WithFeedBuffer(n int) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.feedBuffer = n
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) ServiceOption {
	return func(s *service) {
		if o != nil {
			s.observer = o
		}
	}
}
