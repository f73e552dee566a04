package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds the caller's token,
// so an expired lock taken over by another instance is never released by mistake.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a distributed mutual exclusion keyed by string.
// Each lock is a SET NX PX entry holding a random token.
type Locker struct {
	client         redis.UniversalClient
	prefix         string
	ttl            time.Duration
	retryInterval  time.Duration
	releaseTimeout time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockPrefix sets the key prefix. Default: "billing:lock:".
func WithLockPrefix(prefix string) LockerOption {
	return func(l *Locker) { l.prefix = prefix }
}

// WithLockTTL bounds how long a crashed holder can block others. Default: 30s.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryInterval sets the polling interval while the lock is held elsewhere. Default: 25ms.
func WithRetryInterval(d time.Duration) LockerOption {
	return func(l *Locker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// NewLocker creates a locker on client.
func NewLocker(client redis.UniversalClient, opts ...LockerOption) *Locker {
	if client == nil {
		panic("redis: client is required")
	}
	l := &Locker{
		client:         client,
		prefix:         "billing:lock:",
		ttl:            30 * time.Second,
		retryInterval:  25 * time.Millisecond,
		releaseTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until the lock for key is taken or ctx is done.
// The returned release function is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
			}
			return nil, errors.Join(ErrLockFailed, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retryInterval):
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.releaseTimeout)
			defer cancel()
			// an expired lock simply returns 0
			_ = releaseScript.Run(ctx, l.client, []string{name}, token).Err()
		})
	}
	return release, nil
}
