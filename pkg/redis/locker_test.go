package redis_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/seatledger/pkg/redis"
)

func TestNewLockerPanicsWithoutClient(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { redis.NewLocker(nil) })
}

func TestConnectValidatesURL(t *testing.T) {
	t.Parallel()

	_, err := redis.Connect(context.Background(), redis.Config{})
	assert.ErrorIs(t, err, redis.ErrMissingURL)

	_, err = redis.Connect(context.Background(), redis.Config{ConnectionURL: "http://localhost"})
	assert.ErrorIs(t, err, redis.ErrInvalidURL)
}

// TestLockerIntegration runs against a live server when REDIS_TEST_URL is set.
func TestLockerIntegration(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL is not set")
	}

	client, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: url, RetryAttempts: 1, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := redis.NewLocker(client,
		redis.WithLockPrefix("test:"+uuid.NewString()+":"),
		redis.WithRetryInterval(5*time.Millisecond),
	)

	t.Run("mutual exclusion", func(t *testing.T) {
		var (
			inside  atomic.Int32
			overlap atomic.Bool
			wg      sync.WaitGroup
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				unlock, err := locker.Lock(ctx, "tenant")
				if !assert.NoError(t, err) {
					return
				}
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				unlock()
				unlock()
			}()
		}
		wg.Wait()
		assert.False(t, overlap.Load())
	})

	t.Run("context deadline", func(t *testing.T) {
		unlock, err := locker.Lock(context.Background(), "held")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(ctx, "held")
		assert.ErrorIs(t, err, redis.ErrLockNotAcquired)
	})
}
