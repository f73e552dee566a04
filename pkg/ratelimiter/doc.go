// Package ratelimiter throttles webhook intake with token buckets.
//
// A Bucket allows bursts up to Capacity and refills RefillRate tokens every
// RefillInterval. Buckets are kept per key in a Store; MemoryStore is the
// in-process implementation and sweeps idle buckets in the background.
//
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{
//		Capacity:       120,
//		RefillRate:     2,
//		RefillInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	r.Use(ratelimiter.Middleware(limiter, keyFunc, nil))
//
// Denied requests get 429 with Retry-After unless a custom handler is given.
package ratelimiter
