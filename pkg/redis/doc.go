// Package redis connects to Redis with go-redis v9 and provides a distributed
// Locker for serializing work on one key across service instances.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	locker := redis.NewLocker(client, redis.WithLockTTL(time.Minute))
//
//	unlock, err := locker.Lock(ctx, "wecom:corp-1")
//	if err != nil {
//		return err
//	}
//	defer unlock()
//
// Locks expire after their TTL so a crashed holder cannot block a key forever.
// Keep the TTL above the longest expected critical section.
package redis
