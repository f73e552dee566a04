// Package cache provides a generic, thread-safe LRU cache with optional per-entry expiry.
//
// The billing service keeps derived subscription states here: entries are written with
// PutUntil when the state is only valid until a known instant (the end of a trial) and
// with Put otherwise. Writers remove or overwrite an entry whenever the underlying data
// changes, so the expiry only covers changes caused by the passage of time.
//
//	c := cache.NewLRUCache[string, billing.State](10_000)
//	c.PutUntil(key, state, trialEnd)
//	if st, ok := c.Get(key); ok {
//		return st
//	}
//
// The clock can be replaced with SetClock so that expiry follows an injected time source.
package cache
