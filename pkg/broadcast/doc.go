// Package broadcast fans values out to in-process subscribers.
//
//	b := broadcast.New[billing.State](16)
//	defer b.Close()
//
//	sub := b.Subscribe(ctx)
//	for state := range sub.C() {
//		...
//	}
//
// Publish never blocks: when a subscriber buffer is full the value is dropped for
// that subscriber and counted by Dropped. Subscriptions end when their context is
// cancelled, when Close is called on them, or when the broadcaster is closed.
package broadcast
