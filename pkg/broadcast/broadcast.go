package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broadcaster fans values out to in-process subscribers.
// Slow consumers lose values instead of blocking the publisher.
// All methods are safe for concurrent use.
type Broadcaster[T any] struct {
	subscribers map[*Subscription[T]]struct{}
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
	mu          sync.RWMutex
	cleanupWg   sync.WaitGroup
}

// New creates a broadcaster. Each subscriber gets a buffer of bufferSize values
// (at least one).
func New[T any](bufferSize int) *Broadcaster[T] {
	return &Broadcaster[T]{
		subscribers: make(map[*Subscription[T]]struct{}),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscribe registers a subscriber that lives until ctx is done or Close is called.
// Subscribing to a closed broadcaster returns an already closed subscription.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, b.bufferSize), stop: make(chan struct{})}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.close()
		return sub
	}
	b.subscribers[sub] = struct{}{}
	sub.cancel = func() { b.unsubscribe(sub) }

	if ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			select {
			case <-ctx.Done():
				b.unsubscribe(sub)
			case <-sub.stop:
			}
		}()
	}
	return sub
}

// Publish delivers v to every subscriber with free buffer space and counts the rest
// as dropped. Returns the number of subscribers that received the value.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	delivered := 0
	for sub := range b.subscribers {
		if sub.send(v) {
			delivered++
		} else {
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber buffer was full.
func (b *Broadcaster[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription. Safe to call multiple times.
func (b *Broadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.close()
	}
	clear(b.subscribers)
	b.mu.Unlock()

	b.cleanupWg.Wait()
	return nil
}

func (b *Broadcaster[T]) unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	sub.close()
}

// Subscription receives published values on C until it is closed.
type Subscription[T any] struct {
	ch     chan T
	closed bool
	stop   chan struct{}
	cancel func()
	mu     sync.RWMutex
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close ends the subscription. Idempotent.
func (s *Subscription[T]) Close() error {
	if s.cancel != nil {
		s.cancel()
		return nil
	}
	s.close()
	return nil
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		close(s.stop)
		s.closed = true
	}
}

func (s *Subscription[T]) send(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}
