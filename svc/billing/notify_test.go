package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	svc "github.com/dmitrymomot/seatledger/svc/billing"
)

type recordingSender struct {
	mu     sync.Mutex
	events []string
	views  []svc.StateView
	err    error
}

func (s *recordingSender) Notify(_ context.Context, event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if v, ok := data.(svc.StateView); ok {
		s.views = append(s.views, v)
	}
	return s.err
}

func (s *recordingSender) delivered() []svc.StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]svc.StateView(nil), s.views...)
}

func state(id, plan string) billing.State {
	return billing.State{
		Tenant:     billing.Tenant{Channel: "wecom", ID: id},
		PlanID:     plan,
		ComputedAt: now,
	}
}

func TestAsyncNotifier(t *testing.T) {
	t.Parallel()

	t.Run("delivers queued states", func(t *testing.T) {
		t.Parallel()
		sender := &recordingSender{}
		n := svc.NewAsyncNotifier(sender, 4, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- n.Run(ctx) }()

		require.NoError(t, n.Publish(ctx, state("corp-1", "pro-10-12m")))
		require.NoError(t, n.Publish(ctx, state("corp-2", "wecom-free")))

		require.Eventually(t, func() bool { return len(sender.delivered()) == 2 }, time.Second, 5*time.Millisecond)
		views := sender.delivered()
		assert.Equal(t, "corp-1", views[0].TenantID)
		assert.Equal(t, "free", views[1].Tier)
		assert.Equal(t, []string{svc.StateEvent, svc.StateEvent}, sender.events)

		cancel()
		assert.NoError(t, <-done)
	})

	t.Run("drops when queue is full", func(t *testing.T) {
		t.Parallel()
		dropped := 0
		n := svc.NewAsyncNotifier(&recordingSender{}, 1, nil, func() { dropped++ })

		require.NoError(t, n.Publish(context.Background(), state("corp-1", "a")))
		err := n.Publish(context.Background(), state("corp-1", "b"))
		assert.ErrorIs(t, err, svc.ErrNotifyQueueFull)
		assert.Equal(t, 1, dropped)
	})

	t.Run("delivery failures do not stop the worker", func(t *testing.T) {
		t.Parallel()
		sender := &recordingSender{err: errors.New("endpoint down")}
		n := svc.NewAsyncNotifier(sender, 4, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = n.Run(ctx) }()

		require.NoError(t, n.Publish(ctx, state("corp-1", "a")))
		require.NoError(t, n.Publish(ctx, state("corp-1", "b")))
		require.Eventually(t, func() bool { return len(sender.delivered()) == 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("nil sender panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { svc.NewAsyncNotifier(nil, 1, nil, nil) })
	})
}
