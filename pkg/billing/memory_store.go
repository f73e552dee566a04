package billing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests, development and single-process
// deployments that can rebuild their ledger from vendor redelivery.
type MemoryStore struct {
	mu     sync.RWMutex
	orders    map[Tenant]map[string]Order
	trials    map[Tenant]TrialGrant
	revisions map[Tenant]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[Tenant]map[string]Order),
		trials:    make(map[Tenant]TrialGrant),
		revisions: make(map[Tenant]int64),
	}
}

func (m *MemoryStore) Append(ctx context.Context, order Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.orders[order.Tenant]
	if !ok {
		byID = make(map[string]Order)
		m.orders[order.Tenant] = byID
	}
	if _, exists := byID[order.ID]; exists {
		return ErrDuplicateOrder
	}
	if order.Status == "" {
		order.Status = OrderStatusActive
	}
	byID[order.ID] = order
	m.revisions[order.Tenant]++
	return nil
}

func (m *MemoryStore) MarkRefunded(ctx context.Context, tenant Tenant, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[tenant][orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = OrderStatusRefunded
	m.orders[tenant][orderID] = order
	m.revisions[tenant]++
	return nil
}

func (m *MemoryStore) HasOrder(ctx context.Context, tenant Tenant, orderID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.orders[tenant][orderID]
	return ok, nil
}

func (m *MemoryStore) ListActive(ctx context.Context, tenant Tenant) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Order, 0, len(m.orders[tenant]))
	for _, o := range m.orders[tenant] {
		if o.IsActive() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTrial(ctx context.Context, tenant Tenant) (TrialGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grant, ok := m.trials[tenant]
	if !ok {
		return TrialGrant{}, ErrTrialNotFound
	}
	return grant, nil
}

func (m *MemoryStore) SaveTrial(ctx context.Context, grant TrialGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trials[grant.Tenant] = grant
	m.revisions[grant.Tenant]++
	return nil
}

func (m *MemoryStore) Revision(ctx context.Context, tenant Tenant) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.revisions[tenant], nil
}
