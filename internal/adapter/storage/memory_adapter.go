package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// MemoryAdapter keeps orders and inventory in process memory. The conditional
// decrement runs under the adapter lock.
type MemoryAdapter struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]domain.Order
	inventory map[uuid.UUID]domain.InventoryItem
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		orders:    make(map[uuid.UUID]domain.Order),
		inventory: make(map[uuid.UUID]domain.InventoryItem),
	}
}

func (m *MemoryAdapter) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	c := order.Clone()
	return &c, nil
}

func (m *MemoryAdapter) InsertOrderIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return false, nil
	}
	m.orders[order.ID] = order.Clone()
	return true, nil
}

func (m *MemoryAdapter) ReplaceOrder(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; !ok {
		return fmt.Errorf("replace order %s: %w", order.ID, ErrNotFound)
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *MemoryAdapter) FindItem(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.inventory[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inventory[item.ID]; ok {
		return fmt.Errorf("create item %s: %w", item.ID, ErrDuplicateID)
	}
	m.inventory[item.ID] = item
	return nil
}

func (m *MemoryAdapter) ConditionalDecrement(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.inventory[id]
	if !ok || item.AvailableQuantity < quantity {
		return false, nil
	}
	item.AvailableQuantity -= quantity
	m.inventory[id] = item
	return true, nil
}

// UpdateItem mutates a stored item outside the reservation path, e.g. a price
// change made by another system.
func (m *MemoryAdapter) UpdateItem(id uuid.UUID, mutate func(*domain.InventoryItem)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.inventory[id]
	if !ok {
		return false
	}
	mutate(&item)
	m.inventory[id] = item
	return true
}

func (m *MemoryAdapter) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}
