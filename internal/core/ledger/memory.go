package ledger

import (
	"context"
	"fmt"
	"sync"

	"synthetic-arbitrage-engine/internal/core/model"
)

// Memory 进程内账本（默认实现）
type Memory struct {
	mu     sync.Mutex
	orders map[model.Side]map[string]model.Order
}

// NewMemory 创建空的内存账本
func NewMemory() *Memory {
	return &Memory{
		orders: map[model.Side]map[string]model.Order{
			model.SideBuy:  {},
			model.SideSell: {},
		},
	}
}

func (m *Memory) Add(_ context.Context, order model.Order) error {
	if !order.Side.Valid() || order.ID == "" {
		return fmt.Errorf("ledger: invalid order side=%q id=%q", order.Side, order.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.Side][order.ID] = order
	return nil
}

func (m *Memory) Update(_ context.Context, order model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.orders[order.Side]
	if !ok {
		return ErrNotFound
	}
	if _, ok := part[order.ID]; !ok {
		return ErrNotFound
	}
	part[order.ID] = order
	return nil
}

func (m *Memory) Remove(_ context.Context, side model.Side, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	part, ok := m.orders[side]
	if !ok {
		return ErrNotFound
	}
	if _, ok := part[id]; !ok {
		return ErrNotFound
	}
	delete(part, id)
	return nil
}

func (m *Memory) List(_ context.Context, side model.Side) ([]model.Order, error) {
	m.mu.Lock()
	part := m.orders[side]
	out := make([]model.Order, 0, len(part))
	for _, o := range part {
		out = append(out, o)
	}
	m.mu.Unlock()

	sortOrders(out)
	return out, nil
}

func (m *Memory) Len(_ context.Context, side model.Side) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders[side]), nil
}
