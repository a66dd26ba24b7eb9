// Package ledger 实现策略实例的本地挂单账本（Order Ledger）。
// 账本按方向（buy/sell）分区，只记录本实例下过且尚未进入终态的订单。
// 账本非空时，策略不会评估新的套利机会。
package ledger

import (
	"context"
	"errors"
	"sort"

	"synthetic-arbitrage-engine/internal/core/model"
)

// ErrNotFound 订单不在账本中
var ErrNotFound = errors.New("ledger: order not found")

// Store 挂单账本
// 每个策略实例独占一个 Store，不跨实例共享。
type Store interface {
	// Add 记录新下的订单
	Add(ctx context.Context, order model.Order) error
	// Update 覆盖已有订单（按 Side + ID 定位），不存在返回 ErrNotFound
	Update(ctx context.Context, order model.Order) error
	// Remove 移除订单，不存在返回 ErrNotFound
	Remove(ctx context.Context, side model.Side, id string) error
	// List 列出指定方向的订单，按下单时间升序
	List(ctx context.Context, side model.Side) ([]model.Order, error)
	// Len 指定方向的订单数量
	Len(ctx context.Context, side model.Side) (int, error)
}

// sortOrders 按下单时间升序，时间相同按订单号
func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
