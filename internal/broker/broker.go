// Package broker 定义交易网关（Broker Gateway）契约及其路由、超时与时延包装。
// 网关调用可能超时且服务端结果未知，调用方负责重试与对账。
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"synthetic-arbitrage-engine/internal/core/model"
)

var (
	// ErrNoGateway 没有为交易所注册网关
	ErrNoGateway = errors.New("broker: no gateway for venue")
	// ErrUnknownOrder 交易所不认识该订单号
	ErrUnknownOrder = errors.New("broker: unknown order")
)

// Gateway 单个交易所的交易能力
type Gateway interface {
	// Venue 交易所标识（与交易对标识前缀一致）
	Venue() string
	// Balances 查询各币种可用余额
	Balances(ctx context.Context) (map[string]float64, error)
	// NewOrder 下限价单，成功返回订单号；失败即没有订单号
	NewOrder(ctx context.Context, instrument string, side model.Side, amount, price float64) (string, error)
	// GetOrder 查询订单权威状态；返回 nil 或 error 都视为状态未知
	GetOrder(ctx context.Context, orderID string) (*model.OrderState, error)
	// CancelOrder 撤单
	CancelOrder(ctx context.Context, orderID string) error
}

// Gateways 按交易所路由的网关集合
// 注册完成后只读，可被多个策略 goroutine 共享。
type Gateways struct {
	byVenue map[string]Gateway
}

// NewGateways 创建网关集合
func NewGateways(gws ...Gateway) *Gateways {
	g := &Gateways{byVenue: make(map[string]Gateway, len(gws))}
	for _, gw := range gws {
		g.byVenue[gw.Venue()] = gw
	}
	return g
}

// Venue 获取指定交易所的网关
func (g *Gateways) Venue(venue string) (Gateway, error) {
	if g != nil {
		if gw, ok := g.byVenue[venue]; ok {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoGateway, venue)
}

// For 获取交易对所在交易所的网关
func (g *Gateways) For(instrument string) (Gateway, error) {
	inst, err := model.ParseInstrument(instrument)
	if err != nil {
		return nil, err
	}
	return g.Venue(inst.Venue)
}

// Venues 已注册的交易所（按名称排序）
func (g *Gateways) Venues() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.byVenue))
	for v := range g.byVenue {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Balances 查询多个交易所的余额并合并
// 参数 venues: 为空时查询全部已注册交易所；重复项只查询一次
// 任一交易所查询失败即返回错误，余额不做部分使用。
func (g *Gateways) Balances(ctx context.Context, venues ...string) (model.Balances, error) {
	if len(venues) == 0 {
		venues = g.Venues()
	}

	out := make(model.Balances, len(venues))
	for _, venue := range venues {
		if _, done := out[venue]; done {
			continue
		}
		gw, err := g.Venue(venue)
		if err != nil {
			return nil, err
		}
		bal, err := gw.Balances(ctx)
		if err != nil {
			return nil, fmt.Errorf("查询 %s 余额失败: %w", venue, err)
		}
		cur := make(map[string]float64, len(bal))
		for ccy, v := range bal {
			cur[ccy] = v
		}
		out[venue] = cur
	}
	return out, nil
}
