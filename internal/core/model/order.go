package model

import (
	"time"
)

// Side 订单方向
type Side string

const (
	// SideBuy 买入
	SideBuy Side = "buy"
	// SideSell 卖出
	SideSell Side = "sell"
)

// Valid 是否为合法方向
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus 交易所侧的订单状态
type OrderStatus string

const (
	// StatusOpen 挂单中（可能部分成交）
	StatusOpen OrderStatus = "OPEN"
	// StatusClosed 已完全成交
	StatusClosed OrderStatus = "CLOSED"
	// StatusCanceled 已撤销
	StatusCanceled OrderStatus = "CANCELED"
	// StatusUnknown 状态未知（查询超时/无响应）
	StatusUnknown OrderStatus = "UNKNOWN"
)

// Terminal 是否为终态
func (s OrderStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCanceled
}

// Order 策略本地记录的挂单（Order Ledger 条目）
// 只能由交易所查询结果更新，不做猜测。
type Order struct {
	// ID 交易所返回的订单号
	ID string `json:"id"`
	// Instrument 交易对标识
	Instrument string `json:"instrument"`
	// Side 方向
	Side Side `json:"side"`
	// Amount 委托数量
	Amount float64 `json:"amount"`
	// Price 委托价格
	Price float64 `json:"price"`
	// Filled 已成交数量（最近一次查询结果）
	Filled float64 `json:"filled"`
	// Status 最近一次查询到的状态
	Status OrderStatus `json:"status"`
	// CreatedAt 下单时间
	CreatedAt time.Time `json:"created_at"`
	// UnresolvedPasses 连续查询无果的对账轮次
	UnresolvedPasses int `json:"unresolved_passes,omitempty"`
}

// Remaining 未成交数量
func (o *Order) Remaining() float64 {
	return o.Amount - o.Filled
}

// OrderState 交易所查询返回的权威订单状态
type OrderState struct {
	// ID 订单号
	ID string `json:"id"`
	// Status 状态
	Status OrderStatus `json:"status"`
	// Amount 委托数量
	Amount float64 `json:"amount"`
	// DealAmount 已成交数量
	DealAmount float64 `json:"deal_amount"`
}

// Remaining 未成交数量
func (s *OrderState) Remaining() float64 {
	return s.Amount - s.DealAmount
}

// OrderAction 订单事件类型（用于日志与 journal 输出）
type OrderAction string

const (
	// ActionPlaced 新下单成功
	ActionPlaced OrderAction = "placed"
	// ActionPlaceFailed 下单失败（无订单号）
	ActionPlaceFailed OrderAction = "place_failed"
	// ActionResolved 已成交或已撤销，从账本移除
	ActionResolved OrderAction = "resolved"
	// ActionDust 剩余量低于最小下单量，视为完成
	ActionDust OrderAction = "dust"
	// ActionRepriced 撤单后按最新盘口重新下单
	ActionRepriced OrderAction = "repriced"
	// ActionAbandoned 撤单重试耗尽，放弃跟踪
	ActionAbandoned OrderAction = "abandoned"
	// ActionUnresolved 状态查询无果，保留待下轮重查
	ActionUnresolved OrderAction = "unresolved"
	// ActionDropped 状态查询无果，放弃跟踪
	ActionDropped OrderAction = "dropped"
)

// OrderEvent 订单生命周期事件（JSONL 输出）
type OrderEvent struct {
	// Kind 记录类型，固定为 order
	Kind string `json:"kind"`
	// Strategy 策略实例名
	Strategy string `json:"strategy"`
	// Action 事件类型
	Action OrderAction `json:"action"`
	// OrderID 订单号
	OrderID string `json:"order_id,omitempty"`
	// Instrument 交易对
	Instrument string `json:"instrument"`
	// Side 方向
	Side Side `json:"side"`
	// Amount 数量
	Amount float64 `json:"amount"`
	// Price 价格
	Price float64 `json:"price"`
	// TsUnixNs 事件时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
}
