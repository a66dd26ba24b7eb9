package model

// Direction 套利方向
type Direction string

const (
	// DirectionForward 正循环：买 base，卖两条腿（合成买一 > base 卖一）
	DirectionForward Direction = "forward"
	// DirectionReverse 逆循环：卖 base，买两条腿（base 买一 > 合成卖一）
	DirectionReverse Direction = "reverse"
)

// Reject 原因
const (
	// RejectTooSmall 可交易量低于交易所最小下单量
	RejectTooSmall = "too_small"
	// RejectInsufficientQuote 逆循环买腿所需计价币超过余额
	RejectInsufficientQuote = "insufficient_quote"
	// RejectNoProfit 扣费后无利润
	RejectNoProfit = "no_profit"
	// RejectCooldown 冷却期内
	RejectCooldown = "cooldown"
)

// Opportunity 单方向评估结果
// 所有 *Real 字段均为含手续费价格。
type Opportunity struct {
	// Kind 记录类型，固定为 opportunity
	Kind string `json:"kind"`
	// Strategy 策略实例名
	Strategy string `json:"strategy"`
	// Direction 方向
	Direction Direction `json:"direction"`

	// BasePx base 交易对参考价（正循环为卖一，逆循环为买一）
	BasePx float64 `json:"base_px"`
	// BasePxReal 含手续费的 base 价格
	BasePxReal float64 `json:"base_px_real"`
	// Leg1Px 第一条腿参考价
	Leg1Px float64 `json:"leg1_px"`
	// Leg1PxReal 含手续费的第一条腿价格
	Leg1PxReal float64 `json:"leg1_px_real"`
	// Leg2Px 第二条腿参考价
	Leg2Px float64 `json:"leg2_px"`
	// Leg2PxReal 含手续费的第二条腿价格
	Leg2PxReal float64 `json:"leg2_px_real"`

	// SyntheticPx 合成价（两腿之和，按精度取整）
	SyntheticPx float64 `json:"synthetic_px"`
	// SyntheticPxReal 含手续费的合成价（按精度取整）
	SyntheticPxReal float64 `json:"synthetic_px_real"`
	// Diff 不含手续费的价差
	Diff float64 `json:"diff"`
	// Edge 含手续费的单位价差
	Edge float64 `json:"edge"`

	// MarketSize 盘口深度允许的数量（已折半）
	MarketSize float64 `json:"market_size"`
	// BalanceSize 余额允许的数量（仅实盘）
	BalanceSize float64 `json:"balance_size,omitempty"`
	// Size 最终下单数量
	Size float64 `json:"size"`
	// Profit 预估利润 edge × size
	Profit float64 `json:"profit"`

	// RejectReason 拒绝原因，空表示可执行
	RejectReason string `json:"reject_reason,omitempty"`
	// Executed 是否进入下单流程
	Executed bool `json:"executed"`
	// TsUnixNs 评估时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
}

// Profitable 是否通过价格与数量检查
func (o *Opportunity) Profitable() bool {
	return o.RejectReason == ""
}
