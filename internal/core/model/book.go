// Package model 定义套利引擎中使用的核心数据结构。
// 包含交易对标识、订单簿深度、深度快照、订单、余额与机会信号等类型。
package model

// Venue 交易所标识常量（与交易对标识的前缀一致）
const (
	// VenueOKX OKX 交易所
	VenueOKX = "OKX"
	// VenueBinance Binance 交易所
	VenueBinance = "Binance"
)

// Level 订单簿深度档位
// 表示某一价格档位的价格和数量
type Level struct {
	// Price 价格
	Price float64 `json:"price"`
	// Qty 数量
	Qty float64 `json:"qty"`
}

// BookEvent 统一订单簿事件结构
// 归一化各交易所推送的深度数据，以交易对标识（如 OKX_BTC_USDT）为 key 参与快照拼装
type BookEvent struct {
	// Instrument 交易对标识，如 OKX_BTC_USDT
	Instrument string `json:"instrument"`
	// Bids 买盘档位，按价格降序（Bids[0] 为买一）
	Bids []Level `json:"bids"`
	// Asks 卖盘档位，按价格升序（Asks[0] 为卖一）
	Asks []Level `json:"asks"`
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	ArrivedAtUnixNs int64 `json:"arrived_at_unix_ns"`
	// ExchTsUnixMs 交易所事件时间戳（毫秒），无则为 0
	ExchTsUnixMs int64 `json:"exch_ts_unix_ms,omitempty"`
}

// BestBid 返回买一档位；无买盘时返回零值
func (b *BookEvent) BestBid() Level {
	if b == nil || len(b.Bids) == 0 {
		return Level{}
	}
	return b.Bids[0]
}

// BestAsk 返回卖一档位；无卖盘时返回零值
func (b *BookEvent) BestAsk() Level {
	if b == nil || len(b.Asks) == 0 {
		return Level{}
	}
	return b.Asks[0]
}

// IsValid 检查订单簿是否可用
// 可用条件: 买一价与卖一价都严格大于 0
func (b *BookEvent) IsValid() bool {
	return b != nil && b.BestBid().Price > 0 && b.BestAsk().Price > 0
}

// Clone 创建 BookEvent 的深拷贝
func (b *BookEvent) Clone() *BookEvent {
	clone := *b
	if b.Bids != nil {
		clone.Bids = make([]Level, len(b.Bids))
		copy(clone.Bids, b.Bids)
	}
	if b.Asks != nil {
		clone.Asks = make([]Level, len(b.Asks))
		copy(clone.Asks, b.Asks)
	}
	return &clone
}

// Snapshot 单次轮询周期的深度快照（只读）
// key 为交易对标识。快照一旦交给策略即视为不可变。
type Snapshot map[string]*BookEvent

// Usable 判断快照是否包含全部所需交易对且买一/卖一价均为正
// 任一交易对缺失或价格非正，整个 tick 都应跳过（fail closed）。
func (s Snapshot) Usable(instruments ...string) bool {
	for _, inst := range instruments {
		if !s[inst].IsValid() {
			return false
		}
	}
	return true
}

// Book 获取指定交易对的订单簿，不存在返回 nil
func (s Snapshot) Book(instrument string) *BookEvent {
	return s[instrument]
}
