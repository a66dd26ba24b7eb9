// Package binance 定义 Binance 现货行情消息类型。
package binance

// SubscribeRequest Binance WebSocket 订阅请求
type SubscribeRequest struct {
	// Method 订阅方法: SUBSCRIBE
	Method string `json:"method"`
	// Params 订阅参数列表，如 "ethbtc@depth5@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// StreamMessage 组合流消息
// 形如 {"stream":"ethbtc@depth5@100ms","data":{...}}
type StreamMessage struct {
	// Stream 流名称
	Stream string `json:"stream"`
	// Data 流数据
	Data PartialDepth `json:"data"`
	// ID 订阅响应的请求 ID（行情消息为 0）
	ID int64 `json:"id"`
}

// PartialDepth 有限档深度快照（depth5）
type PartialDepth struct {
	// LastUpdateID 最后更新 ID
	LastUpdateID int64 `json:"lastUpdateId"`
	// Bids 买盘档位 [[价格, 数量], ...]
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位 [[价格, 数量], ...]
	Asks [][]string `json:"asks"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64 `json:"parse_error_count"`
	// DroppedCount 通道已满被丢弃的事件数
	DroppedCount int64 `json:"dropped_count"`
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64 `json:"updates_per_sec"`
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
}
