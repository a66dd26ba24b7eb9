// Package okx 定义 OKX 现货行情消息类型。
package okx

// SubscribeRequest OKX 订阅请求
type SubscribeRequest struct {
	// Op 操作类型: subscribe, unsubscribe
	Op string `json:"op"`
	// Args 订阅参数列表
	Args []SubscribeArg `json:"args"`
}

// SubscribeArg 订阅参数
type SubscribeArg struct {
	// Channel 频道名称: books5
	Channel string `json:"channel"`
	// InstId 交易对 ID: BTC-USDT
	InstId string `json:"instId"`
}

// SubscribeResponse OKX 订阅响应
type SubscribeResponse struct {
	// Event 事件类型: subscribe, error
	Event string `json:"event"`
	// Arg 订阅参数
	Arg *SubscribeArg `json:"arg,omitempty"`
	// Code 错误码
	Code string `json:"code,omitempty"`
	// Msg 错误消息
	Msg string `json:"msg,omitempty"`
}

// Books5Message OKX books5 频道消息
type Books5Message struct {
	// Arg 订阅参数
	Arg SubscribeArg `json:"arg"`
	// Data 深度数据列表
	Data []Books5Data `json:"data"`
}

// Books5Data OKX books5 深度数据
// bids/asks 格式: [[价格, 数量, 废弃, 订单数], ...]，ts 为毫秒字符串
type Books5Data struct {
	// Bids 买盘深度
	Bids [][]string `json:"bids"`
	// Asks 卖盘深度
	Asks [][]string `json:"asks"`
	// Ts 交易所时间戳（毫秒字符串）
	Ts string `json:"ts"`
	// InstId 交易对 ID（部分推送不带，使用 arg.instId）
	InstId string `json:"instId,omitempty"`
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
	// WsRttMs WebSocket RTT（毫秒）
	WsRttMs int64 `json:"ws_rtt_ms"`
}
