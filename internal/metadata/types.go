// Package metadata 负责从交易所获取现货交易对元数据，
// 把 Venue_BASE_QUOTE 交易对标识映射到各交易所的订阅符号与最小下单量。
package metadata

// OKXResponse OKX 现货交易对元数据 API 响应
// API: GET /api/v5/public/instruments?instType=SPOT
type OKXResponse struct {
	// Code 响应码，"0" 表示成功
	Code string `json:"code"`
	// Msg 错误信息
	Msg string `json:"msg"`
	// Data 交易对列表
	Data []OKXInstrument `json:"data"`
}

// OKXInstrument OKX 现货交易对信息
type OKXInstrument struct {
	// InstId 交易对 ID，如 BTC-USDT
	InstId string `json:"instId"`
	// InstType 产品类型: SPOT
	InstType string `json:"instType"`
	// BaseCcy 基础币种，如 BTC
	BaseCcy string `json:"baseCcy"`
	// QuoteCcy 计价币种，如 USDT
	QuoteCcy string `json:"quoteCcy"`
	// TickSz 最小价格变动单位
	TickSz string `json:"tickSz"`
	// LotSz 数量步长
	LotSz string `json:"lotSz"`
	// MinSz 最小下单数量
	MinSz string `json:"minSz"`
	// State 状态: live, suspend, preopen
	State string `json:"state"`
}

// IsLiveSpot 是否为可交易的现货交易对
func (i *OKXInstrument) IsLiveSpot() bool {
	return i.InstType == "SPOT" && i.State == "live"
}

// BinanceResponse Binance 现货元数据 API 响应
// API: GET /api/v3/exchangeInfo
type BinanceResponse struct {
	// Timezone 服务器时区
	Timezone string `json:"timezone"`
	// ServerTime 服务器时间
	ServerTime int64 `json:"serverTime"`
	// Symbols 交易对列表
	Symbols []BinanceSymbol `json:"symbols"`
}

// BinanceSymbol Binance 现货交易对信息
type BinanceSymbol struct {
	// Symbol 交易对，如 ETHBTC
	Symbol string `json:"symbol"`
	// Status 交易对状态: TRADING, BREAK
	Status string `json:"status"`
	// BaseAsset 基础币种，如 ETH
	BaseAsset string `json:"baseAsset"`
	// QuoteAsset 计价币种，如 BTC
	QuoteAsset string `json:"quoteAsset"`
	// Filters 过滤器列表
	Filters []BinanceFilter `json:"filters"`
}

// BinanceFilter Binance 过滤器
type BinanceFilter struct {
	// FilterType 过滤器类型: PRICE_FILTER, LOT_SIZE 等
	FilterType string `json:"filterType"`
	// TickSize 价格步长（PRICE_FILTER）
	TickSize string `json:"tickSize,omitempty"`
	// StepSize 数量步长（LOT_SIZE）
	StepSize string `json:"stepSize,omitempty"`
	// MinQty 最小数量（LOT_SIZE）
	MinQty string `json:"minQty,omitempty"`
}

// IsTrading 是否可交易
func (s *BinanceSymbol) IsTrading() bool {
	return s.Status == "TRADING"
}

// filter 按类型查找过滤器
func (s *BinanceSymbol) filter(kind string) *BinanceFilter {
	for i := range s.Filters {
		if s.Filters[i].FilterType == kind {
			return &s.Filters[i]
		}
	}
	return nil
}

// SymbolMap 交易对映射
// 一个 Venue_BASE_QUOTE 标识对应一个交易所订阅符号。
type SymbolMap struct {
	// ID 交易对标识，如 OKX_BTC_USDT
	ID string
	// Venue 交易所
	Venue string
	// Base 基础币种
	Base string
	// Quote 计价币种
	Quote string
	// VenueSymbol 交易所订阅符号: OKX 为 BTC-USDT，Binance 为 ethbtc
	VenueSymbol string
	// MinSize 交易所最小下单量，未知为 0
	MinSize float64
	// TickSize 价格步长，未知为 0
	TickSize float64
}
