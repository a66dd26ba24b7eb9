package model

import (
	"fmt"
	"strings"
)

// Instrument 解析后的交易对标识
// 标识格式: Venue_BASE_QUOTE，如 Bitfinex_BTC_USD、Binance_ETH_BTC
type Instrument struct {
	// ID 原始标识
	ID string
	// Venue 交易所
	Venue string
	// Base 基础币种（被买卖的币）
	Base string
	// Quote 计价币种
	Quote string
}

// ParseInstrument 解析交易对标识
func ParseInstrument(id string) (Instrument, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Instrument{}, fmt.Errorf("无效的交易对标识 '%s'，格式应为 Venue_BASE_QUOTE", id)
	}
	return Instrument{
		ID:    id,
		Venue: parts[0],
		Base:  strings.ToUpper(parts[1]),
		Quote: strings.ToUpper(parts[2]),
	}, nil
}

// MustParseInstrument 解析交易对标识，失败时 panic
// 仅用于测试与已校验过的配置。
func MustParseInstrument(id string) Instrument {
	inst, err := ParseInstrument(id)
	if err != nil {
		panic(err)
	}
	return inst
}

func (i Instrument) String() string {
	return i.ID
}
