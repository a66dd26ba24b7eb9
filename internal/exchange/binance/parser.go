// Package binance 实现 Binance 现货 depth5 组合流解析与 WebSocket 客户端。
// 流名称中的 symbol 经 metadata 映射为 Binance_BASE_QUOTE；depth5 快照不带事件时间。
package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/metadata"
	"synthetic-arbitrage-engine/internal/util/timeutil"
)

const (
	// depthSuffix 订阅流后缀
	depthSuffix = "@depth5@100ms"
	maxLevels   = 5
)

// StreamName 交易对的 depth5 流名称
func StreamName(symbol string) string {
	return strings.ToLower(symbol) + depthSuffix
}

// Parser Binance 消息解析器
type Parser struct {
	// instruments 小写 symbol -> 交易对标识
	instruments map[string]string
}

// NewParser 创建 Binance 消息解析器
// 参数 maps: Binance 交易对映射
func NewParser(maps []*metadata.SymbolMap) *Parser {
	index := make(map[string]string, len(maps))
	for _, m := range maps {
		index[strings.ToLower(m.VenueSymbol)] = m.ID
	}
	return &Parser{instruments: index}
}

// Parse 解析组合流消息
// 订阅响应与未订阅的交易对返回空结果。
func (p *Parser) Parse(data []byte) ([]*model.BookEvent, error) {
	arrivedAt := timeutil.NowNano()

	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Binance 消息失败: %w", err)
	}
	if msg.Stream == "" {
		return nil, nil
	}

	symbol, _, _ := strings.Cut(msg.Stream, "@")
	id, ok := p.instruments[strings.ToLower(symbol)]
	if !ok {
		return nil, nil
	}

	bids, err := parseLevels(msg.Data.Bids)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 买盘失败: %w", symbol, err)
	}
	asks, err := parseLevels(msg.Data.Asks)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 卖盘失败: %w", symbol, err)
	}

	return []*model.BookEvent{{
		Instrument:      id,
		Bids:            bids,
		Asks:            asks,
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

func parseLevels(raw [][]string) ([]model.Level, error) {
	n := min(len(raw), maxLevels)
	levels := make([]model.Level, 0, n)
	for _, lv := range raw[:n] {
		if len(lv) < 2 {
			return nil, fmt.Errorf("档位字段不足: %v", lv)
		}
		px, err := strconv.ParseFloat(lv[0], 64)
		if err != nil {
			return nil, fmt.Errorf("价格 %q: %w", lv[0], err)
		}
		qty, err := strconv.ParseFloat(lv[1], 64)
		if err != nil {
			return nil, fmt.Errorf("数量 %q: %w", lv[1], err)
		}
		levels = append(levels, model.Level{Price: px, Qty: qty})
	}
	return levels, nil
}
