// Package okx 实现 OKX 现货 books5 行情解析与 WebSocket 客户端。
// 字段映射: instId -> Instrument（经 metadata 映射为 OKX_BASE_QUOTE），ts -> ExchTsUnixMs
package okx

import (
	"encoding/json"
	"fmt"
	"strconv"

	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/metadata"
	"synthetic-arbitrage-engine/internal/util/timeutil"
)

// maxLevels 每侧保留的最大档位数
const maxLevels = 5

// Parser OKX 消息解析器
type Parser struct {
	// instruments instId -> 交易对标识
	instruments map[string]string
}

// NewParser 创建 OKX 消息解析器
// 参数 maps: OKX 交易对映射
func NewParser(maps []*metadata.SymbolMap) *Parser {
	index := make(map[string]string, len(maps))
	for _, m := range maps {
		index[m.VenueSymbol] = m.ID
	}
	return &Parser{instruments: index}
}

// Parse 解析 OKX WebSocket 消息
// 非 books5 消息与未订阅的交易对返回空结果。
func (p *Parser) Parse(data []byte) ([]*model.BookEvent, error) {
	arrivedAt := timeutil.NowNano()

	var msg Books5Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 OKX 消息失败: %w", err)
	}
	if msg.Arg.Channel != "books5" || len(msg.Data) == 0 {
		return nil, nil
	}

	events := make([]*model.BookEvent, 0, len(msg.Data))
	for i := range msg.Data {
		d := &msg.Data[i]
		instId := d.InstId
		if instId == "" {
			instId = msg.Arg.InstId
		}
		id, ok := p.instruments[instId]
		if !ok {
			continue
		}

		bids, err := parseLevels(d.Bids)
		if err != nil {
			return nil, fmt.Errorf("解析 %s 买盘失败: %w", instId, err)
		}
		asks, err := parseLevels(d.Asks)
		if err != nil {
			return nil, fmt.Errorf("解析 %s 卖盘失败: %w", instId, err)
		}

		exchTs, err := strconv.ParseInt(d.Ts, 10, 64)
		if err != nil {
			exchTs = 0
		}

		events = append(events, &model.BookEvent{
			Instrument:      id,
			Bids:            bids,
			Asks:            asks,
			ArrivedAtUnixNs: arrivedAt,
			ExchTsUnixMs:    exchTs,
		})
	}
	return events, nil
}

// parseLevels 解析 [[价格, 数量, ...], ...]，最多保留 maxLevels 档
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

// IsSubscribeResponse 判断是否为订阅响应
func IsSubscribeResponse(data []byte) bool {
	var resp SubscribeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false
	}
	return resp.Event == "subscribe" || resp.Event == "error"
}

// IsPong 判断是否为 pong 响应
func IsPong(data []byte) bool {
	return string(data) == "pong"
}
