package metadata

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"synthetic-arbitrage-engine/internal/config"
	"synthetic-arbitrage-engine/internal/core/model"
)

// BuildSymbolMaps 构建交易对映射表
// 只映射有行情源的交易所（OKX、Binance），其余交易所的交易对被忽略。
// 对应交易所的元数据地址为空时按命名规则直接生成订阅符号，最小下单量记为 0。
// 参数 ctx: 上下文
// 参数 cfg: 配置
// 参数 f: 元数据获取器
// 返回: 映射表（key 为交易对标识）
func BuildSymbolMaps(ctx context.Context, cfg *config.Config, f Fetcher) (map[string]*SymbolMap, error) {
	var (
		okxIndex     map[string]*OKXInstrument
		binanceIndex map[string]*BinanceSymbol
	)

	result := make(map[string]*SymbolMap)
	for _, id := range cfg.Instruments() {
		inst, err := model.ParseInstrument(id)
		if err != nil {
			return nil, err
		}

		switch inst.Venue {
		case model.VenueOKX:
			if cfg.Metadata.OKX == "" {
				result[id] = okxDefault(inst)
				continue
			}
			if okxIndex == nil {
				insts, err := f.FetchOKX(ctx, cfg.Metadata.OKX)
				if err != nil {
					return nil, fmt.Errorf("获取 OKX 元数据失败: %w", err)
				}
				okxIndex = buildOKXIndex(insts)
			}
			m, ok := okxIndex[okxSymbol(inst)]
			if !ok {
				return nil, fmt.Errorf("OKX 未找到交易对: %s", id)
			}
			result[id] = okxMapping(inst, m)

		case model.VenueBinance:
			if cfg.Metadata.Binance == "" {
				result[id] = binanceDefault(inst)
				continue
			}
			if binanceIndex == nil {
				syms, err := f.FetchBinance(ctx, cfg.Metadata.Binance)
				if err != nil {
					return nil, fmt.Errorf("获取 Binance 元数据失败: %w", err)
				}
				binanceIndex = buildBinanceIndex(syms)
			}
			s, ok := binanceIndex[strings.ToUpper(inst.Base+inst.Quote)]
			if !ok {
				return nil, fmt.Errorf("Binance 未找到交易对: %s", id)
			}
			result[id] = binanceMapping(inst, s)
		}
	}
	return result, nil
}

// ByVenue 筛选指定交易所的映射（按交易对标识排序）
func ByVenue(maps map[string]*SymbolMap, venue string) []*SymbolMap {
	out := make([]*SymbolMap, 0, len(maps))
	for _, m := range maps {
		if m.Venue == venue {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyMinAmounts 用交易所最小下单量补全策略的按交易对覆盖值
// 已显式配置的值不会被覆盖。
func ApplyMinAmounts(cfg *config.Config, maps map[string]*SymbolMap) {
	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		for _, id := range s.Instruments() {
			m, ok := maps[id]
			if !ok || m.MinSize <= 0 {
				continue
			}
			if _, set := s.MinAmounts[id]; set {
				continue
			}
			if s.MinAmounts == nil {
				s.MinAmounts = make(map[string]float64)
			}
			s.MinAmounts[id] = m.MinSize
		}
	}
}

// buildOKXIndex 以 instId 为 key 索引可交易现货
func buildOKXIndex(insts []OKXInstrument) map[string]*OKXInstrument {
	index := make(map[string]*OKXInstrument)
	for i := range insts {
		inst := &insts[i]
		if inst.IsLiveSpot() {
			index[strings.ToUpper(inst.InstId)] = inst
		}
	}
	return index
}

// buildBinanceIndex 以大写 symbol 为 key 索引可交易现货
func buildBinanceIndex(syms []BinanceSymbol) map[string]*BinanceSymbol {
	index := make(map[string]*BinanceSymbol)
	for i := range syms {
		sym := &syms[i]
		if sym.IsTrading() {
			index[strings.ToUpper(sym.Symbol)] = sym
		}
	}
	return index
}

// okxSymbol OKX_BTC_USDT -> BTC-USDT
func okxSymbol(inst model.Instrument) string {
	return inst.Base + "-" + inst.Quote
}

// binanceSymbol Binance_ETH_BTC -> ethbtc（订阅流名称使用小写）
func binanceSymbol(inst model.Instrument) string {
	return strings.ToLower(inst.Base + inst.Quote)
}

func okxDefault(inst model.Instrument) *SymbolMap {
	return &SymbolMap{
		ID:          inst.ID,
		Venue:       inst.Venue,
		Base:        inst.Base,
		Quote:       inst.Quote,
		VenueSymbol: okxSymbol(inst),
	}
}

func okxMapping(inst model.Instrument, m *OKXInstrument) *SymbolMap {
	out := okxDefault(inst)
	out.VenueSymbol = m.InstId
	out.MinSize = parseOr(m.MinSz, 0)
	out.TickSize = parseOr(m.TickSz, 0)
	return out
}

func binanceDefault(inst model.Instrument) *SymbolMap {
	return &SymbolMap{
		ID:          inst.ID,
		Venue:       inst.Venue,
		Base:        inst.Base,
		Quote:       inst.Quote,
		VenueSymbol: binanceSymbol(inst),
	}
}

func binanceMapping(inst model.Instrument, s *BinanceSymbol) *SymbolMap {
	out := binanceDefault(inst)
	out.VenueSymbol = strings.ToLower(s.Symbol)
	if f := s.filter("LOT_SIZE"); f != nil {
		out.MinSize = parseOr(f.MinQty, 0)
	}
	if f := s.filter("PRICE_FILTER"); f != nil {
		out.TickSize = parseOr(f.TickSize, 0)
	}
	return out
}

func parseOr(s string, def float64) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}
