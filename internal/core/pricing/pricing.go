// Package pricing 实现合成套利的定价与仓位计算。
// base 交易对与两条腿之和构成的合成价格之间，扣除手续费后的价差即为 edge。
// 本包只做纯计算，不触发任何网关调用。
package pricing

import (
	"github.com/shopspring/decimal"

	"synthetic-arbitrage-engine/internal/core/model"
)

// AmountPrecision 数量相关计算（余额、下单量）的固定精度
const AmountPrecision = 8

// Params 策略定价参数（由策略配置派生，不可变）
type Params struct {
	// Precision 价格比较精度（小数位）
	Precision int
	// FeeBase base 交易对手续费率
	FeeBase float64
	// FeeLeg1 第一条腿手续费率
	FeeLeg1 float64
	// FeeLeg2 第二条腿手续费率
	FeeLeg2 float64
	// MinAmountMarket 交易所最小下单量
	MinAmountMarket float64
	// MaxTradeAmount 单次最大交易量
	MaxTradeAmount float64
	// MinTradeAmount 单次交易量（实盘下单量上限与下限）
	MinTradeAmount float64
	// MonitorOnly 仅监控
	MonitorOnly bool
}

// Legs 策略涉及的三个交易对
type Legs struct {
	Base model.Instrument
	Leg1 model.Instrument
	Leg2 model.Instrument
}

// Quotes 当前快照中三个交易对的订单簿
type Quotes struct {
	Base *model.BookEvent
	Leg1 *model.BookEvent
	Leg2 *model.BookEvent
}

// QuotesFrom 从快照中取出三个交易对的订单簿
func QuotesFrom(snap model.Snapshot, legs Legs) Quotes {
	return Quotes{
		Base: snap.Book(legs.Base.ID),
		Leg1: snap.Book(legs.Leg1.ID),
		Leg2: snap.Book(legs.Leg2.ID),
	}
}

// Round 按小数位四舍五入
// 使用十进制运算，避免浮点误差产生虚假价差。
func Round(v float64, places int) float64 {
	return decimal.NewFromFloat(v).Round(int32(places)).InexactFloat64()
}

// RoundAmount 按数量精度（8 位）取整
func RoundAmount(v float64) float64 {
	return Round(v, AmountPrecision)
}

// Forward 正循环评估：买 base，卖两条腿
// bal 在 monitor_only 模式下可为 nil。
func Forward(p Params, legs Legs, q Quotes, bal model.Balances) model.Opportunity {
	baseAsk := q.Base.BestAsk()
	leg1Bid := q.Leg1.BestBid()
	leg2Bid := q.Leg2.BestBid()

	opp := model.Opportunity{
		Kind:       "opportunity",
		Direction:  model.DirectionForward,
		BasePx:     baseAsk.Price,
		BasePxReal: baseAsk.Price * (1 + p.FeeBase),
		Leg1Px:     leg1Bid.Price,
		Leg1PxReal: leg1Bid.Price * (1 - p.FeeLeg1),
		Leg2Px:     leg2Bid.Price,
		Leg2PxReal: leg2Bid.Price * (1 - p.FeeLeg2),
	}
	opp.SyntheticPx = Round(opp.Leg1Px+opp.Leg2Px, p.Precision)
	opp.SyntheticPxReal = Round(opp.Leg1PxReal+opp.Leg2PxReal, p.Precision)
	opp.Diff = Round(opp.SyntheticPx-opp.BasePx, p.Precision)
	opp.Edge = Round(opp.SyntheticPxReal-opp.BasePxReal, p.Precision)

	opp.MarketSize = marketSize(p, leg1Bid.Qty, leg2Bid.Qty, baseAsk.Qty)

	if p.MonitorOnly {
		opp.Size = opp.MarketSize
	} else {
		// 卖腿需持有两条腿的基础币；买 base 需持有 base 的计价币
		canSell := RoundAmount(min(
			bal.Available(legs.Leg1.Venue, legs.Leg1.Base),
			bal.Available(legs.Leg2.Venue, legs.Leg2.Base),
		))
		canBuy := RoundAmount(bal.Available(legs.Base.Venue, legs.Base.Quote) / opp.BasePxReal)
		opp.BalanceSize = RoundAmount(min(canBuy, canSell))
		opp.Size = min(opp.MarketSize, opp.BalanceSize, p.MinTradeAmount)
	}

	finish(p, &opp)
	return opp
}

// Reverse 逆循环评估：卖 base，买两条腿
// bal 在 monitor_only 模式下可为 nil。
func Reverse(p Params, legs Legs, q Quotes, bal model.Balances) model.Opportunity {
	baseBid := q.Base.BestBid()
	leg1Ask := q.Leg1.BestAsk()
	leg2Ask := q.Leg2.BestAsk()

	opp := model.Opportunity{
		Kind:       "opportunity",
		Direction:  model.DirectionReverse,
		BasePx:     baseBid.Price,
		BasePxReal: baseBid.Price * (1 - p.FeeBase),
		Leg1Px:     leg1Ask.Price,
		Leg1PxReal: leg1Ask.Price * (1 + p.FeeLeg1),
		Leg2Px:     leg2Ask.Price,
		Leg2PxReal: leg2Ask.Price * (1 + p.FeeLeg2),
	}
	opp.SyntheticPx = Round(opp.Leg1Px+opp.Leg2Px, p.Precision)
	opp.SyntheticPxReal = Round(opp.Leg1PxReal+opp.Leg2PxReal, p.Precision)
	opp.Diff = Round(opp.BasePx-opp.SyntheticPx, p.Precision)
	opp.Edge = Round(opp.BasePxReal-opp.SyntheticPxReal, p.Precision)

	opp.MarketSize = marketSize(p, leg1Ask.Qty, leg2Ask.Qty, baseBid.Qty)

	if p.MonitorOnly {
		opp.Size = opp.MarketSize
	} else {
		// 买腿需持有两条腿的计价币；卖 base 需持有 base 的基础币
		canBuy := min(
			RoundAmount(bal.Available(legs.Leg1.Venue, legs.Leg1.Quote)/opp.Leg1PxReal),
			RoundAmount(bal.Available(legs.Leg2.Venue, legs.Leg2.Quote)/opp.Leg2PxReal),
		)
		canSell := RoundAmount(bal.Available(legs.Base.Venue, legs.Base.Base))
		opp.BalanceSize = RoundAmount(min(canBuy, canSell))
		opp.Size = min(opp.MarketSize, opp.BalanceSize, p.MinTradeAmount)

		if opp.Size >= p.MinAmountMarket && !quoteCovered(legs, &opp, bal) {
			opp.RejectReason = model.RejectInsufficientQuote
			return opp
		}
	}

	finish(p, &opp)
	return opp
}

// marketSize 盘口允许的数量
// 1 个 base 对应每条腿各 1 个，取最稀缺的一侧，再折半作为对冲缓冲。
func marketSize(p Params, leg1Qty, leg2Qty, baseQty float64) float64 {
	return min(leg1Qty, leg2Qty, baseQty, p.MaxTradeAmount) / 2
}

// quoteCovered 检查两条买腿消耗的计价币是否超出对应余额
// 两条腿在同一交易所、同一计价币时合并计算。
func quoteCovered(legs Legs, opp *model.Opportunity, bal model.Balances) bool {
	type bucket struct{ venue, ccy string }
	spend := map[bucket]float64{}
	spend[bucket{legs.Leg1.Venue, legs.Leg1.Quote}] += opp.Size * opp.Leg1PxReal
	spend[bucket{legs.Leg2.Venue, legs.Leg2.Quote}] += opp.Size * opp.Leg2PxReal
	for b, total := range spend {
		if RoundAmount(total) > RoundAmount(bal.Available(b.venue, b.ccy)) {
			return false
		}
	}
	return true
}

// finish 数量与利润检查
func finish(p Params, opp *model.Opportunity) {
	opp.Profit = RoundAmount(opp.Edge * opp.Size)

	switch {
	case opp.Size < p.MinAmountMarket:
		opp.RejectReason = model.RejectTooSmall
	case !p.MonitorOnly && opp.Size < p.MinTradeAmount:
		// 实盘下单量固定为 min_trade_amount，深度或余额不足时放弃
		opp.RejectReason = model.RejectTooSmall
	case opp.Edge*opp.Size <= 0:
		opp.RejectReason = model.RejectNoProfit
	}
}
