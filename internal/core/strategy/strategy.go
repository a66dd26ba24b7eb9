// Package strategy 实现合成套利策略实例。
// 一个实例绑定一个 base 交易对和两条腿，按 tick 驱动：
// 先对账挂单，挂单清空后刷新余额，再依次评估正循环与逆循环。
// 所有可变状态（账本、冷却时间戳、skip 标记）归实例独占。
package strategy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"synthetic-arbitrage-engine/internal/broker"
	"synthetic-arbitrage-engine/internal/config"
	"synthetic-arbitrage-engine/internal/core/ledger"
	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/core/pricing"
	"synthetic-arbitrage-engine/internal/core/reconcile"
	"synthetic-arbitrage-engine/internal/util/timeutil"
)

// State 实例生命周期状态
type State int32

const (
	// StateUninitialized 已创建，尚未启动
	StateUninitialized State = iota
	// StateActive 运行中
	StateActive
	// StateTerminated 已终止（在 tick 边界生效）
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Journal 机会与订单事件输出（通常为 jsonl.Writer）
type Journal interface {
	Write(v any) error
}

// Observer 机会统计（通常为 edge.Tracker）
type Observer interface {
	Observe(opp model.Opportunity)
}

// Deps 实例依赖
type Deps struct {
	// Ledger 实例独占的挂单账本，为 nil 时使用内存账本
	Ledger ledger.Store
	// Gateways 交易网关；monitor_only 实例可为 nil
	Gateways *broker.Gateways
	// Reconcile 对账参数
	Reconcile reconcile.Config
	// Journal 事件输出，可为 nil
	Journal Journal
	// Observer 机会统计，可为 nil
	Observer Observer
	// Clock 时钟，为 nil 时使用系统时钟
	Clock timeutil.Clock
	// Logger 日志
	Logger *zap.Logger
}

// Instance 合成套利策略实例
// Tick 不可重入；生命周期方法可从任意 goroutine 调用。
type Instance struct {
	cfg    config.StrategyConfig
	legs   pricing.Legs
	params pricing.Params
	venues []string

	deps   Deps
	rec    *reconcile.Reconciler
	logger *zap.Logger

	state atomic.Int32

	// lastAttempt 最近一次通过冷却检查的时间（两个方向共用）
	lastAttempt time.Time
	// skip 本 tick 正循环已下单，跳过逆循环
	skip bool
}

// New 创建策略实例（UNINITIALIZED）
func New(cfg config.StrategyConfig, deps Deps) (*Instance, error) {
	var legs pricing.Legs
	var err error
	if legs.Base, err = model.ParseInstrument(cfg.Base); err != nil {
		return nil, fmt.Errorf("策略 %s base: %w", cfg.Name, err)
	}
	if legs.Leg1, err = model.ParseInstrument(cfg.Leg1); err != nil {
		return nil, fmt.Errorf("策略 %s leg1: %w", cfg.Name, err)
	}
	if legs.Leg2, err = model.ParseInstrument(cfg.Leg2); err != nil {
		return nil, fmt.Errorf("策略 %s leg2: %w", cfg.Name, err)
	}

	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemory()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Instance{
		cfg:  cfg,
		legs: legs,
		params: pricing.Params{
			Precision:       cfg.Precision,
			FeeBase:         cfg.FeeBase,
			FeeLeg1:         cfg.FeeLeg1,
			FeeLeg2:         cfg.FeeLeg2,
			MinAmountMarket: cfg.MinAmountMarket,
			MaxTradeAmount:  cfg.MaxTradeAmount,
			MinTradeAmount:  cfg.MinTradeAmount,
			MonitorOnly:     cfg.MonitorOnly,
		},
		venues: uniqueVenues(legs),
		deps:   deps,
		logger: deps.Logger.Named("strategy").With(zap.String("strategy", cfg.Name)),
	}
	s.rec = reconcile.New(cfg.Name, deps.Reconcile, reconcile.Deps{
		Ledger:    deps.Ledger,
		Gateways:  deps.Gateways,
		MinAmount: cfg.MinAmountFor,
		Journal:   deps.Journal,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
	})
	return s, nil
}

// Name 实例名称
func (s *Instance) Name() string {
	return s.cfg.Name
}

// Instruments 实例依赖的交易对
func (s *Instance) Instruments() []string {
	return s.cfg.Instruments()
}

// State 当前生命周期状态
func (s *Instance) State() State {
	return State(s.state.Load())
}

// Start UNINITIALIZED -> ACTIVE
func (s *Instance) Start() error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateActive)) {
		return fmt.Errorf("策略 %s 无法从 %s 启动", s.cfg.Name, s.State())
	}
	s.logger.Info("策略启动",
		zap.Strings("instruments", s.Instruments()),
		zap.Bool("monitor_only", s.cfg.MonitorOnly),
	)
	return nil
}

// Terminate 标记终止，当前 tick 结束后不再执行
func (s *Instance) Terminate() {
	if State(s.state.Swap(int32(StateTerminated))) != StateTerminated {
		s.logger.Info("策略终止")
	}
}

// Tick 处理一次深度快照
// 网关错误在内部处理（重试、放弃或跳过），返回的错误只用于日志。
func (s *Instance) Tick(ctx context.Context, snap model.Snapshot) error {
	if s.State() != StateActive {
		return nil
	}
	if !snap.Usable(s.Instruments()...) {
		s.logger.Debug("快照缺少交易对或价格无效，跳过本轮")
		return nil
	}

	for _, side := range []model.Side{model.SideSell, model.SideBuy} {
		pending, err := s.rec.Reconcile(ctx, side, snap)
		if err != nil {
			err = fmt.Errorf("%s 方向对账: %w", side, err)
		}
		if pending || err != nil {
			return err
		}
	}

	var bal model.Balances
	if !s.cfg.MonitorOnly {
		var err error
		bal, err = s.deps.Gateways.Balances(ctx, s.venues...)
		if err != nil {
			s.logger.Warn("刷新余额失败，跳过本轮", zap.Error(err))
			return nil
		}
	}

	quotes := pricing.QuotesFrom(snap, s.legs)
	s.skip = false
	s.forward(ctx, quotes, bal)
	if s.skip && !s.cfg.MonitorOnly {
		return nil
	}
	s.reverse(ctx, quotes, bal)
	return nil
}

// forward 正循环：卖 leg1 -> 卖 leg2 -> 买 base
func (s *Instance) forward(ctx context.Context, q pricing.Quotes, bal model.Balances) {
	opp := pricing.Forward(s.params, s.legs, q, bal)
	if !s.admit(&opp, time.Duration(s.cfg.ForwardCooldownMs)*time.Millisecond) {
		return
	}

	if !s.cfg.MonitorOnly {
		if s.place(ctx, s.legs.Leg1.ID, model.SideSell, opp.Size, opp.Leg1Px) &&
			s.place(ctx, s.legs.Leg2.ID, model.SideSell, opp.Size, opp.Leg2Px) {
			s.place(ctx, s.legs.Base.ID, model.SideBuy, pricing.RoundAmount(opp.Size*(1+s.cfg.FeeBase)), opp.BasePx)
		}
		opp.Executed = true
		s.skip = true
	}
	s.record(opp)
}

// reverse 逆循环：卖 base -> 买 leg1 + 买 leg2
func (s *Instance) reverse(ctx context.Context, q pricing.Quotes, bal model.Balances) {
	opp := pricing.Reverse(s.params, s.legs, q, bal)
	if !s.admit(&opp, time.Duration(s.cfg.ReverseCooldownMs)*time.Millisecond) {
		return
	}

	if !s.cfg.MonitorOnly {
		if s.place(ctx, s.legs.Base.ID, model.SideSell, opp.Size, opp.BasePx) {
			s.place(ctx, s.legs.Leg1.ID, model.SideBuy, pricing.RoundAmount(opp.Size*(1+s.cfg.FeeLeg1)), opp.Leg1Px)
			s.place(ctx, s.legs.Leg2.ID, model.SideBuy, pricing.RoundAmount(opp.Size*(1+s.cfg.FeeLeg2)), opp.Leg2Px)
			s.skip = true
		}
		opp.Executed = true
	}
	s.record(opp)
}

// admit 利润与冷却检查
// 通过时记录新的冷却基线（无论后续下单是否成功）。
func (s *Instance) admit(opp *model.Opportunity, cooldown time.Duration) bool {
	now := s.deps.Clock.Now()
	opp.Strategy = s.cfg.Name
	opp.TsUnixNs = now.UnixNano()

	if !opp.Profitable() {
		s.observe(*opp)
		return false
	}
	if since := now.Sub(s.lastAttempt); since < cooldown {
		opp.RejectReason = model.RejectCooldown
		s.logger.Debug("冷却期内，忽略机会",
			zap.String("direction", string(opp.Direction)),
			zap.Duration("since_last", since),
		)
		s.record(*opp)
		return false
	}

	s.lastAttempt = now
	s.logger.Info("发现套利机会",
		zap.String("direction", string(opp.Direction)),
		zap.Float64("base_px", opp.BasePx),
		zap.Float64("synthetic_px", opp.SyntheticPx),
		zap.Float64("diff", opp.Diff),
		zap.Float64("edge", opp.Edge),
		zap.Float64("market_size", opp.MarketSize),
		zap.Float64("balance_size", opp.BalanceSize),
		zap.Float64("size", opp.Size),
		zap.Float64("profit", opp.Profit),
	)
	return true
}

// place 下单并记录到账本，返回是否拿到订单号
func (s *Instance) place(ctx context.Context, instrument string, side model.Side, amount, price float64) bool {
	log := s.logger.With(
		zap.String("instrument", instrument),
		zap.String("side", string(side)),
		zap.Float64("amount", amount),
		zap.Float64("price", price),
	)

	o := model.Order{Instrument: instrument, Side: side, Amount: amount, Price: price}

	gw, err := s.deps.Gateways.For(instrument)
	if err == nil {
		o.ID, err = gw.NewOrder(ctx, instrument, side, amount, price)
	}
	if err != nil || o.ID == "" {
		log.Error("下单失败", zap.Error(err))
		s.emit(model.ActionPlaceFailed, o)
		return false
	}

	o.Status = model.StatusOpen
	o.CreatedAt = s.deps.Clock.Now()
	if err := s.deps.Ledger.Add(ctx, o); err != nil {
		// 订单已在交易所生效，账本写入失败只能告警
		log.Error("订单已提交但写入账本失败", zap.String("order_id", o.ID), zap.Error(err))
	}
	log.Info("下单成功", zap.String("order_id", o.ID))
	s.emit(model.ActionPlaced, o)
	return true
}

func (s *Instance) observe(opp model.Opportunity) {
	if s.deps.Observer != nil {
		s.deps.Observer.Observe(opp)
	}
}

// record 统计并输出通过价格检查的机会
func (s *Instance) record(opp model.Opportunity) {
	s.observe(opp)
	if s.deps.Journal != nil {
		_ = s.deps.Journal.Write(opp)
	}
}

func (s *Instance) emit(action model.OrderAction, o model.Order) {
	if s.deps.Journal == nil {
		return
	}
	_ = s.deps.Journal.Write(model.OrderEvent{
		Kind:       "order",
		Strategy:   s.cfg.Name,
		Action:     action,
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Amount:     o.Amount,
		Price:      o.Price,
		TsUnixNs:   s.deps.Clock.Now().UnixNano(),
	})
}

// uniqueVenues 三个交易对涉及的交易所（去重，保持顺序）
func uniqueVenues(legs pricing.Legs) []string {
	var out []string
	seen := map[string]bool{}
	for _, inst := range []model.Instrument{legs.Base, legs.Leg1, legs.Leg2} {
		if !seen[inst.Venue] {
			seen[inst.Venue] = true
			out = append(out, inst.Venue)
		}
	}
	return out
}
