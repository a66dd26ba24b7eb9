// Package reconcile 实现挂单对账（Order Reconciliation）。
// 每个 tick 评估新机会之前，先把账本中的挂单与交易所权威状态逐一核对：
// 已成交/已撤销的移除，残量过小的移除，仍在挂单的撤单后按最新盘口重新下单。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"synthetic-arbitrage-engine/internal/broker"
	"synthetic-arbitrage-engine/internal/config"
	"synthetic-arbitrage-engine/internal/core/ledger"
	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/core/pricing"
	"synthetic-arbitrage-engine/internal/util/backoff"
	"synthetic-arbitrage-engine/internal/util/timeutil"
)

// errUnresolved 查询返回空结果或 UNKNOWN 状态
var errUnresolved = errors.New("order status unresolved")

// Journal 事件输出（通常为 jsonl.Writer）
type Journal interface {
	Write(v any) error
}

// Config 对账参数
type Config struct {
	// Retry 状态查询与撤单共用的重试策略
	Retry backoff.Policy
	// Policy 查询无果时的处理: retain, drop
	Policy string
	// MaxUnresolvedPasses retain 策略下最多保留的对账轮次
	MaxUnresolvedPasses int
}

// ConfigFrom 由配置文件生成对账参数
func ConfigFrom(c config.ReconcileConfig) Config {
	return Config{
		Retry: backoff.Policy{
			Attempts: c.Attempts,
			Delay:    time.Duration(c.RetryDelayMs) * time.Millisecond,
		},
		Policy:              c.UnresolvedPolicy,
		MaxUnresolvedPasses: c.MaxUnresolvedPasses,
	}
}

// Deps 对账依赖
type Deps struct {
	// Ledger 策略实例独占的账本
	Ledger ledger.Store
	// Gateways 交易网关
	Gateways *broker.Gateways
	// MinAmount 交易对最小下单量
	MinAmount func(instrument string) float64
	// Journal 订单事件输出，可为 nil
	Journal Journal
	// Clock 时钟，为 nil 时使用系统时钟
	Clock timeutil.Clock
	// Logger 日志
	Logger *zap.Logger
}

// Reconciler 单个策略实例的对账器
// 不可并发调用；由所属策略实例的 tick 串行驱动。
type Reconciler struct {
	strategy string
	cfg      Config
	deps     Deps
	logger   *zap.Logger
}

// New 创建对账器
func New(strategy string, cfg Config, deps Deps) *Reconciler {
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Reconciler{
		strategy: strategy,
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.Named("reconcile").With(zap.String("strategy", strategy)),
	}
}

// Reconcile 核对指定方向的全部挂单
// 返回 true 表示该方向存在挂单（调用方本 tick 不得评估新机会）。
// 账本读取失败时同样返回 true，宁可跳过也不在未知敞口上继续交易。
func (r *Reconciler) Reconcile(ctx context.Context, side model.Side, snap model.Snapshot) (bool, error) {
	orders, err := r.deps.Ledger.List(ctx, side)
	if err != nil {
		return true, fmt.Errorf("读取 %s 账本失败: %w", side, err)
	}
	if len(orders) == 0 {
		return false, nil
	}

	r.logger.Info("存在挂单，开始对账",
		zap.String("side", string(side)),
		zap.Int("orders", len(orders)),
	)

	var errs []error
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.handle(ctx, o, snap); err != nil {
			errs = append(errs, fmt.Errorf("订单 %s: %w", o.ID, err))
		}
	}
	return true, errors.Join(errs...)
}

// handle 处理单个挂单
func (r *Reconciler) handle(ctx context.Context, o model.Order, snap model.Snapshot) error {
	log := r.logger.With(
		zap.String("order_id", o.ID),
		zap.String("instrument", o.Instrument),
		zap.String("side", string(o.Side)),
	)

	gw, err := r.deps.Gateways.For(o.Instrument)
	if err != nil {
		log.Error("找不到订单对应的网关", zap.Error(err))
		return r.unresolved(ctx, o, log)
	}

	state, err := r.query(ctx, gw, o.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("订单状态查询无果", zap.Error(err))
		return r.unresolved(ctx, o, log)
	}

	o.Status = state.Status
	o.Filled = state.DealAmount
	o.UnresolvedPasses = 0

	if state.Status.Terminal() {
		log.Info("订单已结束", zap.String("status", string(state.Status)))
		return r.remove(ctx, o, model.ActionResolved)
	}

	remaining := pricing.RoundAmount(state.Remaining())
	if minAmount := r.deps.MinAmount(o.Instrument); remaining <= minAmount {
		log.Info("剩余数量低于最小下单量，视为完成",
			zap.Float64("remaining", remaining),
			zap.Float64("min_amount", minAmount),
		)
		return r.remove(ctx, o, model.ActionDust)
	}

	price := repricePrice(o.Side, snap.Book(o.Instrument))
	if price <= 0 {
		// 盘口不可用，保留订单等待下一轮
		log.Warn("盘口不可用，暂不重新定价")
		if err := r.deps.Ledger.Update(ctx, o); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		return nil
	}

	if _, err := backoff.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		return gw.CancelOrder(ctx, o.ID)
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("撤单失败，放弃跟踪该订单", zap.Error(err))
		return r.remove(ctx, o, model.ActionAbandoned)
	}

	if err := r.deps.Ledger.Remove(ctx, o.Side, o.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return err
	}

	newID, err := gw.NewOrder(ctx, o.Instrument, o.Side, remaining, price)
	if err != nil || newID == "" {
		log.Error("重新下单失败",
			zap.Float64("amount", remaining),
			zap.Float64("price", price),
			zap.Error(err),
		)
		r.emit(model.ActionPlaceFailed, model.Order{Instrument: o.Instrument, Side: o.Side, Amount: remaining, Price: price})
		return nil
	}

	replaced := model.Order{
		ID:         newID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Amount:     remaining,
		Price:      price,
		Status:     model.StatusOpen,
		CreatedAt:  r.deps.Clock.Now(),
	}
	if err := r.deps.Ledger.Add(ctx, replaced); err != nil {
		return fmt.Errorf("记录重新下单 %s 失败: %w", newID, err)
	}
	log.Info("撤单后按最新盘口重新下单",
		zap.String("new_order_id", newID),
		zap.Float64("amount", remaining),
		zap.Float64("price", price),
	)
	r.emit(model.ActionRepriced, replaced)
	return nil
}

// query 带重试的状态查询
func (r *Reconciler) query(ctx context.Context, gw broker.Gateway, id string) (*model.OrderState, error) {
	var state *model.OrderState
	_, err := backoff.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		s, err := gw.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if s == nil || s.Status == model.StatusUnknown || s.Status == "" {
			return errUnresolved
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// unresolved 查询无果的处理
func (r *Reconciler) unresolved(ctx context.Context, o model.Order, log *zap.Logger) error {
	if r.cfg.Policy == config.UnresolvedDrop {
		log.Warn("状态未知，按 drop 策略移出账本")
		return r.remove(ctx, o, model.ActionDropped)
	}

	o.UnresolvedPasses++
	if o.UnresolvedPasses >= r.cfg.MaxUnresolvedPasses {
		log.Error("状态连续未知，超过最大轮次后移出账本",
			zap.Int("passes", o.UnresolvedPasses),
		)
		return r.remove(ctx, o, model.ActionDropped)
	}

	if err := r.deps.Ledger.Update(ctx, o); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	log.Warn("状态未知，保留到下一轮重查", zap.Int("passes", o.UnresolvedPasses))
	r.emit(model.ActionUnresolved, o)
	return nil
}

func (r *Reconciler) remove(ctx context.Context, o model.Order, action model.OrderAction) error {
	if err := r.deps.Ledger.Remove(ctx, o.Side, o.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	r.emit(action, o)
	return nil
}

func (r *Reconciler) emit(action model.OrderAction, o model.Order) {
	if r.deps.Journal == nil {
		return
	}
	_ = r.deps.Journal.Write(model.OrderEvent{
		Kind:       "order",
		Strategy:   r.strategy,
		Action:     action,
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Amount:     o.Amount,
		Price:      o.Price,
		TsUnixNs:   r.deps.Clock.Now().UnixNano(),
	})
}

// repricePrice 重新定价使用的对手价：卖单取买一，买单取卖一
func repricePrice(side model.Side, book *model.BookEvent) float64 {
	if side == model.SideSell {
		return book.BestBid().Price
	}
	return book.BestAsk().Price
}
