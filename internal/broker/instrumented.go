package broker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/stats/latency"
)

// Instrumented 为网关调用增加单次超时与时延统计
// 超时后立即返回 context.DeadlineExceeded，不等待底层调用结束；
// 底层调用在超时后才返回的结果会被记录到日志，超时后仍成功提交的订单不在任何账本中。
type Instrumented struct {
	inner   Gateway
	timeout time.Duration
	tracker *latency.Tracker
	logger  *zap.Logger
}

// Instrument 包装网关
// 参数 timeout: 单次调用超时，<=0 表示不额外限制
// 参数 tracker: 时延追踪器，可为 nil
// 参数 logger: 记录超时后才返回的结果，可为 nil
func Instrument(gw Gateway, timeout time.Duration, tracker *latency.Tracker, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{
		inner:   gw,
		timeout: timeout,
		tracker: tracker,
		logger:  logger.Named("gateway").With(zap.String("venue", gw.Venue())),
	}
}

func (i *Instrumented) Venue() string {
	return i.inner.Venue()
}

func (i *Instrumented) Balances(ctx context.Context) (map[string]float64, error) {
	return call(ctx, i, "Balances", func(ctx context.Context) (map[string]float64, error) {
		return i.inner.Balances(ctx)
	}, nil)
}

func (i *Instrumented) NewOrder(ctx context.Context, instrument string, side model.Side, amount, price float64) (string, error) {
	return call(ctx, i, "NewOrder", func(ctx context.Context) (string, error) {
		return i.inner.NewOrder(ctx, instrument, side, amount, price)
	}, func(id string, err error) {
		if err != nil || id == "" {
			return
		}
		i.logger.Error("下单超时后订单已提交，未进入账本",
			zap.String("order_id", id),
			zap.String("instrument", instrument),
			zap.String("side", string(side)),
			zap.Float64("amount", amount),
			zap.Float64("price", price),
		)
	})
}

func (i *Instrumented) GetOrder(ctx context.Context, orderID string) (*model.OrderState, error) {
	return call(ctx, i, "GetOrder", func(ctx context.Context) (*model.OrderState, error) {
		return i.inner.GetOrder(ctx, orderID)
	}, nil)
}

func (i *Instrumented) CancelOrder(ctx context.Context, orderID string) error {
	_, err := call(ctx, i, "CancelOrder", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, i.inner.CancelOrder(ctx, orderID)
	}, func(_ struct{}, err error) {
		if err == nil {
			i.logger.Warn("撤单超时后撤单成功", zap.String("order_id", orderID))
		}
	})
	return err
}

type result[T any] struct {
	v   T
	err error
}

// call 在超时上下文中执行 fn 并记录耗时
// 参数 late: 超时返回后底层调用的结果回调，为 nil 时只记 Debug 日志
func call[T any](ctx context.Context, i *Instrumented, method string, fn func(context.Context) (T, error), late func(T, error)) (T, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{v: v, err: err}
	}()

	var r result[T]
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
		go func() {
			lr := <-done
			i.logger.Debug("超时调用已返回",
				zap.String("method", method),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(lr.err),
			)
			if late != nil {
				late(lr.v, lr.err)
			}
		}()
	}

	if i.tracker != nil {
		i.tracker.Record(i.inner.Venue(), time.Since(start), r.err)
	}
	return r.v, r.err
}
