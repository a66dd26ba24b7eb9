// Package backoff 提供等待间隔序列与有界重试。
//
// 两类调用方共用同一套等待语义（Schedule + Wait）：
//
//	// 行情断线重连：指数退避，连接成功后 Reset
//	b := backoff.NewDefault()
//	_ = backoff.Wait(ctx, b.Next())
//
//	// 订单状态查询与撤单：固定间隔，最多 3 次
//	n, err := backoff.Retry(ctx, backoff.Policy{Attempts: 3, Delay: 500 * time.Millisecond}, op)
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrExhausted 重试次数耗尽
var ErrExhausted = errors.New("重试次数耗尽")

// Schedule 等待间隔序列
type Schedule interface {
	// Next 下一次等待的间隔
	Next() time.Duration
	// Reset 回到序列起点
	Reset()
}

// Backoff 指数退避：base×2^attempt，不超过 max，再叠加 ±jitter 抖动
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
	// capped 已达到上限，之后不再翻倍
	capped bool
}

// New 创建指数退避
// 参数 base: 基础间隔
// 参数 max: 间隔上限
// 参数 jitter: 抖动比例（0-1），0.2 表示 ±20%
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 断线重连使用的默认退避：1s 起，30s 封顶，±20%
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

func (b *Backoff) Next() time.Duration {
	delay := b.max
	if !b.capped {
		if b.attempt < 62 && b.base <= b.max>>b.attempt {
			delay = b.base << b.attempt
		} else {
			b.capped = true
		}
	}
	b.attempt++

	if b.jitter > 0 {
		delay = time.Duration(float64(delay) * (1 + (rand.Float64()*2-1)*b.jitter))
	}
	return delay
}

// Reset 连接成功后调用
func (b *Backoff) Reset() {
	b.attempt = 0
	b.capped = false
}

// Attempt 已计算过的间隔次数
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Constant 固定间隔序列
type Constant time.Duration

func (c Constant) Next() time.Duration { return time.Duration(c) }

func (Constant) Reset() {}

// Wait 可取消的等待，ctx 取消时返回 ctx.Err()
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy 有界重试策略
type Policy struct {
	// Attempts 最大尝试次数（含首次），<=0 视为 1
	Attempts int
	// Delay 两次尝试之间的固定间隔，Schedule 非 nil 时忽略
	Delay time.Duration
	// Schedule 自定义间隔序列，可为 nil
	Schedule Schedule
}

func (p Policy) schedule() Schedule {
	if p.Schedule != nil {
		p.Schedule.Reset()
		return p.Schedule
	}
	return Constant(p.Delay)
}

// Retry 执行 op 直到成功、次数耗尽或 ctx 取消
// 返回实际尝试次数；次数耗尽时错误同时包装 ErrExhausted 与最后一次的错误。
func Retry(ctx context.Context, p Policy, op func(ctx context.Context) error) (int, error) {
	attempts := max(p.Attempts, 1)
	sched := p.schedule()

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = op(ctx); lastErr == nil {
			return i, nil
		}
		if i == attempts {
			break
		}
		if err := Wait(ctx, sched.Next()); err != nil {
			return i, err
		}
	}
	return attempts, errors.Join(ErrExhausted, lastErr)
}
