// Package driver 实现策略调度器。
// 行情 goroutine 把深度事件写入 store；轮询循环每个周期生成一份不可变快照，
// 按注册顺序投递给各策略实例。每个实例在独立 goroutine 中串行处理，
// 信箱只保留最新一份快照，慢交易所不会拖住其他实例。
package driver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"synthetic-arbitrage-engine/internal/config"
	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/core/store"
	"synthetic-arbitrage-engine/internal/core/strategy"
)

// Instance 可被调度的策略实例
type Instance interface {
	Name() string
	State() strategy.State
	Tick(ctx context.Context, snap model.Snapshot) error
}

// Config 调度参数
type Config struct {
	// PollInterval 快照轮询间隔
	PollInterval time.Duration
	// Sequential 在轮询循环内按注册顺序同步执行
	Sequential bool
}

// ConfigFrom 由配置文件生成调度参数
func ConfigFrom(c config.DriverConfig) Config {
	return Config{
		PollInterval: time.Duration(c.PollIntervalMs) * time.Millisecond,
		Sequential:   c.Sequential,
	}
}

// Stats 调度统计
type Stats struct {
	// Polls 已生成的快照数
	Polls int64 `json:"polls"`
	// Updates 已写入 store 的深度事件数
	Updates int64 `json:"updates"`
	// Runners 各实例统计（按注册顺序）
	Runners []RunnerStats `json:"runners"`
}

// RunnerStats 单个实例的调度统计
type RunnerStats struct {
	Strategy string `json:"strategy"`
	// Ticks 已执行的 tick 数
	Ticks int64 `json:"ticks"`
	// Errors tick 返回错误次数
	Errors int64 `json:"errors"`
	// Dropped 被更新快照覆盖而未执行的快照数
	Dropped int64 `json:"dropped"`
}

type runner struct {
	inst    Instance
	mailbox chan model.Snapshot

	ticks   atomic.Int64
	errors  atomic.Int64
	dropped atomic.Int64
}

// offer 投递快照，信箱已满时用新快照替换旧快照
func (r *runner) offer(snap model.Snapshot) {
	select {
	case r.mailbox <- snap:
		return
	default:
	}
	select {
	case <-r.mailbox:
		r.dropped.Add(1)
	default:
	}
	select {
	case r.mailbox <- snap:
	default:
		r.dropped.Add(1)
	}
}

// Driver 策略调度器
type Driver struct {
	cfg    Config
	store  *store.Store
	logger *zap.Logger

	mu      sync.Mutex
	sources []<-chan *model.BookEvent
	runners []*runner

	polls   atomic.Int64
	updates atomic.Int64
}

// New 创建调度器
func New(cfg Config, st *store.Store, logger *zap.Logger) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Driver{
		cfg:    cfg,
		store:  st,
		logger: logger.Named("driver"),
	}
}

// AddSource 注册深度事件来源（行情客户端的 BookCh）
func (d *Driver) AddSource(ch <-chan *model.BookEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources = append(d.sources, ch)
}

// Register 注册策略实例，调度顺序即注册顺序
// 必须在 Run 之前调用。
func (d *Driver) Register(inst Instance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runners = append(d.runners, &runner{
		inst:    inst,
		mailbox: make(chan model.Snapshot, 1),
	})
}

// Run 运行调度循环，直到 ctx 取消
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	sources := append([]<-chan *model.BookEvent(nil), d.sources...)
	runners := append([]*runner(nil), d.runners...)
	d.mu.Unlock()

	d.logger.Info("调度器启动",
		zap.Int("sources", len(sources)),
		zap.Int("strategies", len(runners)),
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Bool("sequential", d.cfg.Sequential),
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range sources {
		ch := ch
		g.Go(func() error {
			return d.ingest(gctx, ch)
		})
	}

	if !d.cfg.Sequential {
		for _, r := range runners {
			r := r
			g.Go(func() error {
				return d.runLoop(gctx, r)
			})
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				d.dispatch(gctx, runners, d.store.Snapshot())
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info("调度器退出")
	return err
}

// ingest 把深度事件写入 store，来源关闭时返回
func (d *Driver) ingest(ctx context.Context, ch <-chan *model.BookEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev == nil || ev.Instrument == "" {
				continue
			}
			d.store.Update(ev)
			d.updates.Add(1)
		}
	}
}

// dispatch 按注册顺序投递一份快照
func (d *Driver) dispatch(ctx context.Context, runners []*runner, snap model.Snapshot) {
	d.polls.Add(1)
	for _, r := range runners {
		if r.inst.State() == strategy.StateTerminated {
			continue
		}
		if d.cfg.Sequential {
			d.tick(ctx, r, snap)
			continue
		}
		r.offer(snap)
	}
}

func (d *Driver) runLoop(ctx context.Context, r *runner) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-r.mailbox:
			if r.inst.State() == strategy.StateTerminated {
				continue
			}
			d.tick(ctx, r, snap)
		}
	}
}

func (d *Driver) tick(ctx context.Context, r *runner, snap model.Snapshot) {
	r.ticks.Add(1)
	if err := r.inst.Tick(ctx, snap); err != nil {
		r.errors.Add(1)
		if ctx.Err() != nil {
			return
		}
		d.logger.Warn("策略 tick 出错",
			zap.String("strategy", r.inst.Name()),
			zap.Error(err),
		)
	}
}

// Stats 调度统计快照
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	runners := append([]*runner(nil), d.runners...)
	d.mu.Unlock()

	out := Stats{
		Polls:   d.polls.Load(),
		Updates: d.updates.Load(),
		Runners: make([]RunnerStats, 0, len(runners)),
	}
	for _, r := range runners {
		out.Runners = append(out.Runners, RunnerStats{
			Strategy: r.inst.Name(),
			Ticks:    r.ticks.Load(),
			Errors:   r.errors.Load(),
			Dropped:  r.dropped.Load(),
		})
	}
	return out
}
