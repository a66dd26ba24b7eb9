// Package main 是合成套利引擎的入口点。
// watch 模式订阅行情、按轮询周期驱动各策略实例评估正/逆循环并通过交易网关下单；
// balance 模式定期把各交易所余额追加到 CSV。
//
// 当前唯一的交易网关实现为影子成交（paper），不连接任何真实交易账户。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"synthetic-arbitrage-engine/internal/broker"
	"synthetic-arbitrage-engine/internal/broker/paper"
	"synthetic-arbitrage-engine/internal/config"
	"synthetic-arbitrage-engine/internal/core/ledger"
	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/core/reconcile"
	"synthetic-arbitrage-engine/internal/core/store"
	"synthetic-arbitrage-engine/internal/core/strategy"
	"synthetic-arbitrage-engine/internal/driver"
	"synthetic-arbitrage-engine/internal/exchange/binance"
	"synthetic-arbitrage-engine/internal/exchange/okx"
	"synthetic-arbitrage-engine/internal/metadata"
	"synthetic-arbitrage-engine/internal/output/csvsnap"
	"synthetic-arbitrage-engine/internal/output/jsonl"
	"synthetic-arbitrage-engine/internal/stats/edge"
	"synthetic-arbitrage-engine/internal/stats/latency"
	"synthetic-arbitrage-engine/internal/util/timeutil"
)

const (
	modeWatch   = "watch"
	modeBalance = "balance"
)

type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Kind 记录类型，固定为 metrics
	Kind string `json:"kind"`

	// OKX OKX 连接指标（未启用为空）
	OKX *okx.ConnectionMetrics `json:"okx,omitempty"`
	// Binance Binance 连接指标（未启用为空）
	Binance *binance.ConnectionMetrics `json:"binance,omitempty"`

	// Gateways 各交易所网关调用时延
	Gateways []latency.CallStats `json:"gateways"`
	// Opportunities 各策略/方向的机会统计
	Opportunities []edge.EdgeStats `json:"opportunities"`
	// Driver 调度统计
	Driver driver.Stats `json:"driver"`
	// Journal 事件输出统计
	Journal *jsonl.Stats `json:"journal,omitempty"`
	// States 各策略生命周期状态
	States map[string]string `json:"states"`
}

func main() {
	var configPath, mode string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&mode, "mode", modeWatch, "运行模式: watch, balance")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App)
	defer logger.Sync()

	logger.Info("配置已加载",
		zap.String("mode", mode),
		zap.Any("config", cfg.Redacted()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	switch mode {
	case modeWatch:
		err = runWatch(ctx, cfg, logger)
	case modeBalance:
		err = runBalance(ctx, cfg, logger)
	default:
		err = fmt.Errorf("未知运行模式 '%s'", mode)
	}
	if err != nil {
		logger.Error("退出", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// newLogger 创建 JSON 日志；配置了 log_file 时同时写入文件
func newLogger(app config.AppConfig) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(app.LogLevel); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	if app.LogFile == "" {
		return logger.With(zap.String("app", app.Name))
	}

	f, err := os.OpenFile(app.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("打开日志文件失败，仅输出到 stderr", zap.String("path", app.LogFile), zap.Error(err))
		return logger.With(zap.String("app", app.Name))
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), zapcore.AddSync(f), cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})).With(zap.String("app", app.Name))
}

// paperVenues 需要模拟网关的交易所：实盘策略用到的交易所与配置了初始余额的交易所
func paperVenues(cfg *config.Config) []string {
	set := make(map[string]bool)
	for v := range cfg.Paper.Balances {
		set[v] = true
	}
	for _, s := range cfg.Strategies {
		if s.MonitorOnly {
			continue
		}
		for _, id := range s.Instruments() {
			if inst, err := model.ParseInstrument(id); err == nil {
				set[inst.Venue] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// buildGateways 为每个交易所创建带超时与时延统计的模拟网关
// 未启用 paper 时返回 nil。
func buildGateways(cfg *config.Config, books paper.BookSource, tracker *latency.Tracker, logger *zap.Logger) *broker.Gateways {
	if !cfg.Paper.Enabled {
		return nil
	}
	timeout := time.Duration(cfg.Gateway.CallTimeoutMs) * time.Millisecond

	var gws []broker.Gateway
	for _, v := range paperVenues(cfg) {
		gw := paper.New(v, books, cfg.Paper.FeeRate, cfg.Paper.Balances[v], logger)
		gws = append(gws, broker.Instrument(gw, timeout, tracker, logger))
	}
	return broker.NewGateways(gws...)
}

// ledgers 按配置创建各策略独占的挂单账本
type ledgers struct {
	cfg *config.Config
	rdb *redis.Client
}

func newLedgers(ctx context.Context, cfg *config.Config) (*ledgers, error) {
	l := &ledgers{cfg: cfg}
	if cfg.Ledger.Backend != config.LedgerRedis {
		return l, nil
	}
	rdb, err := ledger.NewRedisClient(ctx, ledger.RedisConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, err
	}
	l.rdb = rdb
	return l, nil
}

func (l *ledgers) For(strategy string) ledger.Store {
	if l.rdb == nil {
		return ledger.NewMemory()
	}
	return ledger.NewRedis(l.rdb, l.cfg.Ledger.KeyPrefix, strategy)
}

func (l *ledgers) Close() error {
	if l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}

func runWatch(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// 启动时获取元数据，补全最小下单量
	fetcher := metadata.NewHTTPFetcher(cfg.Metadata.TimeoutMs)
	symbolMaps, err := metadata.BuildSymbolMaps(ctx, cfg, fetcher)
	if err != nil {
		return fmt.Errorf("构建交易对映射失败: %w", err)
	}
	metadata.ApplyMinAmounts(cfg, symbolMaps)
	logger.Info("交易对映射完成", zap.Int("instruments", len(symbolMaps)))

	bookStore := store.New()
	drv := driver.New(driver.ConfigFrom(cfg.Driver), bookStore, logger)

	var okxClient *okx.Client
	if maps := metadata.ByVenue(symbolMaps, model.VenueOKX); cfg.Feeds.OKX.Enabled() && len(maps) > 0 {
		okxClient = okx.NewClient(cfg.Feeds.OKX, maps, logger)
		drv.AddSource(okxClient.BookCh())
	}
	var binanceClient *binance.Client
	if maps := metadata.ByVenue(symbolMaps, model.VenueBinance); cfg.Feeds.Binance.Enabled() && len(maps) > 0 {
		binanceClient = binance.NewClient(cfg.Feeds.Binance, maps, logger)
		drv.AddSource(binanceClient.BookCh())
	}

	latTracker := latency.NewTracker(cfg.Gateway.LatencyWindow)
	gateways := buildGateways(cfg, bookStore, latTracker, logger)
	if gateways != nil {
		logger.Info("模拟网关已启用", zap.Strings("venues", gateways.Venues()))
	}

	var (
		journalWriter *jsonl.Writer
		metricsWriter *jsonl.Writer
		journal       strategy.Journal
	)
	if cfg.Output.JournalEnabled {
		if journalWriter, err = jsonl.Open(cfg.Output.Dir, "journal", cfg.Output.BufferSize); err != nil {
			return fmt.Errorf("创建 journal writer 失败: %w", err)
		}
		journal = journalWriter
	}
	if cfg.Output.MetricsEnabled {
		if metricsWriter, err = jsonl.Open(cfg.Output.Dir, "metrics", cfg.Output.BufferSize); err != nil {
			return fmt.Errorf("创建 metrics writer 失败: %w", err)
		}
	}

	stores, err := newLedgers(ctx, cfg)
	if err != nil {
		return fmt.Errorf("创建订单账本失败: %w", err)
	}
	defer stores.Close()

	edgeTracker := edge.NewTracker(cfg.Output.StatsWindow)
	recCfg := reconcile.ConfigFrom(cfg.Reconcile)

	instances := make([]*strategy.Instance, 0, len(cfg.Strategies))
	for _, scfg := range cfg.Strategies {
		inst, err := strategy.New(scfg, strategy.Deps{
			Ledger:    stores.For(scfg.Name),
			Gateways:  gateways,
			Reconcile: recCfg,
			Journal:   journal,
			Observer:  edgeTracker,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		if err := inst.Start(); err != nil {
			return err
		}
		drv.Register(inst)
		instances = append(instances, inst)
	}

	collect := func() metricsSnapshot {
		snap := metricsSnapshot{
			TsUnixNs:      timeutil.NowNano(),
			Kind:          "metrics",
			Gateways:      latTracker.All(),
			Opportunities: edgeTracker.All(),
			Driver:        drv.Stats(),
			States:        make(map[string]string, len(instances)),
		}
		if okxClient != nil {
			m := okxClient.Metrics()
			snap.OKX = &m
		}
		if binanceClient != nil {
			m := binanceClient.Metrics()
			snap.Binance = &m
		}
		if journalWriter != nil {
			s := journalWriter.Stats()
			snap.Journal = &s
		}
		for _, inst := range instances {
			snap.States[inst.Name()] = inst.State().String()
		}
		return snap
	}

	g, gctx := errgroup.WithContext(ctx)
	if okxClient != nil {
		g.Go(func() error { return okxClient.Run(gctx) })
	}
	if binanceClient != nil {
		g.Go(func() error { return binanceClient.Run(gctx) })
	}
	g.Go(func() error { return drv.Run(gctx) })
	if metricsWriter != nil {
		g.Go(func() error {
			return metricsLoop(gctx, metricsWriter, cfg.Output.MetricsIntervalMs, collect)
		})
	}

	runErr := g.Wait()

	for _, inst := range instances {
		inst.Terminate()
	}

	// 输出最后一条 metrics 快照（便于离线复盘）
	if metricsWriter != nil {
		_ = metricsWriter.Write(collect())
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = journalWriter.Close()
		_ = metricsWriter.Close()
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func metricsLoop(ctx context.Context, w *jsonl.Writer, intervalMs int, collect func() metricsSnapshot) error {
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Write(collect()); err != nil {
				return err
			}
			_ = w.Flush()
		}
	}
}

func runBalance(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	gateways := buildGateways(cfg, store.New(), latency.NewTracker(cfg.Gateway.LatencyWindow), logger)
	if gateways == nil {
		return errors.New("balance 模式需要启用 paper 网关")
	}

	writer, err := csvsnap.New(cfg.Snapshot.Dir, cfg.Snapshot.Currencies)
	if err != nil {
		return err
	}
	log := logger.Named("snapshot")

	take := func() {
		balances := make(map[string]map[string]float64)
		for _, v := range gateways.Venues() {
			bal, err := gateways.Balances(ctx, v)
			if err != nil {
				log.Warn("查询余额失败", zap.String("venue", v), zap.Error(err))
				continue
			}
			balances[v] = bal[v]
		}
		if err := writer.Record(balances, time.Now()); err != nil {
			log.Error("写入余额快照失败", zap.Error(err))
			return
		}
		log.Info("余额快照已写入", zap.Int("venues", len(balances)))
	}

	take()
	ticker := time.NewTicker(time.Duration(cfg.Snapshot.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			take()
		}
	}
}
