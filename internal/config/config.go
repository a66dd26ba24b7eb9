// Package config 负责加载和验证 YAML 配置文件。
// 提供套利引擎所需的全部配置项，包括行情源、策略实例参数、对账重试、账本存储与输出设置。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"synthetic-arbitrage-engine/internal/core/model"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Feeds 行情 WebSocket 配置
	Feeds FeedsConfig `yaml:"feeds"`
	// Metadata 交易所元数据 API 配置
	Metadata MetadataConfig `yaml:"metadata"`
	// Driver 轮询调度配置
	Driver DriverConfig `yaml:"driver"`
	// Gateway 交易网关调用配置
	Gateway GatewayConfig `yaml:"gateway"`
	// Reconcile 挂单对账配置
	Reconcile ReconcileConfig `yaml:"reconcile"`
	// Ledger 订单账本存储配置
	Ledger LedgerConfig `yaml:"ledger"`
	// Redis Redis 连接配置（ledger.backend=redis 时使用）
	Redis RedisConfig `yaml:"redis"`
	// Paper 模拟交易所配置
	Paper PaperConfig `yaml:"paper"`
	// Strategies 策略实例列表（按注册顺序评估）
	Strategies []StrategyConfig `yaml:"strategies"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
	// Snapshot 余额快照配置
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// LogFile 日志文件路径（可选，为空则仅输出到 stderr）
	LogFile string `yaml:"log_file"`
}

// FeedsConfig 行情源配置
type FeedsConfig struct {
	// OKX OKX WebSocket 配置
	OKX ExchangeWSConfig `yaml:"okx"`
	// Binance Binance WebSocket 配置
	Binance ExchangeWSConfig `yaml:"binance"`
}

// ExchangeWSConfig 单个交易所的 WebSocket 配置
type ExchangeWSConfig struct {
	// URL WebSocket 连接地址，为空表示不启用该行情源
	URL string `yaml:"url"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
}

// Enabled 是否启用
func (c ExchangeWSConfig) Enabled() bool {
	return c.URL != ""
}

// MetadataConfig 元数据 API 配置
type MetadataConfig struct {
	// OKX OKX 现货交易对元数据 API 地址（为空则不拉取）
	OKX string `yaml:"okx"`
	// Binance Binance 现货交易对元数据 API 地址（为空则不拉取）
	Binance string `yaml:"binance"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// DriverConfig 轮询调度配置
type DriverConfig struct {
	// PollIntervalMs 快照轮询间隔（毫秒）
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// Sequential 为 true 时在调度循环内按注册顺序同步评估（不隔离慢交易所）
	Sequential bool `yaml:"sequential"`
}

// GatewayConfig 交易网关调用配置
type GatewayConfig struct {
	// CallTimeoutMs 单次网关调用超时（毫秒），超时按状态未知处理
	CallTimeoutMs int `yaml:"call_timeout_ms"`
	// LatencyWindow 调用时延滚动窗口大小
	LatencyWindow int `yaml:"latency_window"`
}

// 状态查询无果时的处理策略
const (
	// UnresolvedRetain 保留在账本中，下一轮继续查询
	UnresolvedRetain = "retain"
	// UnresolvedDrop 直接移出账本（与旧系统行为一致）
	UnresolvedDrop = "drop"
)

// ReconcileConfig 挂单对账配置
type ReconcileConfig struct {
	// Attempts 状态查询/撤单的最大尝试次数（含首次）
	Attempts int `yaml:"attempts"`
	// RetryDelayMs 两次尝试之间的固定间隔（毫秒）
	RetryDelayMs int `yaml:"retry_delay_ms"`
	// UnresolvedPolicy 查询无果时的策略: retain, drop
	UnresolvedPolicy string `yaml:"unresolved_policy"`
	// MaxUnresolvedPasses retain 策略下最多保留的对账轮次
	MaxUnresolvedPasses int `yaml:"max_unresolved_passes"`
}

// 账本存储后端
const (
	// LedgerMemory 进程内存
	LedgerMemory = "memory"
	// LedgerRedis Redis 持久化
	LedgerRedis = "redis"
)

// LedgerConfig 订单账本配置
type LedgerConfig struct {
	// Backend 存储后端: memory, redis
	Backend string `yaml:"backend"`
	// KeyPrefix Redis key 前缀
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	// Addr 地址，如 127.0.0.1:6379
	Addr string `yaml:"addr"`
	// Password 密码（建议通过 ARB_REDIS_PASSWORD 环境变量注入）
	Password string `yaml:"password"`
	// DB 库编号
	DB int `yaml:"db"`
	// PoolSize 连接池大小
	PoolSize int `yaml:"pool_size"`
	// MaxRetries 驱动层重试次数
	MaxRetries int `yaml:"max_retries"`
	// TLSEnabled 是否启用 TLS
	TLSEnabled bool `yaml:"tls_enabled"`
}

// PaperConfig 模拟交易所配置
// 启用后所有非 monitor_only 策略的下单都路由到影子成交网关，严禁真实下单。
type PaperConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// FeeRate 模拟成交手续费率（0-1）
	FeeRate float64 `yaml:"fee_rate"`
	// Balances 初始余额：交易所 -> 币种 -> 数量
	Balances map[string]map[string]float64 `yaml:"balances"`
}

// StrategyConfig 单个合成套利策略实例配置（构造后不可变）
// 兑换关系: 1 base = 1 leg1 + 1 leg2
type StrategyConfig struct {
	// Name 实例名称，为空时由交易对生成
	Name string `yaml:"name"`
	// Base 直接报价的 base 交易对，如 Bitfinex_BTC_USD
	Base string `yaml:"base"`
	// Leg1 第一条腿交易对，如 Bitfinex_BT1_USD
	Leg1 string `yaml:"leg1"`
	// Leg2 第二条腿交易对，如 Bitfinex_BT2_USD
	Leg2 string `yaml:"leg2"`
	// MonitorOnly 仅监控：只记录机会，不下单
	MonitorOnly bool `yaml:"monitor_only"`
	// Precision 价格比较的小数位数
	Precision int `yaml:"precision"`
	// FeeBase base 交易对手续费率
	FeeBase float64 `yaml:"fee_base"`
	// FeeLeg1 第一条腿手续费率
	FeeLeg1 float64 `yaml:"fee_leg1"`
	// FeeLeg2 第二条腿手续费率
	FeeLeg2 float64 `yaml:"fee_leg2"`
	// MinAmountMarket 交易所限制的最小下单量（由交易所和币种共同决定）
	MinAmountMarket float64 `yaml:"min_amount_market"`
	// MinAmounts 按交易对覆盖的最小下单量（对账时优先使用）
	MinAmounts map[string]float64 `yaml:"min_amounts"`
	// MaxTradeAmount 单次交易最大量
	MaxTradeAmount float64 `yaml:"max_trade_amount"`
	// MinTradeAmount 单次交易量（实盘下单量取不超过该值）
	MinTradeAmount float64 `yaml:"min_trade_amount"`
	// ForwardCooldownMs 正循环冷却时间（毫秒）
	ForwardCooldownMs int `yaml:"forward_cooldown_ms"`
	// ReverseCooldownMs 逆循环冷却时间（毫秒）
	ReverseCooldownMs int `yaml:"reverse_cooldown_ms"`
}

// Instruments 返回策略依赖的三个交易对
func (s *StrategyConfig) Instruments() []string {
	return []string{s.Base, s.Leg1, s.Leg2}
}

// MinAmountFor 获取指定交易对的最小下单量
func (s *StrategyConfig) MinAmountFor(instrument string) float64 {
	if v, ok := s.MinAmounts[instrument]; ok && v > 0 {
		return v
	}
	return s.MinAmountMarket
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// JournalEnabled 是否输出机会与订单事件
	JournalEnabled bool `yaml:"journal_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
	// StatsWindow 机会统计滚动窗口大小
	StatsWindow int `yaml:"stats_window"`
}

// SnapshotConfig 余额快照配置（balance 模式）
type SnapshotConfig struct {
	// Dir CSV 输出目录
	Dir string `yaml:"dir"`
	// IntervalMs 快照间隔（毫秒）
	IntervalMs int `yaml:"interval_ms"`
	// Currencies 记录的币种
	Currencies []string `yaml:"currencies"`
}

// Load 从文件加载配置并验证
// 会先尝试加载当前目录下的 .env，再用 ARB_* 环境变量覆盖敏感项。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析 YAML 内容，应用环境变量覆盖与默认值后验证
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &cfg, nil
}

// applyEnv 用环境变量覆盖配置
func (c *Config) applyEnv() {
	if v := os.Getenv("ARB_LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("ARB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ARB_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ARB_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "synthetic-arbitrage-engine"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Metadata.TimeoutMs == 0 {
		c.Metadata.TimeoutMs = 10000 // 10 秒
	}

	if c.Feeds.OKX.PingIntervalMs == 0 {
		c.Feeds.OKX.PingIntervalMs = 25000 // 25 秒
	}
	if c.Feeds.OKX.PongTimeoutMs == 0 {
		c.Feeds.OKX.PongTimeoutMs = 10000 // 10 秒
	}
	if c.Feeds.Binance.ReadTimeoutMs == 0 {
		c.Feeds.Binance.ReadTimeoutMs = 30000 // 30 秒
	}

	if c.Driver.PollIntervalMs == 0 {
		c.Driver.PollIntervalMs = 1000
	}

	if c.Gateway.CallTimeoutMs == 0 {
		c.Gateway.CallTimeoutMs = 5000
	}
	if c.Gateway.LatencyWindow == 0 {
		c.Gateway.LatencyWindow = 1000
	}

	// 状态查询/撤单: 共 3 次，间隔 0.5 秒
	if c.Reconcile.Attempts == 0 {
		c.Reconcile.Attempts = 3
	}
	if c.Reconcile.RetryDelayMs == 0 {
		c.Reconcile.RetryDelayMs = 500
	}
	if c.Reconcile.UnresolvedPolicy == "" {
		c.Reconcile.UnresolvedPolicy = UnresolvedRetain
	}
	if c.Reconcile.MaxUnresolvedPasses == 0 {
		c.Reconcile.MaxUnresolvedPasses = 10
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = LedgerMemory
	}
	if c.Ledger.KeyPrefix == "" {
		c.Ledger.KeyPrefix = "arb:ledger"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}

	for i := range c.Strategies {
		s := &c.Strategies[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("%s|%s|%s", s.Base, s.Leg1, s.Leg2)
		}
		if s.Precision == 0 {
			s.Precision = 2
		}
		if s.ForwardCooldownMs == 0 {
			s.ForwardCooldownMs = 1000 // 1 秒
		}
		if s.ReverseCooldownMs == 0 {
			s.ReverseCooldownMs = 3000 // 3 秒
		}
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
	if c.Output.StatsWindow == 0 {
		c.Output.StatsWindow = 1000
	}

	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "./snapshot"
	}
	if c.Snapshot.IntervalMs == 0 {
		c.Snapshot.IntervalMs = 10 * 60 * 1000 // 10 分钟
	}
	if len(c.Snapshot.Currencies) == 0 {
		c.Snapshot.Currencies = []string{"BTC", "BCH", "ETH", "USD", "USDT"}
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围，一次性返回全部错误
func (c *Config) Validate() error {
	var errs []string

	if len(c.Strategies) == 0 {
		errs = append(errs, "strategies: 至少需要配置一个策略实例")
	}
	names := make(map[string]bool, len(c.Strategies))
	for i := range c.Strategies {
		s := &c.Strategies[i]
		field := fmt.Sprintf("strategies[%d]", i)
		if s.Name != "" {
			if names[s.Name] {
				errs = append(errs, fmt.Sprintf("%s.name: 策略名称 '%s' 重复", field, s.Name))
			}
			names[s.Name] = true
		}
		errs = append(errs, validateStrategy(s, field)...)
		if !s.MonitorOnly && !c.Paper.Enabled {
			errs = append(errs, fmt.Sprintf("%s.monitor_only: 未启用 paper 网关时只能运行 monitor_only 策略", field))
		}
	}

	if c.Driver.PollIntervalMs <= 0 {
		errs = append(errs, "driver.poll_interval_ms: 轮询间隔必须为正数")
	}
	if c.Gateway.CallTimeoutMs <= 0 {
		errs = append(errs, "gateway.call_timeout_ms: 调用超时必须为正数")
	}

	if c.Reconcile.Attempts <= 0 {
		errs = append(errs, "reconcile.attempts: 尝试次数必须为正数")
	}
	if c.Reconcile.RetryDelayMs < 0 {
		errs = append(errs, "reconcile.retry_delay_ms: 重试间隔不能为负数")
	}
	switch c.Reconcile.UnresolvedPolicy {
	case UnresolvedRetain, UnresolvedDrop:
	default:
		errs = append(errs, fmt.Sprintf("reconcile.unresolved_policy: 无效的策略 '%s'，有效值: retain, drop", c.Reconcile.UnresolvedPolicy))
	}
	if c.Reconcile.MaxUnresolvedPasses <= 0 {
		errs = append(errs, "reconcile.max_unresolved_passes: 必须为正数")
	}

	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr: ledger.backend=redis 时 Redis 地址不能为空")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger.backend: 无效的存储后端 '%s'，有效值: memory, redis", c.Ledger.Backend))
	}

	if c.Paper.Enabled {
		if err := validateFeeRate(c.Paper.FeeRate, "paper.fee_rate"); err != nil {
			errs = append(errs, err.Error())
		}
		for venue, cur := range c.Paper.Balances {
			for ccy, amount := range cur {
				if amount < 0 {
					errs = append(errs, fmt.Sprintf("paper.balances.%s.%s: 初始余额不能为负数", venue, ccy))
				}
			}
		}
	}

	if c.Output.MetricsIntervalMs <= 0 {
		errs = append(errs, "output.metrics_interval_ms: 指标输出间隔必须为正数")
	}
	if c.Snapshot.IntervalMs <= 0 {
		errs = append(errs, "snapshot.interval_ms: 快照间隔必须为正数")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateStrategy 验证单个策略实例
func validateStrategy(s *StrategyConfig, field string) []string {
	var errs []string

	seen := make(map[string]bool, 3)
	for _, pair := range []struct {
		name string
		id   string
	}{{"base", s.Base}, {"leg1", s.Leg1}, {"leg2", s.Leg2}} {
		if _, err := model.ParseInstrument(pair.id); err != nil {
			errs = append(errs, fmt.Sprintf("%s.%s: %v", field, pair.name, err))
			continue
		}
		if seen[pair.id] {
			errs = append(errs, fmt.Sprintf("%s.%s: 交易对 '%s' 重复", field, pair.name, pair.id))
		}
		seen[pair.id] = true
	}

	if s.Precision < 0 || s.Precision > 12 {
		errs = append(errs, fmt.Sprintf("%s.precision: 精度必须在 0-12 之间", field))
	}
	for _, fee := range []struct {
		name string
		v    float64
	}{{"fee_base", s.FeeBase}, {"fee_leg1", s.FeeLeg1}, {"fee_leg2", s.FeeLeg2}} {
		if err := validateFeeRate(fee.v, field+"."+fee.name); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if s.MinAmountMarket <= 0 {
		errs = append(errs, fmt.Sprintf("%s.min_amount_market: 最小下单量必须为正数", field))
	}
	if s.MaxTradeAmount <= 0 {
		errs = append(errs, fmt.Sprintf("%s.max_trade_amount: 单次最大交易量必须为正数", field))
	}
	if s.MinTradeAmount <= 0 {
		errs = append(errs, fmt.Sprintf("%s.min_trade_amount: 单次交易量必须为正数", field))
	}
	if s.MaxTradeAmount > 0 && s.MinTradeAmount > s.MaxTradeAmount {
		errs = append(errs, fmt.Sprintf("%s.min_trade_amount: 不能大于 max_trade_amount", field))
	}
	if s.ForwardCooldownMs < 0 || s.ReverseCooldownMs < 0 {
		errs = append(errs, fmt.Sprintf("%s: 冷却时间不能为负数", field))
	}
	return errs
}

// validateFeeRate 验证手续费率范围
func validateFeeRate(rate float64, field string) error {
	if rate < 0 || rate >= 1 {
		return fmt.Errorf("%s: 费率必须在 [0, 1) 之间，当前值: %f", field, rate)
	}
	return nil
}

// Instruments 返回全部策略依赖的交易对（去重，保持首次出现顺序）
func (c *Config) Instruments() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range c.Strategies {
		for _, inst := range c.Strategies[i].Instruments() {
			if !seen[inst] {
				seen[inst] = true
				out = append(out, inst)
			}
		}
	}
	return out
}

// Redacted 返回隐藏敏感字段后的副本，用于启动日志
func (c *Config) Redacted() Config {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = "***"
	}
	return out
}
