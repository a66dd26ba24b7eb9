// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Feature: synthetic-arbitrage-engine, Property: Config Validation Correctness**

func TestConfigValidation_FeeRateRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("费率小于0应验证失败", prop.ForAll(
		func(rate float64) bool {
			cfg := createValidConfig()
			cfg.Strategies[0].FeeLeg1 = rate
			return cfg.Validate() != nil
		},
		gen.Float64Range(-1000, -0.0001),
	))

	properties.Property("费率不小于1应验证失败", prop.ForAll(
		func(rate float64) bool {
			cfg := createValidConfig()
			cfg.Strategies[0].FeeBase = rate
			return cfg.Validate() != nil
		},
		gen.Float64Range(1, 1000),
	))

	properties.Property("费率在有效范围内应通过验证", prop.ForAll(
		func(rate float64) bool {
			cfg := createValidConfig()
			cfg.Strategies[0].FeeBase = rate
			cfg.Strategies[0].FeeLeg1 = rate
			cfg.Strategies[0].FeeLeg2 = rate
			return cfg.Validate() == nil
		},
		gen.Float64Range(0, 0.9999),
	))

	properties.TestingRun(t)
}

func TestConfigValidation_TradeAmounts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("min_trade_amount 大于 max_trade_amount 应验证失败", prop.ForAll(
		func(max, extra float64) bool {
			cfg := createValidConfig()
			cfg.Strategies[0].MaxTradeAmount = max
			cfg.Strategies[0].MinTradeAmount = max + extra
			return cfg.Validate() != nil
		},
		gen.Float64Range(0.001, 100),
		gen.Float64Range(0.001, 100),
	))

	properties.Property("非正的最小下单量应验证失败", prop.ForAll(
		func(v float64) bool {
			cfg := createValidConfig()
			cfg.Strategies[0].MinAmountMarket = v
			return cfg.Validate() != nil
		},
		gen.Float64Range(-100, 0),
	))

	properties.TestingRun(t)
}

func TestConfigValidation_ValidConfig(t *testing.T) {
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("有效配置应通过验证: %v", err)
	}
}

func TestConfigValidation_Instruments(t *testing.T) {
	cfg := createValidConfig()
	cfg.Strategies[0].Leg1 = "BT1USD"
	cfg.Strategies[0].Leg2 = cfg.Strategies[0].Base
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("无效/重复交易对应验证失败")
	}
	if !strings.Contains(err.Error(), "strategies[0].leg1") || !strings.Contains(err.Error(), "strategies[0].leg2") {
		t.Fatalf("错误信息应同时包含 leg1 与 leg2: %v", err)
	}
}

func TestConfigValidation_LiveStrategyNeedsPaper(t *testing.T) {
	cfg := createValidConfig()
	cfg.Strategies[0].MonitorOnly = false
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未启用 paper 时实盘策略应验证失败")
	}
	cfg.Paper.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("启用 paper 后应通过验证: %v", err)
	}
}

func TestConfigValidation_ReconcileAndLedger(t *testing.T) {
	cfg := createValidConfig()
	cfg.Reconcile.UnresolvedPolicy = "forget"
	cfg.Ledger.Backend = "redis"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("应验证失败")
	}
	for _, want := range []string{"reconcile.unresolved_policy", "redis.addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("错误信息缺少 %s: %v", want, err)
		}
	}
}

func TestConfig_MinAmountFor(t *testing.T) {
	s := StrategyConfig{
		MinAmountMarket: 0.005,
		MinAmounts:      map[string]float64{"Bitfinex_BT1_USD": 0.01},
	}
	if got := s.MinAmountFor("Bitfinex_BT1_USD"); got != 0.01 {
		t.Fatalf("MinAmountFor(BT1)=%f, want 0.01", got)
	}
	if got := s.MinAmountFor("Bitfinex_BTC_USD"); got != 0.005 {
		t.Fatalf("MinAmountFor(BTC)=%f, want 0.005", got)
	}
}

func TestConfig_InstrumentsDeduplicated(t *testing.T) {
	cfg := createValidConfig()
	cfg.Strategies = append(cfg.Strategies, StrategyConfig{
		Name: "kraken-bch",
		Base: "Kraken_BCH_USD",
		Leg1: "Bitfinex_BCH_BTC",
		Leg2: "Bitfinex_BTC_USD",
	})
	got := cfg.Instruments()
	want := []string{"Bitfinex_BTC_USD", "Bitfinex_BT1_USD", "Bitfinex_BT2_USD", "Kraken_BCH_USD", "Bitfinex_BCH_BTC"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Instruments=%v, want %v", got, want)
	}
}

func createValidConfig() *Config {
	cfg := &Config{
		App: AppConfig{LogLevel: "info"},
		Strategies: []StrategyConfig{
			{
				Name:            "bfx-btc",
				Base:            "Bitfinex_BTC_USD",
				Leg1:            "Bitfinex_BT1_USD",
				Leg2:            "Bitfinex_BT2_USD",
				MonitorOnly:     true,
				Precision:       2,
				FeeBase:         0.002,
				FeeLeg1:         0.002,
				FeeLeg2:         0.002,
				MinAmountMarket: 0.005,
				MaxTradeAmount:  0.1,
				MinTradeAmount:  0.005,
			},
		},
	}
	cfg.setDefaults()
	return cfg
}

func TestLoad_ValidFile(t *testing.T) {
	content := `
app:
  name: test-engine
  log_level: debug
feeds:
  okx:
    url: wss://ws.okx.com:8443/ws/v5/public
driver:
  poll_interval_ms: 500
reconcile:
  unresolved_policy: drop
paper:
  enabled: true
  fee_rate: 0.001
  balances:
    Bitfinex:
      USD: 10000
      BT1: 1
      BT2: 1
strategies:
  - base: Bitfinex_BTC_USD
    leg1: Bitfinex_BT1_USD
    leg2: Bitfinex_BT2_USD
    fee_base: 0.002
    fee_leg1: 0.002
    fee_leg2: 0.002
    min_amount_market: 0.005
    max_trade_amount: 0.1
    min_trade_amount: 0.005
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("写入临时文件失败: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test-engine" {
		t.Errorf("App.Name = %s, want test-engine", cfg.App.Name)
	}
	if cfg.Driver.PollIntervalMs != 500 {
		t.Errorf("Driver.PollIntervalMs = %d, want 500", cfg.Driver.PollIntervalMs)
	}
	if cfg.Reconcile.Attempts != 3 || cfg.Reconcile.RetryDelayMs != 500 {
		t.Errorf("Reconcile 默认值错误: %+v", cfg.Reconcile)
	}
	if cfg.Reconcile.UnresolvedPolicy != UnresolvedDrop {
		t.Errorf("UnresolvedPolicy = %s, want drop", cfg.Reconcile.UnresolvedPolicy)
	}
	s := cfg.Strategies[0]
	if s.Name != "Bitfinex_BTC_USD|Bitfinex_BT1_USD|Bitfinex_BT2_USD" {
		t.Errorf("默认策略名称错误: %s", s.Name)
	}
	if s.ForwardCooldownMs != 1000 || s.ReverseCooldownMs != 3000 {
		t.Errorf("冷却默认值错误: forward=%d reverse=%d", s.ForwardCooldownMs, s.ReverseCooldownMs)
	}
	if s.Precision != 2 {
		t.Errorf("Precision = %d, want 2", s.Precision)
	}
	if cfg.Paper.Balances["Bitfinex"]["USD"] != 10000 {
		t.Errorf("paper 余额解析错误: %+v", cfg.Paper.Balances)
	}
	if !cfg.Feeds.OKX.Enabled() || cfg.Feeds.Binance.Enabled() {
		t.Errorf("行情源启用状态错误")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ARB_REDIS_ADDR", "127.0.0.1:6380")
	t.Setenv("ARB_REDIS_PASSWORD", "s3cret")

	content := `
ledger:
  backend: redis
strategies:
  - base: Bitfinex_BTC_USD
    leg1: Bitfinex_BT1_USD
    leg2: Bitfinex_BT2_USD
    monitor_only: true
    min_amount_market: 0.005
    max_trade_amount: 0.1
    min_trade_amount: 0.005
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if cfg.Redis.Addr != "127.0.0.1:6380" || cfg.Redis.Password != "s3cret" {
		t.Fatalf("环境变量覆盖失败: %+v", cfg.Redis)
	}
	if red := cfg.Redacted(); red.Redis.Password != "***" {
		t.Fatalf("Redacted 未隐藏密码")
	}
	if cfg.Redis.Password != "s3cret" {
		t.Fatalf("Redacted 不应修改原配置")
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("加载不存在的文件应返回错误")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("invalid: yaml: content:")); err == nil {
		t.Error("加载无效 YAML 应返回错误")
	}
}
