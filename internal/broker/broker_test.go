package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/stats/latency"
)

// stubGateway 可配置的网关桩
type stubGateway struct {
	venue    string
	balances map[string]float64
	err      error
	block    bool
	// release 非 nil 时 NewOrder 忽略 ctx，等待放行后返回订单号
	release  chan struct{}
}

func (s *stubGateway) Venue() string { return s.venue }

func (s *stubGateway) wait(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (s *stubGateway) Balances(ctx context.Context) (map[string]float64, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.balances, nil
}

func (s *stubGateway) NewOrder(ctx context.Context, _ string, _ model.Side, _, _ float64) (string, error) {
	if s.release != nil {
		<-s.release
		return "late-1", nil
	}
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return "id-1", nil
}

func (s *stubGateway) GetOrder(ctx context.Context, id string) (*model.OrderState, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return &model.OrderState{ID: id, Status: model.StatusOpen, Amount: 1}, nil
}

func (s *stubGateway) CancelOrder(ctx context.Context, _ string) error {
	return s.wait(ctx)
}

func TestGateways_Routing(t *testing.T) {
	a := &stubGateway{venue: "VenueA"}
	b := &stubGateway{venue: "VenueB"}
	gws := NewGateways(a, b)

	gw, err := gws.For("VenueB_ETH_BTC")
	if err != nil || gw != b {
		t.Fatalf("For 路由错误: gw=%v err=%v", gw, err)
	}
	if _, err := gws.For("VenueC_ETH_BTC"); !errors.Is(err, ErrNoGateway) {
		t.Fatalf("未注册交易所应返回 ErrNoGateway, got %v", err)
	}
	if _, err := gws.For("bad"); err == nil {
		t.Fatalf("无效交易对应返回错误")
	}
	if v := gws.Venues(); len(v) != 2 || v[0] != "VenueA" || v[1] != "VenueB" {
		t.Fatalf("Venues=%v", v)
	}

	var none *Gateways
	if _, err := none.Venue("VenueA"); !errors.Is(err, ErrNoGateway) {
		t.Fatalf("nil 集合应返回 ErrNoGateway")
	}
}

func TestGateways_Balances(t *testing.T) {
	a := &stubGateway{venue: "VenueA", balances: map[string]float64{"USD": 100, "BTC": 1}}
	b := &stubGateway{venue: "VenueB", balances: map[string]float64{"BTC": 2}}
	gws := NewGateways(a, b)

	bal, err := gws.Balances(context.Background(), "VenueA", "VenueA", "VenueB")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if bal.Available("VenueA", "USD") != 100 || bal.Total("BTC") != 3 {
		t.Fatalf("余额合并错误: %+v", bal)
	}

	// 返回值与网关内部 map 不共享
	bal["VenueA"]["USD"] = 0
	if a.balances["USD"] != 100 {
		t.Fatalf("修改结果影响了网关余额")
	}

	b.err = errors.New("boom")
	if _, err := gws.Balances(context.Background()); err == nil {
		t.Fatalf("任一交易所失败应返回错误")
	}
}

func TestInstrumented_Timeout(t *testing.T) {
	tr := latency.NewTracker(10)
	gw := Instrument(&stubGateway{venue: "VenueA", block: true}, 20*time.Millisecond, tr, nil)

	start := time.Now()
	state, err := gw.GetOrder(context.Background(), "x")
	if state != nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("超时应返回 (nil, DeadlineExceeded), got (%v, %v)", state, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("超时未生效")
	}
	if err := gw.CancelOrder(context.Background(), "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("CancelOrder 超时错误: %v", err)
	}

	stats := tr.Stats("VenueA")
	if stats.Count != 2 || stats.Timeouts != 2 {
		t.Fatalf("时延统计错误: %+v", stats)
	}
}

func TestInstrumented_PassThrough(t *testing.T) {
	tr := latency.NewTracker(10)
	gw := Instrument(&stubGateway{venue: "VenueA", balances: map[string]float64{"USD": 5}}, time.Second, tr, zap.NewNop())

	if gw.Venue() != "VenueA" {
		t.Fatalf("Venue=%s", gw.Venue())
	}
	id, err := gw.NewOrder(context.Background(), "VenueA_BTC_USD", model.SideBuy, 1, 1)
	if err != nil || id != "id-1" {
		t.Fatalf("NewOrder=(%s, %v)", id, err)
	}
	bal, err := gw.Balances(context.Background())
	if err != nil || bal["USD"] != 5 {
		t.Fatalf("Balances=(%v, %v)", bal, err)
	}
	if stats := tr.Stats("VenueA"); stats.Count != 2 || stats.Errors != 0 {
		t.Fatalf("时延统计错误: %+v", stats)
	}
}

func TestInstrumented_LateOrderLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	stub := &stubGateway{venue: "VenueA", release: make(chan struct{})}
	gw := Instrument(stub, 20*time.Millisecond, nil, zap.New(core))

	id, err := gw.NewOrder(context.Background(), "VenueA_BTC_USD", model.SideBuy, 0.5, 100)
	if id != "" || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("超时应返回 (\"\", DeadlineExceeded), got (%q, %v)", id, err)
	}
	close(stub.release)

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterField(zap.String("order_id", "late-1")).Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("超时后提交的订单号应写入日志, logs=%v", logs.All())
		}
		time.Sleep(5 * time.Millisecond)
	}
	entry := logs.FilterField(zap.String("order_id", "late-1")).All()[0]
	if entry.Level != zapcore.ErrorLevel {
		t.Fatalf("日志级别=%s, want error", entry.Level)
	}
	if entry.ContextMap()["instrument"] != "VenueA_BTC_USD" {
		t.Fatalf("日志缺少交易对: %v", entry.ContextMap())
	}
}
