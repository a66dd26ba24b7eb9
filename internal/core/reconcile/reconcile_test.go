package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"synthetic-arbitrage-engine/internal/broker"
	"synthetic-arbitrage-engine/internal/config"
	"synthetic-arbitrage-engine/internal/core/ledger"
	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/util/backoff"
	"synthetic-arbitrage-engine/internal/util/timeutil"
)

type placed struct {
	instrument string
	side       model.Side
	amount     float64
	price      float64
}

// fakeGateway 记录调用并按预设返回结果
type fakeGateway struct {
	mu sync.Mutex

	states map[string]*model.OrderState
	// getFailures 每个订单前 N 次查询返回空结果
	getFailures map[string]int
	cancelErr   error

	gets    int
	cancels []string
	placed  []placed
	nextID  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		states:      map[string]*model.OrderState{},
		getFailures: map[string]int{},
	}
}

func (f *fakeGateway) Venue() string { return "VenueA" }

func (f *fakeGateway) Balances(context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (f *fakeGateway) NewOrder(_ context.Context, instrument string, side model.Side, amount, price float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.placed = append(f.placed, placed{instrument, side, amount, price})
	id := fmt.Sprintf("new-%d", f.nextID)
	f.states[id] = &model.OrderState{ID: id, Status: model.StatusOpen, Amount: amount}
	return id, nil
}

func (f *fakeGateway) GetOrder(_ context.Context, id string) (*model.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if n := f.getFailures[id]; n != 0 {
		if n > 0 {
			f.getFailures[id] = n - 1
		}
		return nil, nil
	}
	s, ok := f.states[id]
	if !ok {
		return nil, broker.ErrUnknownOrder
	}
	cp := *s
	return &cp, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if s, ok := f.states[id]; ok {
		s.Status = model.StatusCanceled
	}
	return nil
}

type memJournal struct {
	mu     sync.Mutex
	events []model.OrderEvent
}

func (j *memJournal) Write(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ev, ok := v.(model.OrderEvent); ok {
		j.events = append(j.events, ev)
	}
	return nil
}

func (j *memJournal) actions() []model.OrderAction {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.OrderAction, 0, len(j.events))
	for _, ev := range j.events {
		out = append(out, ev.Action)
	}
	return out
}

type fixture struct {
	gw      *fakeGateway
	ledger  *ledger.Memory
	journal *memJournal
	rec     *Reconciler
}

func newFixture(policy string) *fixture {
	gw := newFakeGateway()
	l := ledger.NewMemory()
	j := &memJournal{}
	rec := New("test", Config{
		Retry:               backoff.Policy{Attempts: 3, Delay: 0},
		Policy:              policy,
		MaxUnresolvedPasses: 3,
	}, Deps{
		Ledger:    l,
		Gateways:  broker.NewGateways(gw),
		MinAmount: func(string) float64 { return 0.005 },
		Journal:   j,
		Clock:     timeutil.NewManualClock(time.Unix(1700000000, 0)),
		Logger:    zap.NewNop(),
	})
	return &fixture{gw: gw, ledger: l, journal: j, rec: rec}
}

func (f *fixture) track(t *testing.T, id, instrument string, side model.Side, amount, deal float64, status model.OrderStatus) {
	t.Helper()
	f.gw.states[id] = &model.OrderState{ID: id, Status: status, Amount: amount, DealAmount: deal}
	if err := f.ledger.Add(context.Background(), model.Order{
		ID: id, Instrument: instrument, Side: side, Amount: amount, Status: model.StatusOpen,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func snapshot() model.Snapshot {
	return model.Snapshot{
		"VenueA_BT1_USD": {
			Instrument: "VenueA_BT1_USD",
			Bids:       []model.Level{{Price: 54.9, Qty: 10}},
			Asks:       []model.Level{{Price: 55.1, Qty: 10}},
		},
		"VenueA_BTC_USD": {
			Instrument: "VenueA_BTC_USD",
			Bids:       []model.Level{{Price: 99.9, Qty: 10}},
			Asks:       []model.Level{{Price: 100.1, Qty: 10}},
		},
	}
}

func (f *fixture) list(t *testing.T, side model.Side) []model.Order {
	t.Helper()
	orders, err := f.ledger.List(context.Background(), side)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return orders
}

func TestReconcile_EmptySide(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	pending, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
	if pending || err != nil {
		t.Fatalf("空账本应返回 (false, nil), got (%v, %v)", pending, err)
	}
	if f.gw.gets != 0 {
		t.Fatalf("空账本不应调用网关")
	}
}

func TestReconcile_TerminalOrdersRemoved(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	f.track(t, "a", "VenueA_BT1_USD", model.SideSell, 1, 1, model.StatusClosed)
	f.track(t, "b", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusCanceled)

	pending, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
	if !pending || err != nil {
		t.Fatalf("有挂单时应返回 (true, nil), got (%v, %v)", pending, err)
	}
	if got := f.list(t, model.SideSell); len(got) != 0 {
		t.Fatalf("终态订单应移除: %+v", got)
	}
	if len(f.gw.cancels) != 0 || len(f.gw.placed) != 0 {
		t.Fatalf("终态订单不应撤单或下单")
	}

	// 第二次对账为空操作
	gets := f.gw.gets
	pending, err = f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
	if pending || err != nil || f.gw.gets != gets {
		t.Fatalf("第二次对账应为空操作")
	}
}

func TestReconcile_DustRemovedWithoutCancel(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	f.track(t, "dust", "VenueA_BT1_USD", model.SideSell, 1, 0.997, model.StatusOpen)

	pending, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
	if !pending || err != nil {
		t.Fatalf("got (%v, %v)", pending, err)
	}
	if got := f.list(t, model.SideSell); len(got) != 0 {
		t.Fatalf("残量订单应移除: %+v", got)
	}
	if len(f.gw.cancels) != 0 || len(f.gw.placed) != 0 {
		t.Fatalf("残量订单不应撤单或重新下单: cancels=%v placed=%v", f.gw.cancels, f.gw.placed)
	}
	if acts := f.journal.actions(); len(acts) != 1 || acts[0] != model.ActionDust {
		t.Fatalf("journal=%v", acts)
	}
}

func TestReconcile_RepriceAtBestOpposite(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0.4, model.StatusOpen)
	f.track(t, "b1", "VenueA_BTC_USD", model.SideBuy, 2, 0.5, model.StatusOpen)

	if _, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot()); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, err := f.rec.Reconcile(context.Background(), model.SideBuy, snapshot()); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if len(f.gw.cancels) != 2 || f.gw.cancels[0] != "s1" || f.gw.cancels[1] != "b1" {
		t.Fatalf("cancels=%v", f.gw.cancels)
	}
	want := []placed{
		{"VenueA_BT1_USD", model.SideSell, 0.6, 54.9},
		{"VenueA_BTC_USD", model.SideBuy, 1.5, 100.1},
	}
	if len(f.gw.placed) != 2 || f.gw.placed[0] != want[0] || f.gw.placed[1] != want[1] {
		t.Fatalf("placed=%+v, want %+v", f.gw.placed, want)
	}

	sells := f.list(t, model.SideSell)
	if len(sells) != 1 || sells[0].ID != "new-1" || sells[0].Amount != 0.6 {
		t.Fatalf("账本应只包含新订单: %+v", sells)
	}
	buys := f.list(t, model.SideBuy)
	if len(buys) != 1 || buys[0].ID != "new-2" || buys[0].Price != 100.1 {
		t.Fatalf("账本应只包含新订单: %+v", buys)
	}
}

func TestReconcile_CancelFailureAbandons(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	f.gw.cancelErr = errors.New("cancel rejected")
	f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusOpen)

	if _, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(f.gw.cancels) != 3 {
		t.Fatalf("撤单应尝试 3 次, got %d", len(f.gw.cancels))
	}
	if len(f.gw.placed) != 0 {
		t.Fatalf("撤单失败不应重新下单")
	}
	if got := f.list(t, model.SideSell); len(got) != 0 {
		t.Fatalf("放弃的订单应移出账本: %+v", got)
	}
	if acts := f.journal.actions(); len(acts) != 1 || acts[0] != model.ActionAbandoned {
		t.Fatalf("journal=%v", acts)
	}
}

func TestReconcile_TransientQueryFailure(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 1, model.StatusClosed)
	f.gw.getFailures["s1"] = 2

	if _, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if f.gw.gets != 3 {
		t.Fatalf("应在第 3 次查询成功, gets=%d", f.gw.gets)
	}
	if got := f.list(t, model.SideSell); len(got) != 0 {
		t.Fatalf("第 3 次查询成功后应移除: %+v", got)
	}
}

func TestReconcile_UnresolvedRetain(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusOpen)
	f.gw.getFailures["s1"] = -1

	for pass := 1; pass <= 2; pass++ {
		pending, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
		if !pending || err != nil {
			t.Fatalf("pass %d: got (%v, %v)", pass, pending, err)
		}
		got := f.list(t, model.SideSell)
		if len(got) != 1 || got[0].UnresolvedPasses != pass {
			t.Fatalf("pass %d: 状态未知的订单应保留并计数: %+v", pass, got)
		}
	}
	if f.gw.gets != 6 {
		t.Fatalf("每轮应查询 3 次, gets=%d", f.gw.gets)
	}

	// 第 3 轮达到上限后移除
	if _, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := f.list(t, model.SideSell); len(got) != 0 {
		t.Fatalf("超过上限后应移除: %+v", got)
	}
	acts := f.journal.actions()
	if len(acts) != 3 || acts[0] != model.ActionUnresolved || acts[2] != model.ActionDropped {
		t.Fatalf("journal=%v", acts)
	}
}

func TestReconcile_UnresolvedRecoversAndResetsPasses(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusOpen)
	f.gw.getFailures["s1"] = 3

	_, _ = f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
	if got := f.list(t, model.SideSell); len(got) != 1 || got[0].UnresolvedPasses != 1 {
		t.Fatalf("第一轮应保留: %+v", got)
	}

	// 第二轮查询成功，订单仍挂单，撤单后重新下单
	_, _ = f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
	got := f.list(t, model.SideSell)
	if len(got) != 1 || got[0].ID != "new-1" || got[0].UnresolvedPasses != 0 {
		t.Fatalf("恢复后应重新定价: %+v", got)
	}
}

func TestReconcile_UnresolvedDrop(t *testing.T) {
	f := newFixture(config.UnresolvedDrop)
	f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusOpen)
	f.gw.getFailures["s1"] = -1

	if _, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := f.list(t, model.SideSell); len(got) != 0 {
		t.Fatalf("drop 策略应直接移除: %+v", got)
	}
	if len(f.gw.cancels) != 0 || len(f.gw.placed) != 0 {
		t.Fatalf("状态未知不应撤单或下单")
	}
}

// 交易所状态不变时重复对账，账本保持不变（retain 仅累加 UnresolvedPasses）
func TestReconcile_RepeatedPassIsStable(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		f := newFixture(config.UnresolvedDrop)
		f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusOpen)
		f.track(t, "s2", "VenueA_BT1_USD", model.SideSell, 1, 1, model.StatusClosed)
		f.gw.getFailures["s1"] = -1

		pending, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
		if !pending || err != nil {
			t.Fatalf("第一轮应返回 (true, nil), got (%v, %v)", pending, err)
		}
		if got := f.list(t, model.SideSell); len(got) != 0 {
			t.Fatalf("第一轮后账本应为空: %+v", got)
		}

		gets := f.gw.gets
		pending, err = f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
		if pending || err != nil {
			t.Fatalf("第二轮应返回 (false, nil), got (%v, %v)", pending, err)
		}
		if got := f.list(t, model.SideSell); len(got) != 0 {
			t.Fatalf("第二轮后账本应为空: %+v", got)
		}
		if f.gw.gets != gets || len(f.gw.cancels) != 0 || len(f.gw.placed) != 0 {
			t.Fatalf("第二轮不应调用网关")
		}
	})

	t.Run("retain", func(t *testing.T) {
		f := newFixture(config.UnresolvedRetain)
		f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusOpen)
		f.track(t, "s2", "VenueA_BT1_USD", model.SideSell, 2, 0, model.StatusOpen)
		f.gw.getFailures["s1"] = -1
		f.gw.getFailures["s2"] = -1

		if _, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot()); err != nil {
			t.Fatalf("第一轮: %v", err)
		}
		first := f.list(t, model.SideSell)

		pending, err := f.rec.Reconcile(context.Background(), model.SideSell, snapshot())
		if !pending || err != nil {
			t.Fatalf("第二轮应返回 (true, nil), got (%v, %v)", pending, err)
		}
		second := f.list(t, model.SideSell)

		if len(first) != 2 || len(second) != len(first) {
			t.Fatalf("订单数变化: first=%+v second=%+v", first, second)
		}
		for i := range first {
			want := first[i]
			want.UnresolvedPasses++
			if second[i] != want {
				t.Fatalf("除 UnresolvedPasses 外不应变化: first=%+v second=%+v", first[i], second[i])
			}
			if first[i].UnresolvedPasses != 1 || second[i].UnresolvedPasses != 2 {
				t.Fatalf("UnresolvedPasses 应从 1 增至 2: %+v -> %+v", first[i], second[i])
			}
		}
		if len(f.gw.cancels) != 0 || len(f.gw.placed) != 0 {
			t.Fatalf("状态未知不应撤单或下单")
		}
	})
}

func TestReconcile_MissingGateway(t *testing.T) {
	f := newFixture(config.UnresolvedRetain)
	_ = f.ledger.Add(context.Background(), model.Order{ID: "x", Instrument: "VenueZ_BTC_USD", Side: model.SideBuy, Amount: 1})

	if _, err := f.rec.Reconcile(context.Background(), model.SideBuy, snapshot()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got := f.list(t, model.SideBuy)
	if len(got) != 1 || got[0].UnresolvedPasses != 1 {
		t.Fatalf("无网关的订单按未知处理: %+v", got)
	}
}

func TestReconcile_CanceledContextLeavesLedger(t *testing.T) {
	f := newFixture(config.UnresolvedDrop)
	f.track(t, "s1", "VenueA_BT1_USD", model.SideSell, 1, 0, model.StatusOpen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pending, err := f.rec.Reconcile(ctx, model.SideSell, snapshot())
	if !pending || !errors.Is(err, context.Canceled) {
		t.Fatalf("got (%v, %v)", pending, err)
	}
	if got := f.list(t, model.SideSell); len(got) != 1 {
		t.Fatalf("取消时账本不应变化: %+v", got)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.ReconcileConfig{
		Attempts: 3, RetryDelayMs: 500, UnresolvedPolicy: config.UnresolvedRetain, MaxUnresolvedPasses: 10,
	})
	if cfg.Retry.Attempts != 3 || cfg.Retry.Delay != 500*time.Millisecond || cfg.MaxUnresolvedPasses != 10 {
		t.Fatalf("ConfigFrom=%+v", cfg)
	}
}
