// Package edge 机会统计测试
package edge

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"synthetic-arbitrage-engine/internal/core/model"
)

func opp(edge, profit float64, reject string, executed bool) model.Opportunity {
	return model.Opportunity{
		Strategy:     "bfx-btc",
		Direction:    model.DirectionForward,
		Edge:         edge,
		Profit:       profit,
		RejectReason: reject,
		Executed:     executed,
	}
}

func TestCalculator_Empty(t *testing.T) {
	stats := NewCalculator(10).Stats()
	if stats.Count != 0 || stats.HitRate != 0 || stats.AvgEdge != 0 {
		t.Fatalf("空统计应为零值: %+v", stats)
	}
}

func TestCalculator_Aggregates(t *testing.T) {
	c := NewCalculator(100)
	c.Add(opp(0.10, 0.25, "", true))
	c.Add(opp(0.30, 0.75, "", false))
	c.Add(opp(-0.10, 0, model.RejectNoProfit, false))
	c.Add(opp(0.20, 0, model.RejectCooldown, false))

	stats := c.Stats()
	if stats.Count != 4 || stats.Profitable != 2 || stats.Executed != 1 {
		t.Fatalf("计数错误: %+v", stats)
	}
	if math.Abs(stats.HitRate-0.5) > 1e-9 {
		t.Fatalf("HitRate=%f, want 0.5", stats.HitRate)
	}
	if math.Abs(stats.AvgEdge-0.125) > 1e-9 {
		t.Fatalf("AvgEdge=%f, want 0.125", stats.AvgEdge)
	}
	if math.Abs(stats.MaxEdge-0.30) > 1e-9 {
		t.Fatalf("MaxEdge=%f, want 0.30", stats.MaxEdge)
	}
	if math.Abs(stats.AvgProfit-0.5) > 1e-9 {
		t.Fatalf("AvgProfit=%f, want 0.5", stats.AvgProfit)
	}
	if stats.Rejects[model.RejectNoProfit] != 1 || stats.Rejects[model.RejectCooldown] != 1 {
		t.Fatalf("Rejects=%v", stats.Rejects)
	}
}

func TestCalculator_RollingWindow(t *testing.T) {
	c := NewCalculator(2)
	c.Add(opp(1, 1, "", true))
	c.Add(opp(-1, 0, model.RejectNoProfit, false))
	c.Add(opp(-2, 0, model.RejectTooSmall, false))

	stats := c.Stats()
	if stats.Count != 2 || stats.Total != 3 {
		t.Fatalf("Count=%d Total=%d, want 2/3", stats.Count, stats.Total)
	}
	if stats.Profitable != 0 || stats.Executed != 0 {
		t.Fatalf("滚出窗口的样本仍被计入: %+v", stats)
	}
	if stats.MaxEdge != -1 {
		t.Fatalf("MaxEdge=%f, want -1", stats.MaxEdge)
	}
	if len(stats.Rejects) != 2 {
		t.Fatalf("Rejects=%v", stats.Rejects)
	}
}

func TestTracker_Grouping(t *testing.T) {
	tr := NewTracker(10)
	tr.Observe(opp(0.1, 0.1, "", false))
	rev := opp(-0.1, 0, model.RejectNoProfit, false)
	rev.Direction = model.DirectionReverse
	tr.Observe(rev)
	other := opp(0.2, 0.2, "", false)
	other.Strategy = "anx-btc"
	tr.Observe(other)

	all := tr.All()
	if len(all) != 3 {
		t.Fatalf("All=%+v", all)
	}
	if all[0].Strategy != "anx-btc" || all[1].Direction != model.DirectionForward || all[2].Direction != model.DirectionReverse {
		t.Fatalf("排序错误: %+v", all)
	}
	if s := tr.Stats("missing", model.DirectionForward); s.Count != 0 || s.Strategy != "missing" {
		t.Fatalf("未知策略应返回空统计: %+v", s)
	}
}

// **Feature: synthetic-arbitrage-engine, Property: Rolling Statistics Correctness**

func TestCalculator_RollingStats_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 80
	properties := gopter.NewProperties(parameters)

	properties.Property("Stats 与窗口内手工聚合一致", prop.ForAll(
		func(edges []float64, window int) bool {
			c := NewCalculator(window)
			for _, e := range edges {
				reject := ""
				if e <= 0 {
					reject = model.RejectNoProfit
				}
				c.Add(opp(e, e*2, reject, false))
			}

			start := 0
			if len(edges) > window {
				start = len(edges) - window
			}
			tail := edges[start:]

			var count, profitable int64
			var sumEdge float64
			for _, e := range tail {
				count++
				sumEdge += e
				if e > 0 {
					profitable++
				}
			}

			stats := c.Stats()
			if stats.Count != count || stats.Profitable != profitable {
				return false
			}
			if count > 0 && math.Abs(stats.AvgEdge-sumEdge/float64(count)) > 1e-6 {
				return false
			}
			return stats.Total == int64(len(edges))
		},
		gen.SliceOf(gen.Float64Range(-100, 100)),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
