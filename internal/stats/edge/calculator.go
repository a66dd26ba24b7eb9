// Package edge 统计套利机会的滚动窗口指标。
// 每个策略实例、每个方向维护一个窗口：机会命中率、平均/最大 edge、预期利润与拒绝原因分布。
package edge

import (
	"sort"
	"sync"

	"synthetic-arbitrage-engine/internal/core/model"
)

type sample struct {
	edge       float64
	profit     float64
	profitable bool
	executed   bool
	reject     string
}

// EdgeStats 机会统计（滚动窗口）
type EdgeStats struct {
	// Strategy 策略实例
	Strategy string `json:"strategy"`
	// Direction 方向
	Direction model.Direction `json:"direction"`
	// Count 窗口内评估次数
	Count int64 `json:"count"`
	// Total 累计评估次数
	Total int64 `json:"total"`
	// Profitable 窗口内有利可图次数
	Profitable int64 `json:"profitable"`
	// Executed 窗口内实际下单次数
	Executed int64 `json:"executed"`
	// HitRate 有利可图占比
	HitRate float64 `json:"hit_rate"`
	// AvgEdge 平均 edge（含负值）
	AvgEdge float64 `json:"avg_edge"`
	// MaxEdge 窗口内最大 edge
	MaxEdge float64 `json:"max_edge"`
	// AvgProfit 有利可图样本的平均预期利润
	AvgProfit float64 `json:"avg_profit"`
	// Rejects 拒绝原因分布
	Rejects map[string]int64 `json:"rejects,omitempty"`
}

// Calculator 单个策略方向的滚动统计
// 非并发安全，由 Tracker 加锁访问。
type Calculator struct {
	windowSize int
	buf        []sample
	pos        int
	full       bool

	// 维护滚动统计（O(1) 更新）
	total      int64
	count      int64
	profitable int64
	executed   int64
	sumEdge    float64
	sumProfit  float64
	rejects    map[string]int64
}

// NewCalculator 创建统计窗口
// 参数 windowSize: 滚动窗口大小（建议 1000）
func NewCalculator(windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Calculator{
		windowSize: windowSize,
		buf:        make([]sample, windowSize),
		rejects:    make(map[string]int64),
	}
}

// Add 记录一次评估结果
func (c *Calculator) Add(opp model.Opportunity) {
	s := sample{
		edge:       opp.Edge,
		profit:     opp.Profit,
		profitable: opp.Profitable(),
		executed:   opp.Executed,
		reject:     opp.RejectReason,
	}

	// 若环已满，移除旧样本对统计的贡献
	if c.full {
		c.apply(c.buf[c.pos], -1)
	}

	c.buf[c.pos] = s
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}

	c.total++
	c.apply(s, 1)
}

func (c *Calculator) apply(s sample, sign int64) {
	c.count += sign
	c.sumEdge += float64(sign) * s.edge
	if s.profitable {
		c.profitable += sign
		c.sumProfit += float64(sign) * s.profit
	}
	if s.executed {
		c.executed += sign
	}
	if s.reject != "" {
		c.rejects[s.reject] += sign
		if c.rejects[s.reject] == 0 {
			delete(c.rejects, s.reject)
		}
	}
}

// Stats 返回滚动窗口统计
func (c *Calculator) Stats() EdgeStats {
	out := EdgeStats{
		Count:      c.count,
		Total:      c.total,
		Profitable: c.profitable,
		Executed:   c.executed,
	}
	if c.count <= 0 {
		return out
	}

	out.HitRate = float64(c.profitable) / float64(c.count)
	out.AvgEdge = c.sumEdge / float64(c.count)
	if c.profitable > 0 {
		out.AvgProfit = c.sumProfit / float64(c.profitable)
	}

	n := c.windowSize
	if !c.full {
		n = c.pos
	}
	for i := 0; i < n; i++ {
		if i == 0 || c.buf[i].edge > out.MaxEdge {
			out.MaxEdge = c.buf[i].edge
		}
	}

	out.Rejects = make(map[string]int64, len(c.rejects))
	for k, v := range c.rejects {
		out.Rejects[k] = v
	}
	return out
}

type key struct {
	strategy  string
	direction model.Direction
}

// Tracker 按策略实例与方向分组的机会统计
// 可被多个策略 goroutine 并发调用。
type Tracker struct {
	windowSize int

	mu    sync.Mutex
	calcs map[key]*Calculator
}

// NewTracker 创建机会统计
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		calcs:      make(map[key]*Calculator),
	}
}

// Observe 记录一次评估结果
func (t *Tracker) Observe(opp model.Opportunity) {
	k := key{strategy: opp.Strategy, direction: opp.Direction}

	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calcs[k]
	if !ok {
		c = NewCalculator(t.windowSize)
		t.calcs[k] = c
	}
	c.Add(opp)
}

// Stats 获取指定策略方向的统计
func (t *Tracker) Stats(strategy string, direction model.Direction) EdgeStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out EdgeStats
	if c, ok := t.calcs[key{strategy, direction}]; ok {
		out = c.Stats()
	}
	out.Strategy = strategy
	out.Direction = direction
	return out
}

// All 全部统计，按策略名与方向排序
func (t *Tracker) All() []EdgeStats {
	t.mu.Lock()
	keys := make([]key, 0, len(t.calcs))
	for k := range t.calcs {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].strategy != keys[j].strategy {
			return keys[i].strategy < keys[j].strategy
		}
		return keys[i].direction < keys[j].direction
	})

	out := make([]EdgeStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.Stats(k.strategy, k.direction))
	}
	return out
}
