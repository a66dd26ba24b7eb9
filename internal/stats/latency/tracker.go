// Package latency 统计交易网关调用时延。
// 按交易所维护独立的滚动窗口，输出 P50/P90/P99 与失败、超时计数。
package latency

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// CallStats 网关调用统计快照（滚动窗口）
// 单位：毫秒。
type CallStats struct {
	// Venue 交易所
	Venue string `json:"venue"`
	// Count 调用总数（累计）
	Count int64 `json:"count"`
	// Errors 失败次数（累计，含超时）
	Errors int64 `json:"errors"`
	// Timeouts 超时次数（累计）
	Timeouts int64 `json:"timeouts"`

	// P50Ms 调用耗时 P50（毫秒）
	P50Ms float64 `json:"p50_ms"`
	// P90Ms 调用耗时 P90（毫秒）
	P90Ms float64 `json:"p90_ms"`
	// P99Ms 调用耗时 P99（毫秒）
	P99Ms float64 `json:"p99_ms"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}
	if !w.full {
		w.buf = append(w.buf, v)
		w.full = len(w.buf) == w.size
		return
	}
	w.buf[w.pos] = v
	w.pos = (w.pos + 1) % w.size
}

// quantiles 返回累计样本数与窗口内的分位数值
func (w *rollingWindow) quantiles(qs ...float64) (int64, []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	values := make([]int64, len(qs))
	if len(w.buf) == 0 {
		return w.count, values
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	n := len(tmp)
	for i, q := range qs {
		switch {
		case q <= 0:
			values[i] = tmp[0]
		case q >= 1:
			values[i] = tmp[n-1]
		default:
			values[i] = tmp[int(float64(n-1)*q)]
		}
	}
	return w.count, values
}

type venueTracker struct {
	window   *rollingWindow
	mu       sync.Mutex
	errors   int64
	timeouts int64
}

// Tracker 网关调用时延追踪器
// 交易所在首次记录时自动注册，可被多个策略 goroutine 并发调用。
type Tracker struct {
	windowSize int

	mu     sync.RWMutex
	venues map[string]*venueTracker
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 每个交易所的滚动窗口大小（建议 1000）
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		venues:     make(map[string]*venueTracker),
	}
}

func (t *Tracker) venue(name string) *venueTracker {
	t.mu.RLock()
	vt, ok := t.venues[name]
	t.mu.RUnlock()
	if ok {
		return vt
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if vt, ok = t.venues[name]; ok {
		return vt
	}
	vt = &venueTracker{window: newRollingWindow(t.windowSize)}
	t.venues[name] = vt
	return vt
}

// Record 记录一次网关调用
// 参数 venue: 交易所
// 参数 elapsed: 调用耗时
// 参数 err: 调用结果，context.DeadlineExceeded 计为超时
func (t *Tracker) Record(venue string, elapsed time.Duration, err error) {
	vt := t.venue(venue)
	vt.window.add(elapsed.Nanoseconds())
	if err == nil {
		return
	}

	vt.mu.Lock()
	vt.errors++
	if errors.Is(err, context.DeadlineExceeded) {
		vt.timeouts++
	}
	vt.mu.Unlock()
}

// Stats 获取指定交易所的统计快照
func (t *Tracker) Stats(venue string) CallStats {
	t.mu.RLock()
	vt, ok := t.venues[venue]
	t.mu.RUnlock()
	if !ok {
		return CallStats{Venue: venue}
	}

	count, qs := vt.window.quantiles(0.50, 0.90, 0.99)
	vt.mu.Lock()
	errs, timeouts := vt.errors, vt.timeouts
	vt.mu.Unlock()

	return CallStats{
		Venue:    venue,
		Count:    count,
		Errors:   errs,
		Timeouts: timeouts,
		P50Ms:    float64(qs[0]) / 1_000_000.0,
		P90Ms:    float64(qs[1]) / 1_000_000.0,
		P99Ms:    float64(qs[2]) / 1_000_000.0,
	}
}

// Venues 已记录过调用的交易所（按名称排序）
func (t *Tracker) Venues() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.venues))
	for v := range t.venues {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// All 所有交易所的统计快照
func (t *Tracker) All() []CallStats {
	venues := t.Venues()
	out := make([]CallStats, 0, len(venues))
	for _, v := range venues {
		out = append(out, t.Stats(v))
	}
	return out
}
