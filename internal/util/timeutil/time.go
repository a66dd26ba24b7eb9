// Package timeutil 提供时间相关的工具函数。
// 包含单调纳秒时间戳与可注入的时钟（用于冷却窗口测试）。
package timeutil

import (
	"sync"
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// 使用“单调时钟 + 启动时 Unix 时间”组合实现，系统时间跳变时时间差仍保持单调。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NanoToTime 将纳秒时间戳转换为 time.Time
func NanoToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}

// Clock 时钟接口
// 策略的冷却判断通过 Clock 取时间，测试中可替换为手动推进的时钟。
type Clock interface {
	Now() time.Time
}

// SystemClock 基于 NowNano 的系统时钟
type SystemClock struct{}

// Now 返回当前时间
func (SystemClock) Now() time.Time {
	return NanoToTime(NowNano())
}

// ManualClock 手动推进的时钟（并发安全）
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 创建手动时钟
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now 返回当前设定时间
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时钟
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
