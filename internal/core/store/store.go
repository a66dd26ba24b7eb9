// Package store 维护所有交易对的最新订单簿状态。
// 行情 goroutine 写入，驱动器按轮询周期读取不可变快照。
package store

import (
	"sync"

	"synthetic-arbitrage-engine/internal/core/model"
)

// Store 最新订单簿缓存
// 可被多个行情 goroutine 并发写入；Snapshot 返回深拷贝，供策略只读使用。
type Store struct {
	mu sync.RWMutex
	// books 按交易对标识（如 OKX_BTC_USDT）缓存最新 BookEvent
	books map[string]*model.BookEvent
	// updates 累计更新次数
	updates uint64
}

// New 创建新的订单簿缓存
func New() *Store {
	return &Store{
		books: make(map[string]*model.BookEvent, 16),
	}
}

// Update 更新缓存
// 参数 ev: 归一化后的订单簿事件
// 同一交易对上到达时间更早的事件会被忽略。
func (s *Store) Update(ev *model.BookEvent) {
	if ev == nil || ev.Instrument == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.books[ev.Instrument]; ok && prev.ArrivedAtUnixNs > ev.ArrivedAtUnixNs {
		return
	}
	s.books[ev.Instrument] = ev
	s.updates++
}

// Get 获取指定交易对的最新订单簿
// 返回值可能为 nil；返回的指针应视为只读。
func (s *Store) Get(instrument string) *model.BookEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[instrument]
}

// Snapshot 生成当前全部交易对的深度快照
// 返回的快照与缓存不共享内存。
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(model.Snapshot, len(s.books))
	for inst, ev := range s.books {
		snap[inst] = ev.Clone()
	}
	return snap
}

// Len 已缓存的交易对数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

// Updates 累计更新次数
func (s *Store) Updates() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}
