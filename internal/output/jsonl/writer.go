// Package jsonl 实现异步 JSONL 文件写入。
// 机会、订单事件与周期指标各写一个文件；策略 tick 只负责投递，
// JSON 编码与文件 I/O 在后台 goroutine 完成。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("jsonl: writer 已关闭")

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Stats 写入统计
type Stats struct {
	// Written 已写入的记录数
	Written int64 `json:"written"`
	// Failed 编码或写入失败的记录数
	Failed int64 `json:"failed"`
}

// Writer 异步 JSONL 写入器
// 缓冲通道满时 Write 阻塞，记录不会被静默丢弃。
type Writer struct {
	path string
	ch   chan op

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
	sendMu    sync.Mutex
	wg        sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
}

// Open 在 dir 下打开 <name>.jsonl（追加写）
// 参数 bufferSize: 投递通道容量
func Open(dir, name string, bufferSize int) (*Writer, error) {
	return NewWriter(filepath.Join(dir, name+".jsonl"), bufferSize)
}

// NewWriter 创建 JSONL 写入器
// 参数 path: 输出文件路径
// 参数 bufferSize: 投递通道容量
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path: path,
		ch:   make(chan op, bufferSize),
	}
	w.wg.Add(1)
	go w.loop(f)
	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

// Write 投递一条记录
func (w *Writer) Write(v any) error {
	if w == nil {
		return ErrClosed
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed.Load() {
		return ErrClosed
	}
	w.ch <- op{typ: opWrite, val: v}
	return nil
}

// Flush 等待已投递的记录落盘
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.sendMu.Lock()
	if w.closed.Load() {
		w.sendMu.Unlock()
		return nil
	}
	done := make(chan error, 1)
	w.ch <- op{typ: opFlush, done: done}
	w.sendMu.Unlock()
	return <-done
}

// Close 写完剩余记录后关闭文件，可重复调用
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.sendMu.Lock()
		w.closed.Store(true)
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		close(w.ch)
		w.sendMu.Unlock()
		w.closeErr = <-done
	})
	w.wg.Wait()
	return w.closeErr
}

// Stats 写入统计快照
func (w *Writer) Stats() Stats {
	return Stats{Written: w.written.Load(), Failed: w.failed.Load()}
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()

	bw := bufio.NewWriterSize(f, 1<<20)
	for req := range w.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err == nil {
				b = append(b, '\n')
				_, err = bw.Write(b)
			}
			if err != nil {
				w.failed.Add(1)
				continue
			}
			w.written.Add(1)
		case opFlush:
			req.done <- bw.Flush()
		case opClose:
			err := bw.Flush()
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			req.done <- err
			return
		}
	}
}
