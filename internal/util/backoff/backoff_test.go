// Package backoff 退避与重试测试
package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Feature: synthetic-arbitrage-engine, Property: Exponential Backoff Bounds**

func TestBackoff_Bounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("无抖动时单调不减且不超过上限", prop.ForAll(
		func(baseMs int, maxMs int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			b := New(base, max, 0)

			prev := time.Duration(0)
			for i := 0; i < 10; i++ {
				delay := b.Next()
				if delay > max || delay < prev {
					return false
				}
				prev = delay
			}
			return true
		},
		gen.IntRange(100, 2000),
		gen.IntRange(5000, 60000),
	))

	properties.Property("抖动后仍在 ±jitter 范围内", prop.ForAll(
		func(jitterPercent int) bool {
			jitter := float64(jitterPercent) / 100.0
			b := New(time.Second, 30*time.Second, jitter)
			for i := 0; i < 20; i++ {
				b.Reset()
				d := float64(b.Next())
				if d < float64(time.Second)*(1-jitter) || d > float64(time.Second)*(1+jitter) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestBackoff_SpecificValues(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("第 %d 次: got %v, want %v", i, got, w)
		}
	}
	b.Reset()
	if b.Attempt() != 0 || b.Next() != time.Second {
		t.Fatalf("Reset 后应从基础值重新开始")
	}
}

func TestBackoff_StaysAtMaxAfterManyAttempts(t *testing.T) {
	b := New(time.Millisecond, time.Minute, 0)
	for i := 0; i < 200; i++ {
		d := b.Next()
		if d <= 0 || d > time.Minute {
			t.Fatalf("第 %d 次: delay=%v 超出 (0, 1m]", i, d)
		}
	}
	if d := b.Next(); d != time.Minute {
		t.Fatalf("封顶后应保持上限, got %v", d)
	}
}

func TestWait_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("取消后应立即返回")
	}
	if err := Wait(context.Background(), 0); err != nil {
		t.Fatalf("零间隔应直接返回 nil, got %v", err)
	}
}

func TestRetry_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), Policy{Attempts: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err=%v, want nil", err)
	}
	if n != 3 || calls != 3 {
		t.Fatalf("attempts=%d calls=%d, want 3/3", n, calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	start := time.Now()
	n, err := Retry(context.Background(), Policy{Attempts: 3, Delay: 5 * time.Millisecond}, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Fatalf("err=%v, want ErrExhausted wrapping boom", err)
	}
	if n != 3 || calls != 3 {
		t.Fatalf("attempts=%d calls=%d, want 3/3", n, calls)
	}
	// 3 次尝试之间只有 2 次等待
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("elapsed=%v, want >= 10ms", elapsed)
	}
}

func TestRetry_WithBackoffSchedule(t *testing.T) {
	b := New(time.Millisecond, 4*time.Millisecond, 0)
	_ = b.Next()
	_ = b.Next()

	calls := 0
	_, _ = Retry(context.Background(), Policy{Attempts: 4, Schedule: b}, func(context.Context) error {
		calls++
		return errors.New("x")
	})
	if calls != 4 {
		t.Fatalf("calls=%d, want 4", calls)
	}
	// Retry 开始前重置序列，3 次等待依次为 1ms/2ms/4ms
	if b.Attempt() != 3 {
		t.Fatalf("Attempt=%d, want 3", b.Attempt())
	}
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = Retry(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, Policy{Attempts: 5, Delay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("x")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}
