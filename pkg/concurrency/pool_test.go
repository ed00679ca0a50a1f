package concurrency

import (
	"sync/atomic"
	"testing"
	"time"

	"perp_trader/internal/core"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestWorkerPoolSubmit(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "test",
		MaxWorkers:  4,
		MaxCapacity: 100,
	}, &noopLogger{})
	defer pool.Stop()

	var counter int64
	for i := 0; i < 50; i++ {
		if err := pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&counter) != 50 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of 50 tasks ran", atomic.LoadInt64(&counter))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerPoolSubmitAndWait(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "wait", MaxWorkers: 2, MaxCapacity: 10}, &noopLogger{})
	defer pool.Stop()

	done := false
	pool.SubmitAndWait(func() { done = true })
	if !done {
		t.Fatal("SubmitAndWait returned before the task ran")
	}
}

func TestWorkerPoolPanicRecovered(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "panic", MaxWorkers: 1, MaxCapacity: 10}, &noopLogger{})
	defer pool.Stop()

	pool.SubmitAndWait(func() {
		defer func() { _ = recover() }()
	})
	// A panicking task must not kill the pool
	if err := pool.Submit(func() { panic("boom") }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	var ran atomic.Bool
	pool.SubmitAndWait(func() { ran.Store(true) })
	if !ran.Load() {
		t.Fatal("pool stopped accepting work after a panic")
	}
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "BenchmarkPool",
		MaxWorkers:  10,
		MaxCapacity: 1000,
		NonBlocking: false,
	}, &noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	var counter int64
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
}
