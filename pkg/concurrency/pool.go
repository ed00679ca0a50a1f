// Package concurrency wraps alitto/pond behind the small pool surface the
// engine needs for async persistence and fan-out work.
package concurrency

import (
	"fmt"
	"time"

	"perp_trader/internal/core"

	"github.com/alitto/pond"
)

// PoolConfig sizes one named worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // reject instead of blocking when the queue is full
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 10
	}
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = 100
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	return c
}

// WorkerPool is a bounded task runner. Panics inside tasks are recovered and
// logged so one bad persistence write cannot take the pool down.
type WorkerPool struct {
	inner  *pond.WorkerPool
	config PoolConfig
}

func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	cfg = cfg.withDefaults()

	inner := pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(v interface{}) {
			logger.Error("worker pool task panicked", "pool", cfg.Name, "panic", v)
		}),
	)

	return &WorkerPool{inner: inner, config: cfg}
}

// Submit enqueues a task. In non-blocking mode a full queue is an error;
// otherwise the caller blocks until a slot frees up.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.inner.TrySubmit(task) {
			return fmt.Errorf("worker pool %q full at capacity %d", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.inner.Submit(task)
	return nil
}

// SubmitAndWait runs the task on the pool and blocks until it returns
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.inner.Submit(func() {
		defer close(done)
		task()
	})
	<-done
}

// Stop drains queued tasks and waits for running workers to finish
func (wp *WorkerPool) Stop() {
	wp.inner.StopAndWait()
}

// Stats reports pool counters for diagnostics
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  wp.inner.RunningWorkers(),
		"idle_workers":     wp.inner.IdleWorkers(),
		"submitted_tasks":  wp.inner.SubmittedTasks(),
		"waiting_tasks":    wp.inner.WaitingTasks(),
		"successful_tasks": wp.inner.SuccessfulTasks(),
		"failed_tasks":     wp.inner.FailedTasks(),
	}
}
