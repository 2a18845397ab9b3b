// Package dispatcher runs batches of independent tasks on a bounded pool.
package dispatcher

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when New receives a non-positive limit.
const DefaultConcurrency = 4

// Task is one unit of work. Name identifies it in panic reports.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// Pool executes tasks with at most Concurrency running at once. It keeps no
// state between Run calls beyond counters.
type Pool struct {
	concurrency int
	logger      *zap.Logger
	inFlight    atomic.Int64
	peak        atomic.Int64
	panics      atomic.Int64
}

// New creates a Pool.
func New(concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{concurrency: concurrency, logger: logger}
}

// Concurrency reports the worker limit.
func (p *Pool) Concurrency() int { return p.concurrency }

// InFlight reports how many tasks are currently running.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Peak reports the highest InFlight value observed.
func (p *Pool) Peak() int64 { return p.peak.Load() }

// Panics reports how many tasks panicked since the pool was created.
func (p *Pool) Panics() int64 { return p.panics.Load() }

// Run executes every task and returns once all of them have finished. A
// panicking task is logged and does not affect the others. Tasks not yet
// started when ctx is canceled are skipped.
func (p *Pool) Run(ctx context.Context, tasks []Task) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, task := range tasks {
		if task.Run == nil {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.execute(gctx, task)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) execute(ctx context.Context, task Task) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	task.Run(ctx)
}
