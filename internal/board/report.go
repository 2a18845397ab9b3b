package board

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/progress"
)

// Report summarizes one cycle. Completed counts are totals since start.
type Report struct {
	Board            string        `json:"board"`
	Cycle            int64         `json:"cycle"`
	Active           int           `json:"active"`
	Discovered       int           `json:"discovered"`
	Polled           int           `json:"polled"`
	Archived         int           `json:"archived"`
	CompletedThreads int64         `json:"completed_threads"`
	CompletedPosts   int64         `json:"completed_posts"`
	Duration         time.Duration `json:"duration_ns"`
	PerThread        time.Duration `json:"per_thread_ns"`
	Uptime           time.Duration `json:"uptime_ns"`
	FinishedAt       time.Time     `json:"finished_at"`
}

// Cycle runs discovery, dispatch and sweep once, then logs, emits and
// records the report.
func (o *Orchestrator) Cycle(ctx context.Context) Report {
	start := o.clock.Now()
	discovered := o.Discover(ctx)
	polled := o.Dispatch(ctx)
	archived, _ := o.Sweep(ctx)
	end := o.clock.Now()

	rep := Report{
		Board:            o.cfg.Board,
		Active:           len(o.threads),
		Discovered:       discovered,
		Polled:           polled,
		Archived:         archived,
		CompletedThreads: o.completedThreads,
		CompletedPosts:   o.completedPosts,
		Duration:         end.Sub(start),
		Uptime:           end.Sub(o.started),
		FinishedAt:       end.UTC(),
	}
	if rep.Active > 0 {
		rep.PerThread = rep.Duration / time.Duration(rep.Active)
	}

	o.mu.Lock()
	if o.last != nil {
		rep.Cycle = o.last.Cycle + 1
	} else {
		rep.Cycle = 1
	}
	o.last = &rep
	o.mu.Unlock()

	o.logger.Info("cycle complete",
		zap.Int64("cycle", rep.Cycle),
		zap.Int("active", rep.Active),
		zap.Int("polled", rep.Polled),
		zap.Int("archived", rep.Archived),
		zap.Duration("duration", rep.Duration),
		zap.Duration("per_thread", rep.PerThread),
		zap.Int64("completed_threads", rep.CompletedThreads),
		zap.Int64("completed_posts", rep.CompletedPosts),
		zap.Duration("uptime", rep.Uptime),
	)
	o.emitter.Emit(progress.Event{
		RunID:   o.cfg.RunID,
		TS:      rep.FinishedAt,
		Stage:   progress.StageCycleDone,
		Board:   o.cfg.Board,
		Threads: int64(rep.Active),
		Posts:   int64(rep.CompletedPosts),
		Dur:     rep.Duration,
	})
	return rep
}

// Stats returns the last cycle report. ok is false before the first cycle.
// Safe for concurrent use.
func (o *Orchestrator) Stats() (Report, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// Run cycles until ctx is done, sleeping out the rest of MinCycle after each
// short cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("board loop started",
		zap.String("index", o.cfg.IndexURL()),
		zap.Int("discovery_pages", o.cfg.DiscoveryPages),
		zap.Duration("min_cycle", o.cfg.MinCycle),
	)
	for ctx.Err() == nil {
		rep := o.Cycle(ctx)
		if rest := o.cfg.MinCycle - rep.Duration; rest > 0 {
			o.sleep(ctx, rest)
		}
	}
	o.logger.Info("board loop stopped", zap.Int("active", len(o.threads)))
	return nil
}
