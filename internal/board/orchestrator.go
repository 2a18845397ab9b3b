package board

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archive"
	"github.com/JakeFAU/board-archiver/internal/dispatcher"
	"github.com/JakeFAU/board-archiver/internal/progress"
	"github.com/JakeFAU/board-archiver/internal/richtext"
)

// Pool runs one batch of tasks and returns once they all finished.
type Pool interface {
	Run(ctx context.Context, tasks []dispatcher.Task)
}

// Orchestrator owns one board's working set.
type Orchestrator struct {
	cfg       Config
	gateway   archive.Gateway
	sink      archive.Sink
	pool      Pool
	clock     archive.Clock
	publisher archive.Publisher
	topic     string
	emitter   progress.Emitter
	text      archive.RichText
	sleep     Sleeper

	logger       *zap.Logger
	threadLogger *zap.Logger

	threads map[int64]*archive.Thread
	// done holds archived ids still listed by the index so they are not
	// rediscovered.
	done    map[int64]struct{}
	scanned bool
	started time.Time

	completedThreads int64
	completedPosts   int64

	mu   sync.RWMutex
	last *Report
}

// New builds an Orchestrator. gateway, sink, pool and clock are required.
func New(cfg Config, gateway archive.Gateway, sink archive.Sink, pool Pool, clock archive.Clock, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("board config: %w", err)
	}
	if gateway == nil || sink == nil || pool == nil || clock == nil {
		return nil, fmt.Errorf("board %q: gateway, sink, pool and clock are required", cfg.Board)
	}
	o := &Orchestrator{
		cfg:     cfg,
		gateway: gateway,
		sink:    sink,
		pool:    pool,
		clock:   clock,
		emitter: progress.Discard,
		sleep:   sleepContext,
		logger:  zap.NewNop(),
		text:    richtext.New(""),
		threads: make(map[int64]*archive.Thread),
		done:    make(map[int64]struct{}),
		started: clock.Now(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.threadLogger = o.logger
	o.logger = o.logger.With(zap.String("board", cfg.Board))
	return o, nil
}

// Board returns the board identifier.
func (o *Orchestrator) Board() string { return o.cfg.Board }

// Active returns the working set size. Not safe to call during a cycle.
func (o *Orchestrator) Active() int { return len(o.threads) }

// Thread returns a working-set entry. Not safe to call during a cycle.
func (o *Orchestrator) Thread(id int64) (*archive.Thread, bool) {
	t, ok := o.threads[id]
	return t, ok
}

// Dispatch polls every ACTIVE thread on the pool and returns how many fetched.
// A panicking poll is recovered by the pool and leaves its thread ACTIVE.
func (o *Orchestrator) Dispatch(ctx context.Context) int {
	now := o.clock.Now()
	var polled atomic.Int64
	tasks := make([]dispatcher.Task, 0, len(o.threads))
	for id, t := range o.threads {
		if t.State() != archive.StateActive {
			continue
		}
		tasks = append(tasks, dispatcher.Task{
			Name: fmt.Sprintf("%s/%d", o.cfg.Board, id),
			Run: func(ctx context.Context) {
				if t.Poll(ctx, o.gateway, now) {
					polled.Add(1)
				}
			},
		})
	}
	o.pool.Run(ctx, tasks)
	return int(polled.Load())
}

// Sweep persists every CLOSED thread in ascending id order and evicts the
// ones the sink accepted. Threads whose save failed stay for the next sweep.
func (o *Orchestrator) Sweep(ctx context.Context) (threads, posts int) {
	var closed []int64
	for id, t := range o.threads {
		if t.State() == archive.StateClosed {
			closed = append(closed, id)
		}
	}
	slices.Sort(closed)

	for _, id := range closed {
		t := o.threads[id]
		doc := t.Doc()
		if err := o.sink.Save(ctx, doc, t.PostDocs()); err != nil {
			o.logger.Error("archive save failed; retrying next sweep", zap.Int64("thread", id), zap.Error(err))
			continue
		}
		delete(o.threads, id)
		o.done[id] = struct{}{}
		threads++
		posts += len(doc.Posts)
		o.logger.Info("thread archived", zap.Int64("thread", id), zap.Int("posts", len(doc.Posts)))
		o.announce(ctx, doc)
	}
	o.completedThreads += int64(threads)
	o.completedPosts += int64(posts)
	return threads, posts
}

func (o *Orchestrator) announce(ctx context.Context, doc archive.ThreadDoc) {
	now := o.clock.Now()
	o.emitter.Emit(progress.Event{
		RunID:   o.cfg.RunID,
		TS:      now.UTC(),
		Stage:   progress.StageThreadArchived,
		Board:   o.cfg.Board,
		Threads: 1,
		Posts:   int64(len(doc.Posts)),
	})
	if o.publisher == nil {
		return
	}
	evt := archive.ArchivedEvent{
		Board:      doc.Board,
		Thread:     doc.No,
		Posts:      len(doc.Posts),
		ArchivedAt: now.UTC().Format(time.RFC3339),
	}
	if _, err := o.publisher.Publish(ctx, o.topic, evt); err != nil {
		o.logger.Warn("archive notification failed", zap.Int64("thread", doc.No), zap.Error(err))
	}
}
