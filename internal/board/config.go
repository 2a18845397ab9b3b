package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archive"
	"github.com/JakeFAU/board-archiver/internal/progress"
)

// Config is the per-board configuration passed in at construction.
type Config struct {
	Board   string
	BaseURL string
	// DiscoveryPages bounds the index pages merged after the first full scan.
	DiscoveryPages int
	// MinCycle is the minimum wall time of one Run iteration.
	MinCycle time.Duration
	Backoff  archive.BackoffPolicy
	// RunID tags emitted progress events.
	RunID [16]byte
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Board) == "" {
		errs = append(errs, errors.New("board is required"))
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		errs = append(errs, errors.New("base url is required"))
	}
	if c.DiscoveryPages <= 0 {
		errs = append(errs, fmt.Errorf("discovery pages must be positive, got %d", c.DiscoveryPages))
	}
	if c.MinCycle < 0 {
		errs = append(errs, errors.New("min cycle must be >= 0"))
	}
	return errors.Join(errs...)
}

// IndexURL is the board's discovery endpoint.
func (c Config) IndexURL() string {
	return fmt.Sprintf("%s/%s/threads.json", strings.TrimRight(c.BaseURL, "/"), c.Board)
}

// ThreadURL is the detail endpoint of thread id.
func (c Config) ThreadURL(id int64) string {
	return fmt.Sprintf("%s/%s/thread/%d.json", strings.TrimRight(c.BaseURL, "/"), c.Board, id)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher announces every archived thread on topic.
func WithPublisher(pub archive.Publisher, topic string) Option {
	return func(o *Orchestrator) {
		o.publisher = pub
		o.topic = topic
	}
}

// WithEmitter reports cycle and archive progress to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithRichText overrides the extractor handed to new threads.
func WithRichText(rt archive.RichText) Option {
	return func(o *Orchestrator) { o.text = rt }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSleeper replaces the pacing sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
