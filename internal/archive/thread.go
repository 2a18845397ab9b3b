package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// State is a thread's lifecycle state.
type State int

// Thread states. The only transition is StateActive -> StateClosed.
const (
	StateActive State = iota
	StateClosed
)

// String returns the state label.
func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "active"
}

// Default backoff parameters.
const (
	DefaultBaseInterval = 10 * time.Second
	DefaultGrowthFactor = 1.5
)

// BackoffPolicy controls how the minimum interval between polls evolves.
// Max of zero leaves growth unbounded.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoff returns the base-10s, x1.5, unbounded policy.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: DefaultBaseInterval, Factor: DefaultGrowthFactor}
}

func (b BackoffPolicy) normalized() BackoffPolicy {
	if b.Base <= 0 {
		b.Base = DefaultBaseInterval
	}
	if b.Factor < 1 {
		b.Factor = DefaultGrowthFactor
	}
	if b.Max < 0 {
		b.Max = 0
	}
	return b
}

// Next returns the interval following cur: the base when the thread grew,
// otherwise cur scaled by the growth factor (clamped to Max when set).
func (b BackoffPolicy) Next(cur time.Duration, grew bool) time.Duration {
	if grew {
		return b.Base
	}
	scaled := float64(cur) * b.Factor
	next := time.Duration(math.MaxInt64)
	if scaled < float64(math.MaxInt64) {
		next = time.Duration(scaled)
	}
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	if next <= 0 {
		next = b.Base
	}
	return next
}

// ThreadOptions carries the collaborators a Thread needs to ingest posts.
type ThreadOptions struct {
	Backoff BackoffPolicy
	Text    RichText
	Logger  *zap.Logger
}

// Thread owns one thread's polling lifecycle. It is not safe for concurrent
// use; the orchestrator hands each thread to exactly one worker at a time.
type Thread struct {
	Board string
	ID    int64
	URL   string

	state    State
	polled   bool
	lastPoll time.Time
	backoff  time.Duration
	posts    map[int64]*Post
	order    []int64

	policy BackoffPolicy
	text   RichText
	logger *zap.Logger
	// postLogger is unscoped; NewPost adds its own board and thread fields.
	postLogger *zap.Logger
}

// NewThread creates an ACTIVE thread with the backoff at its base interval.
func NewThread(board string, id int64, url string, opts ThreadOptions) *Thread {
	policy := opts.Backoff.normalized()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Thread{
		Board:   board,
		ID:      id,
		URL:     url,
		state:   StateActive,
		backoff: policy.Base,
		posts:   make(map[int64]*Post),
		policy:  policy,
		text:    opts.Text,
		logger:  logger.With(zap.String("board", board), zap.Int64("thread", id)),

		postLogger: logger,
	}
}

// State returns the current lifecycle state.
func (t *Thread) State() State { return t.state }

// Backoff returns the current minimum interval between polls.
func (t *Thread) Backoff() time.Duration { return t.backoff }

// LastPoll returns the time of the last eligible poll.
func (t *Thread) LastPoll() time.Time { return t.lastPoll }

// Len returns the number of known posts.
func (t *Thread) Len() int { return len(t.order) }

// PostIDs returns the known post ids in first-seen order.
func (t *Thread) PostIDs() []int64 {
	return append([]int64(nil), t.order...)
}

// Posts returns the known posts in first-seen order.
func (t *Thread) Posts() []*Post {
	out := make([]*Post, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.posts[id])
	}
	return out
}

// Post returns the post with the given id.
func (t *Thread) Post(id int64) (*Post, bool) {
	p, ok := t.posts[id]
	return p, ok
}

// OP returns the original post, or nil before the first successful poll.
func (t *Thread) OP() *Post {
	if len(t.order) == 0 {
		return nil
	}
	return t.posts[t.order[0]]
}

// Due reports whether a poll at now would fetch. A thread that has never
// been polled is always due.
func (t *Thread) Due(now time.Time) bool {
	if t.state != StateActive {
		return false
	}
	return !t.polled || now.Sub(t.lastPoll) >= t.backoff
}

// Poll fetches the thread if it is ACTIVE and its backoff has elapsed, then
// ingests the result. It reports whether a fetch was made.
func (t *Thread) Poll(ctx context.Context, gw Gateway, now time.Time) bool {
	if !t.Due(now) {
		return false
	}
	t.polled = true
	t.lastPoll = now

	res := gw.Fetch(ctx, t.URL)
	switch res.Kind {
	case FetchNotFound:
		t.close("not found")
	case FetchSuccess:
		t.ingest(res.Payload)
	default:
		// transient: retried on the next eligible cycle with the same backoff
	}
	return true
}

type threadPayload struct {
	Posts []Record `json:"posts"`
}

func decodeThread(payload json.RawMessage) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var tp threadPayload
	if err := dec.Decode(&tp); err != nil {
		return nil, fmt.Errorf("decode thread payload: %w: %w", ErrMalformedPayload, err)
	}
	if len(tp.Posts) == 0 {
		return nil, fmt.Errorf("thread payload without posts: %w", ErrMalformedPayload)
	}
	return tp.Posts, nil
}

func (t *Thread) ingest(payload json.RawMessage) {
	records, err := decodeThread(payload)
	if err != nil {
		t.logger.Warn("unusable thread payload", zap.Error(err))
		return
	}
	first := records[0]
	if first == nil {
		t.logger.Warn("thread payload has an empty original post")
		return
	}
	if _, ok := first.Int(fieldNo); !ok {
		t.logger.Warn("original post has no id; skipping payload")
		return
	}

	prior := len(t.order)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		id, ok := rec.Int(fieldNo)
		if !ok {
			t.logger.Warn("post record without id skipped")
			continue
		}
		if _, known := t.posts[id]; known {
			continue
		}
		p, err := NewPost(t.Board, t.ID, rec, t.text, t.postLogger)
		if err != nil {
			t.logger.Warn("post construction failed", zap.Int64("post", id), zap.Error(err))
			continue
		}
		t.posts[id] = p
		t.order = append(t.order, id)
	}
	t.backoff = t.policy.Next(t.backoff, len(t.order) > prior)

	opID, _ := first.Int(fieldNo)
	op, ok := t.posts[opID]
	if !ok {
		return
	}
	op.Update(first)
	if op.Meta.Closed {
		t.close("closed marker")
	}
}

func (t *Thread) close(reason string) {
	if t.state == StateClosed {
		return
	}
	t.state = StateClosed
	t.logger.Debug("thread closed", zap.String("reason", reason), zap.Int("posts", len(t.order)))
}

// Doc returns the persisted form of the thread.
func (t *Thread) Doc() ThreadDoc {
	return ThreadDoc{Board: t.Board, No: t.ID, Posts: t.PostIDs()}
}

// PostDocs returns the persisted form of every post in first-seen order.
func (t *Thread) PostDocs() []PostDoc {
	out := make([]PostDoc, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.posts[id].Doc())
	}
	return out
}
