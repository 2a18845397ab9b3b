package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = 10 * time.Second

type scriptedGateway struct {
	results []FetchResult
	calls   []string
}

func (g *scriptedGateway) Fetch(_ context.Context, url string) FetchResult {
	g.calls = append(g.calls, url)
	if len(g.results) == 0 {
		return Transient("script exhausted")
	}
	res := g.results[0]
	g.results = g.results[1:]
	return res
}

func posts(records ...string) FetchResult {
	return Success(json.RawMessage(`{"posts":[` + strings.Join(records, ",") + `]}`))
}

func op(no int, closed int, uniqueIPs int) string {
	return fmt.Sprintf(`{"no":%d,"com":"op","images":0,"replies":0,"unique_ips":%d,"closed":%d}`, no, uniqueIPs, closed)
}

func reply(no int) string {
	return fmt.Sprintf(`{"no":%d,"com":"reply %d"}`, no, no)
}

func newTestThread(opts ThreadOptions) *Thread {
	if opts.Backoff.Base == 0 {
		opts.Backoff = BackoffPolicy{Base: testBase, Factor: 1.5}
	}
	return NewThread("b", 111, "http://upstream/b/thread/111.json", opts)
}

// Scenario A: first poll ingests the OP, an identical payload grows the
// backoff, and a 404 closes the thread.
func TestThreadScenarioA(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{
		posts(op(111, 0, 1)),
		posts(op(111, 0, 1)),
		NotFound(),
	}}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(1_700_000_000, 0)

	require.True(t, th.Poll(context.Background(), gw, now))
	assert.Equal(t, StateActive, th.State())
	assert.Equal(t, testBase, th.Backoff())
	assert.Equal(t, []int64{111}, th.PostIDs())

	now = now.Add(testBase)
	require.True(t, th.Poll(context.Background(), gw, now))
	assert.Equal(t, StateActive, th.State())
	assert.Equal(t, 15*time.Second, th.Backoff())

	now = now.Add(15 * time.Second)
	require.True(t, th.Poll(context.Background(), gw, now))
	assert.Equal(t, StateClosed, th.State())
	assert.Len(t, gw.calls, 3)
}

func TestThreadPollRespectsBackoff(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{posts(op(111, 0, 0)), posts(op(111, 0, 0))}}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(0, 0)

	require.True(t, th.Poll(context.Background(), gw, now))
	assert.False(t, th.Poll(context.Background(), gw, now.Add(testBase-time.Millisecond)))
	assert.Len(t, gw.calls, 1)
	assert.Equal(t, now, th.LastPoll())
	assert.True(t, th.Poll(context.Background(), gw, now.Add(testBase)))
}

func TestThreadFirstPollIgnoresBackoff(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{posts(op(111, 0, 0)), posts(op(111, 0, 0))}}
	th := newTestThread(ThreadOptions{})
	early := time.Time{}.Add(3 * time.Second)

	require.True(t, th.Due(early))
	require.True(t, th.Poll(context.Background(), gw, early))
	assert.Equal(t, 1, th.Len())
	assert.Len(t, gw.calls, 1)
	assert.False(t, th.Due(early.Add(testBase-time.Millisecond)))
	assert.True(t, th.Due(early.Add(testBase)))
}

func TestThreadBackoffResetsOnNewPosts(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{
		posts(op(111, 0, 0)),
		posts(op(111, 0, 0)),
		posts(op(111, 0, 0)),
		posts(op(111, 0, 0), reply(112)),
	}}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(0, 0)
	th.Poll(context.Background(), gw, now)

	want := []time.Duration{15 * time.Second, 22500 * time.Millisecond, testBase}
	for _, w := range want {
		now = now.Add(th.Backoff())
		require.True(t, th.Poll(context.Background(), gw, now))
		assert.Equal(t, w, th.Backoff())
	}
	assert.Equal(t, []int64{111, 112}, th.PostIDs())
}

func TestThreadBackoffCeiling(t *testing.T) {
	t.Parallel()

	policy := BackoffPolicy{Base: testBase, Factor: 2, Max: 30 * time.Second}
	assert.Equal(t, 20*time.Second, policy.Next(testBase, false))
	assert.Equal(t, 30*time.Second, policy.Next(20*time.Second, false))
	assert.Equal(t, 30*time.Second, policy.Next(30*time.Second, false))
	assert.Equal(t, testBase, policy.Next(30*time.Second, true))

	unbounded := BackoffPolicy{Base: testBase, Factor: 2}
	assert.Equal(t, 40*time.Second, unbounded.Next(20*time.Second, false))
	assert.Equal(t, time.Duration(1<<63-1), unbounded.Next(time.Duration(1<<62), false))
}

func TestThreadDeduplicatesRepeatedRecords(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{
		posts(op(111, 0, 0), reply(112)),
		posts(op(111, 0, 0), reply(112), reply(112), reply(113)),
		posts(op(111, 0, 0), reply(113), reply(112), reply(114)),
	}}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		th.Poll(context.Background(), gw, now)
		now = now.Add(time.Hour)
	}
	assert.Equal(t, []int64{111, 112, 113, 114}, th.PostIDs())
	assert.Equal(t, "reply 112", th.Posts()[1].Raw.String("com"))
}

func TestThreadClosesOnClosedMarker(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{posts(op(111, 1, 3), reply(112))}}
	th := newTestThread(ThreadOptions{})
	th.Poll(context.Background(), gw, time.Unix(0, 0))

	assert.Equal(t, StateClosed, th.State())
	assert.True(t, th.OP().Meta.Closed)
	assert.Equal(t, []int64{111, 112}, th.PostIDs())
}

func TestThreadNeverReopens(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{NotFound(), posts(op(111, 0, 0))}}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(0, 0)
	th.Poll(context.Background(), gw, now)
	require.Equal(t, StateClosed, th.State())

	assert.False(t, th.Poll(context.Background(), gw, now.Add(time.Hour)))
	assert.Equal(t, StateClosed, th.State())
	assert.Len(t, gw.calls, 1)
}

func TestThreadNotFoundClosesRegardlessOfBackoff(t *testing.T) {
	t.Parallel()

	results := make([]FetchResult, 0, 8)
	for i := 0; i < 6; i++ {
		results = append(results, posts(op(111, 0, 0)))
	}
	results = append(results, NotFound())
	gw := &scriptedGateway{results: results}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(0, 0)
	for th.State() == StateActive {
		now = now.Add(th.Backoff())
		th.Poll(context.Background(), gw, now)
	}
	assert.Len(t, gw.calls, 7)
	assert.Greater(t, th.Backoff(), testBase)
}

func TestThreadTransientLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{posts(op(111, 0, 0)), Transient("timeout")}}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(0, 0)
	th.Poll(context.Background(), gw, now)
	now = now.Add(testBase)
	th.Poll(context.Background(), gw, now)

	assert.Equal(t, StateActive, th.State())
	assert.Equal(t, testBase, th.Backoff())
	assert.Equal(t, now, th.LastPoll())
	assert.Equal(t, 1, th.Len())
}

// Scenario C: a first record without an id leaves everything unchanged and
// logs a single warning.
func TestThreadScenarioCMissingOPID(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	gw := &scriptedGateway{results: []FetchResult{
		posts(op(111, 0, 0)),
		posts(`{"com":"half written"}`, reply(112)),
	}}
	th := newTestThread(ThreadOptions{Logger: logger})
	now := time.Unix(0, 0)
	th.Poll(context.Background(), gw, now)
	require.Equal(t, 0, warnCount(logs))

	now = now.Add(testBase)
	th.Poll(context.Background(), gw, now)

	assert.Equal(t, StateActive, th.State())
	assert.Equal(t, testBase, th.Backoff())
	assert.Equal(t, []int64{111}, th.PostIDs())
	assert.Equal(t, 1, warnCount(logs))
}

func TestThreadMalformedPayloadIsTransient(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	gw := &scriptedGateway{results: []FetchResult{
		Success(json.RawMessage(`{"posts":"nope"}`)),
		Success(json.RawMessage(`{"posts":[]}`)),
		Success(json.RawMessage(`{"posts":[null]}`)),
	}}
	th := newTestThread(ThreadOptions{Logger: logger})
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		th.Poll(context.Background(), gw, now)
		now = now.Add(testBase)
	}
	assert.Equal(t, StateActive, th.State())
	assert.Equal(t, 0, th.Len())
	assert.Equal(t, testBase, th.Backoff())
	assert.Equal(t, 3, warnCount(logs))
}

func TestThreadPeakUniqueIPsAcrossPolls(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{
		posts(op(111, 0, 50)),
		posts(op(111, 0, 40)),
		posts(op(111, 0, 55)),
	}}
	th := newTestThread(ThreadOptions{})
	now := time.Unix(0, 0)
	var peaks []int64
	for i := 0; i < 3; i++ {
		th.Poll(context.Background(), gw, now)
		peaks = append(peaks, th.OP().Meta.PeakUniqueIPs)
		now = now.Add(time.Hour)
	}
	assert.Equal(t, []int64{50, 50, 55}, peaks)
}

func TestThreadDocs(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{results: []FetchResult{posts(op(111, 1, 0), reply(112))}}
	th := newTestThread(ThreadOptions{})
	th.Poll(context.Background(), gw, time.Unix(0, 0))

	assert.Equal(t, ThreadDoc{Board: "b", No: 111, Posts: []int64{111, 112}}, th.Doc())
	docs := th.PostDocs()
	require.Len(t, docs, 2)
	assert.True(t, docs[0].Closed)
	assert.False(t, docs[1].Closed)
	assert.Equal(t, int64(111), docs[1].Thread)
}
