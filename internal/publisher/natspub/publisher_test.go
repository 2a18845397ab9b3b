package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/archive"
)

func startServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(3*time.Second), "nats not ready")
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	srv := startServer(t)
	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	ch := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("archive.threads", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := Connect(srv.ClientURL(), "archive.threads")
	require.NoError(t, err)
	defer func() { require.NoError(t, pub.Close()) }()

	evt := archive.ArchivedEvent{Board: "b", Thread: 7, Posts: 2, ArchivedAt: "2026-10-17T00:00:00Z"}
	id, err := pub.Publish(context.Background(), "", evt)
	require.NoError(t, err)

	select {
	case msg := <-ch:
		var got archive.ArchivedEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, evt, got)
		assert.Equal(t, id, msg.Header.Get(nats.MsgIdHdr))
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishRequiresSubject(t *testing.T) {
	t.Parallel()

	pub, err := New(&fakeConn{}, "")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
}

func TestPublishPropagatesConnErrors(t *testing.T) {
	t.Parallel()

	pub, err := New(&fakeConn{publishErr: errors.New("connection closed")}, "s")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "publish to s")

	pub, err = New(&fakeConn{flushErr: context.DeadlineExceeded}, "s")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "other", "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishSetsHeaders(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	pub, err := New(fc, "s")
	require.NoError(t, err)
	id, err := pub.Publish(context.Background(), "", map[string]int{"n": 1})
	require.NoError(t, err)
	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "s", fc.msgs[0].Subject)
	assert.Equal(t, id, fc.msgs[0].Header.Get(nats.MsgIdHdr))
	assert.JSONEq(t, `{"n":1}`, string(fc.msgs[0].Data))
}

func TestPublishFlushAlwaysHasDeadline(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	pub, err := New(fc, "s")
	require.NoError(t, err)

	before := time.Now()
	_, err = pub.Publish(context.Background(), "", "x")
	require.NoError(t, err)
	require.Len(t, fc.deadlines, 1)
	assert.WithinDuration(t, before.Add(DefaultFlushTimeout), fc.deadlines[0], time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	want, _ := ctx.Deadline()
	_, err = pub.Publish(ctx, "", "x")
	require.NoError(t, err)
	require.Len(t, fc.deadlines, 2)
	assert.Equal(t, want, fc.deadlines[1])
}

type fakeConn struct {
	publishErr error
	flushErr   error
	msgs       []*nats.Msg
	deadlines  []time.Time
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return errors.New("nats: context requires a deadline")
	}
	f.deadlines = append(f.deadlines, deadline)
	return f.flushErr
}

func (f *fakeConn) Drain() error { return nil }
