package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/board"
)

type fakeSource struct {
	name   string
	report board.Report
	ready  bool
}

func (f fakeSource) Board() string { return f.name }

func (f fakeSource) Stats() (board.Report, bool) { return f.report, f.ready }

func newTestServer(t *testing.T, checks ...Check) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	s, err := NewServer(Options{
		Boards: []StatsSource{
			fakeSource{name: "g", ready: true, report: board.Report{Board: "g", Cycle: 3, Active: 12, Archived: 2}},
			fakeSource{name: "b"},
		},
		Gatherer:   reg,
		Registerer: reg,
		Checks:     checks,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ok := newTestServer(t, Check{Name: "db", Fn: func(context.Context) error { return nil }})
	rec := serve(t, ok, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	failing := newTestServer(t, Check{Name: "db", Fn: func(context.Context) error { return errors.New("connection refused") }})
	rec = serve(t, failing, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_total 1")
}

func TestServer_RecordsRouteMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	serve(t, s, "/v1/boards/g")
	serve(t, s, "/v1/boards/b")

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `archiver_http_requests_total{code="200",method="GET",route="/v1/boards/{board}"} 2`)
}

func TestServer_ListBoards(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), "/v1/boards")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Boards []boardStatus `json:"boards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Boards, 2)
	assert.Equal(t, "b", body.Boards[0].Board)
	assert.False(t, body.Boards[0].Ready)
	assert.Nil(t, body.Boards[0].Report)
	assert.Equal(t, "g", body.Boards[1].Board)
	require.NotNil(t, body.Boards[1].Report)
	assert.Equal(t, int64(3), body.Boards[1].Report.Cycle)
	assert.Equal(t, 12, body.Boards[1].Report.Active)
}

func TestServer_GetBoard(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := serve(t, s, "/v1/boards/g")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":true`)

	rec = serve(t, s, "/v1/boards/zz")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not archived")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
