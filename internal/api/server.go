package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/board"
)

// StatsSource exposes one board loop's last report.
type StatsSource interface {
	Board() string
	Stats() (board.Report, bool)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Boards   []StatsSource
	Gatherer prometheus.Gatherer
	// Registerer receives the request metrics; nil skips them.
	Registerer prometheus.Registerer
	Checks     []Check
	Logger     *zap.Logger
	// RequestTimeout bounds every handler (default 10s).
	RequestTimeout time.Duration
}

// Server serves the status routes.
type Server struct {
	router chi.Router
	boards map[string]StatsSource
	names  []string
	checks []Check
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		boards: make(map[string]StatsSource, len(opts.Boards)),
		checks: opts.Checks,
		logger: logger,
	}
	for _, src := range opts.Boards {
		s.boards[src.Board()] = src
		s.names = append(s.names, src.Board())
	}
	sort.Strings(s.names)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	if opts.Registerer != nil {
		m, err := newHTTPMetrics(opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
		r.Use(m.middleware)
	}
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1/boards", func(r chi.Router) {
		r.Get("/", s.listBoards)
		r.Get("/{board}", s.getBoard)
	})

	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for _, c := range s.checks {
		if err := c.Fn(r.Context()); err != nil {
			failures[c.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type boardStatus struct {
	Board  string        `json:"board"`
	Ready  bool          `json:"ready"`
	Report *board.Report `json:"report,omitempty"`
}

func (s *Server) status(name string) boardStatus {
	st := boardStatus{Board: name}
	if rep, ok := s.boards[name].Stats(); ok {
		st.Ready = true
		st.Report = &rep
	}
	return st
}

func (s *Server) listBoards(w http.ResponseWriter, _ *http.Request) {
	out := make([]boardStatus, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.status(name))
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": out})
}

func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "board")
	if _, ok := s.boards[name]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("board %q is not archived", name))
		return
	}
	writeJSON(w, http.StatusOK, s.status(name))
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
