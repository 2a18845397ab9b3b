// Package collyfetcher implements archive.Gateway using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archive"
	"github.com/JakeFAU/board-archiver/internal/progress"
)

// Default timeouts used when Config leaves them unset.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// RateLimiter gates outbound requests.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// MaxBodySize caps response bodies in bytes. Zero or less reads the
	// whole body; a body that reaches the cap is treated as transient.
	MaxBodySize int
	// RunID tags FETCH_DONE progress events.
	RunID [16]byte
}

// Fetcher implements archive.Gateway using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       RateLimiter
	emitter       progress.Emitter
	logger        *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRateLimiter waits on l before every request.
func WithRateLimiter(l RateLimiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithEmitter reports every fetch outcome to e.
func WithEmitter(e progress.Emitter) Option {
	return func(f *Fetcher) { f.emitter = e }
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Fetcher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Non-2xx responses must reach OnResponse so 404 can be told apart.
	c.ParseHTTPErrorResponse = true
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.ConnectTimeout + cfg.ReadTimeout)
	if cfg.MaxBodySize < 0 {
		cfg.MaxBodySize = 0
	}
	c.MaxBodySize = cfg.MaxBodySize

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type outcome struct {
	status int
	body   []byte
	err    error
}

// Fetch executes a single HTTP GET and classifies the result. It never panics.
func (f *Fetcher) Fetch(ctx context.Context, url string) (res archive.FetchResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = archive.Transient(fmt.Sprintf("fetch panic: %v", r))
			f.logger.Error("fetch panicked", zap.String("url", url), zap.Any("panic", r))
		}
		f.emit(url, res, time.Since(start))
	}()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return f.transient(url, "rate limit wait", zap.Error(err))
		}
	}

	var out outcome
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &out)

	if err := collector.Visit(url); err != nil && out.err == nil {
		out.err = err
	}
	return f.classify(url, out)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, out *outcome) {
	hooks.OnResponse(func(r *colly.Response) {
		out.status = r.StatusCode
		out.body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			out.status = r.StatusCode
		}
		out.err = err
	})
}

func (f *Fetcher) classify(url string, out outcome) archive.FetchResult {
	switch {
	case out.status == http.StatusNotFound:
		f.logger.Info("upstream reports not found", zap.String("url", url))
		return archive.NotFound()
	case out.err != nil && out.status == 0:
		return f.transient(url, "request failed", zap.Error(out.err))
	case out.status != http.StatusOK:
		return f.transient(url, "unexpected status", zap.Int("status_code", out.status))
	}

	if f.cfg.MaxBodySize > 0 && len(out.body) >= f.cfg.MaxBodySize {
		return f.transient(url, "body exceeds max size", zap.Int("max_body_size", f.cfg.MaxBodySize))
	}
	payload, err := parsePayload(out.body)
	if err != nil {
		return f.transient(url, "unusable body", zap.Error(err), zap.Int("bytes", len(out.body)))
	}
	return archive.Success(payload)
}

func (f *Fetcher) transient(url, reason string, fields ...zap.Field) archive.FetchResult {
	f.logger.Warn(reason, append([]zap.Field{zap.String("url", url)}, fields...)...)
	return archive.Transient(reason)
}

// parsePayload accepts only well-formed JSON that is not null or empty.
func parsePayload(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body: %w", archive.ErrMalformedPayload)
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null body: %w", archive.ErrMalformedPayload)
	case map[string]any:
		if len(val) == 0 {
			return nil, fmt.Errorf("empty object: %w", archive.ErrMalformedPayload)
		}
	case []any:
		if len(val) == 0 {
			return nil, fmt.Errorf("empty array: %w", archive.ErrMalformedPayload)
		}
	case string:
		if val == "" {
			return nil, fmt.Errorf("empty string: %w", archive.ErrMalformedPayload)
		}
	}
	return json.RawMessage(trimmed), nil
}

func (f *Fetcher) emit(url string, res archive.FetchResult, dur time.Duration) {
	if f.emitter == nil {
		return
	}
	f.emitter.Emit(progress.Event{
		RunID:   f.cfg.RunID,
		TS:      time.Now().UTC(),
		Stage:   progress.StageFetchDone,
		URL:     url,
		Outcome: res.Kind.String(),
		Dur:     dur,
		Note:    res.Reason,
	})
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
