// Package main runs the board archiver service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/board-archiver/internal/api"
	"github.com/JakeFAU/board-archiver/internal/board"
	"github.com/JakeFAU/board-archiver/internal/clock/system"
	"github.com/JakeFAU/board-archiver/internal/config"
	"github.com/JakeFAU/board-archiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/board-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/board-archiver/internal/id/uuid"
	"github.com/JakeFAU/board-archiver/internal/logging"
	"github.com/JakeFAU/board-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/board-archiver/internal/progress"
	"github.com/JakeFAU/board-archiver/internal/progress/sinks"
	"github.com/JakeFAU/board-archiver/internal/richtext"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("archiver failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	runID, err := uuid.NewRunID()
	if err != nil {
		return err
	}
	runBytes := uuid.Bytes(runID)
	logger = logger.With(zap.String("run_id", runID.String()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		promSink, sinks.NewLogSink(logger.Named("progress")))

	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Upstream.RequestsPerSecond,
		Burst: cfg.Upstream.Burst,
	}, logger.Named("ratelimit"))
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Upstream.UserAgent,
		ConnectTimeout: cfg.Upstream.ConnectTimeout,
		ReadTimeout:    cfg.Upstream.ReadTimeout,
		MaxBodySize:    cfg.Upstream.MaxBodySize,
		RunID:          runBytes,
	}, logger.Named("fetcher"), collyfetcher.WithRateLimiter(limiter), collyfetcher.WithEmitter(hub))

	res, err := buildResources(ctx, cfg, logger)
	if err != nil {
		closeHub(hub, logger)
		return err
	}
	defer res.Close(logger)

	clock := system.New()
	text := richtext.New("")
	var orchestrators []*board.Orchestrator
	for _, name := range cfg.Archive.Boards {
		pool := dispatcher.New(cfg.Archive.Concurrency, logger.Named("dispatcher").With(zap.String("board", name)))
		opts := []board.Option{
			board.WithEmitter(hub),
			board.WithRichText(text),
			board.WithLogger(logger.Named("board")),
		}
		if res.publisher != nil {
			opts = append(opts, board.WithPublisher(res.publisher, cfg.Topic()))
		}
		orch, err := board.New(board.Config{
			Board:          name,
			BaseURL:        cfg.Upstream.BaseURL,
			DiscoveryPages: cfg.Archive.DiscoveryPages,
			MinCycle:       cfg.Archive.MinCycle,
			Backoff:        cfg.Backoff(),
			RunID:          runBytes,
		}, fetcher, res.sink, pool, clock, opts...)
		if err != nil {
			closeHub(hub, logger)
			return fmt.Errorf("board %s: %w", name, err)
		}
		orchestrators = append(orchestrators, orch)
	}

	var srv *http.Server
	if cfg.Server.Port > 0 {
		sources := make([]api.StatsSource, 0, len(orchestrators))
		for _, o := range orchestrators {
			sources = append(sources, o)
		}
		apiServer, err := api.NewServer(api.Options{
			Boards:     sources,
			Gatherer:   reg,
			Registerer: reg,
			Checks:     res.checks,
			Logger:     logger.Named("api"),
		})
		if err != nil {
			closeHub(hub, logger)
			return err
		}
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, o := range orchestrators {
		g.Go(func() error {
			logger.Info("board loop started", zap.String("board", o.Board()))
			return o.Run(gctx)
		})
	}
	runErr := g.Wait()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}

func closeHub(hub *progress.Hub, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
}
