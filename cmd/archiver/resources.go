package main

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/api"
	"github.com/JakeFAU/board-archiver/internal/archive"
	"github.com/JakeFAU/board-archiver/internal/config"
	memorypublisher "github.com/JakeFAU/board-archiver/internal/publisher/memory"
	"github.com/JakeFAU/board-archiver/internal/publisher/natspub"
	pubsubpublisher "github.com/JakeFAU/board-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/board-archiver/internal/storage/blobsink"
	"github.com/JakeFAU/board-archiver/internal/storage/gcs"
	"github.com/JakeFAU/board-archiver/internal/storage/local"
	"github.com/JakeFAU/board-archiver/internal/storage/memory"
	"github.com/JakeFAU/board-archiver/internal/storage/postgres"
)

// resources owns the sinks and publisher shared by every board loop.
type resources struct {
	sink      archive.Sinks
	publisher archive.Publisher
	checks    []api.Check
	closers   []func() error
}

func (r *resources) Close(logger *zap.Logger) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Warn("resource close failed", zap.Error(err))
		}
	}
}

func buildResources(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *resources, err error) {
	res := &resources{}
	defer func() {
		if err != nil {
			res.Close(logger)
		}
	}()

	store, err := buildBlobStore(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	compression, err := blobsink.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	blobs, err := blobsink.New(store, cfg.Storage.Prefix, compression)
	if err != nil {
		return nil, fmt.Errorf("blob sink: %w", err)
	}
	res.sink = append(res.sink, blobs)

	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, func() error { pool.Close(); return nil })
		if cfg.DB.Migrate {
			version, err := postgres.Migrate(pool)
			if err != nil {
				return nil, err
			}
			logger.Info("database migrated", zap.Uint("version", version))
		}
		db, err := postgres.NewArchiveStore(pool)
		if err != nil {
			return nil, err
		}
		res.sink = append(res.sink, db)
		res.checks = append(res.checks, api.Check{Name: "postgres", Fn: db.Ping})
	}

	res.publisher, err = buildPublisher(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	logger.Info("archive resources ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.String("publish", cfg.Publish.Backend),
	)
	return res, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, res *resources) (blobsink.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return memory.NewBlobStore(), nil
	case config.StorageGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		res.closers = append(res.closers, client.Close)
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, res *resources) (archive.Publisher, error) {
	switch cfg.Publish.Backend {
	case config.PublishMemory:
		return memorypublisher.New(1024), nil
	case config.PublishPubSub:
		client, err := gpubsub.NewClient(ctx, cfg.Publish.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := pubsubpublisher.New(client, cfg.Publish.TopicName)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		res.closers = append(res.closers, pub.Close)
		return pub, nil
	case config.PublishNATS:
		pub, err := natspub.Connect(cfg.Publish.NATSURL, cfg.Publish.Subject)
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, pub.Close)
		return pub, nil
	default:
		return nil, nil
	}
}
