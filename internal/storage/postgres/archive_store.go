// Package postgres persists closed threads and their posts into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/board-archiver/internal/archive"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ArchiveStore implements archive.Sink with idempotent upserts, so a save
// retried after a partial failure converges on the same rows.
type ArchiveStore struct {
	pool txPool
}

const upsertThread = `
INSERT INTO archived_threads (board, thread_no, post_ids, archived_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (board, thread_no) DO UPDATE
SET post_ids = EXCLUDED.post_ids, archived_at = EXCLUDED.archived_at`

const upsertPost = `
INSERT INTO archived_posts (board, post_no, thread_no, closed, body, quotes, info)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (board, post_no) DO UPDATE
SET thread_no = EXCLUDED.thread_no,
	closed = EXCLUDED.closed,
	body = EXCLUDED.body,
	quotes = EXCLUDED.quotes,
	info = EXCLUDED.info`

// NewPool opens a pgx pool from cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewArchiveStore wraps a pool; *pgxpool.Pool and pgxmock pools both satisfy it.
func NewArchiveStore(pool txPool) (*ArchiveStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ArchiveStore{pool: pool}, nil
}

// Save writes the thread row and every post row in one transaction.
func (s *ArchiveStore) Save(ctx context.Context, thread archive.ThreadDoc, posts []archive.PostDoc) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ids := thread.Posts
	if ids == nil {
		ids = []int64{}
	}
	if _, err = tx.Exec(ctx, upsertThread, thread.Board, thread.No, ids, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert thread %d: %w", thread.No, err)
	}
	for _, p := range posts {
		info, mErr := json.Marshal(stripNUL(map[string]any(p.Info)))
		if mErr != nil {
			err = fmt.Errorf("marshal post %d: %w", p.No, mErr)
			return err
		}
		quotes := p.Quotes
		if quotes == nil {
			quotes = []int64{}
		}
		if _, err = tx.Exec(ctx, upsertPost, p.Board, p.No, p.Thread, p.Closed, strings.ReplaceAll(p.Text, "\x00", ""), quotes, info); err != nil {
			return fmt.Errorf("upsert post %d: %w", p.No, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// stripNUL removes NUL characters from every string and key in v. Postgres
// rejects them in both TEXT and JSONB, which would fail the save forever.
func stripNUL(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "\x00", "")
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.ReplaceAll(k, "\x00", "")] = stripNUL(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripNUL(val)
		}
		return out
	default:
		return v
	}
}

// Ping reports whether the database is reachable.
func (s *ArchiveStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ArchiveStore) Close() {
	s.pool.Close()
}
