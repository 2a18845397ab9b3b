// Package blobsink persists closed threads as JSON documents in a blob store,
// laid out as {prefix}/{board}/threads/{no}.json and {prefix}/{board}/posts/{no}.json.
package blobsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/JakeFAU/board-archiver/internal/archive"
)

// BlobStore is implemented by the local, memory and gcs stores.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Compression selects how documents are encoded before upload.
type Compression int

// Supported compressions.
const (
	CompressionNone Compression = iota
	CompressionZstd
)

// ParseCompression maps a config value onto a Compression.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", name)
	}
}

func (c Compression) extension() string {
	if c == CompressionZstd {
		return ".json.zst"
	}
	return ".json"
}

func (c Compression) contentType() string {
	if c == CompressionZstd {
		return "application/zstd"
	}
	return "application/json"
}

// Sink implements archive.Sink on top of a BlobStore.
type Sink struct {
	store       BlobStore
	prefix      string
	compression Compression
	encoder     *zstd.Encoder
}

// New creates a Sink. prefix may be empty.
func New(store BlobStore, prefix string, compression Compression) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	s := &Sink{
		store:       store,
		prefix:      strings.Trim(prefix, "/"),
		compression: compression,
	}
	if compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("init zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

// ThreadPath returns the object path of a thread document.
func (s *Sink) ThreadPath(board string, no int64) string {
	return s.objectPath(board, "threads", no)
}

// PostPath returns the object path of a post document.
func (s *Sink) PostPath(board string, no int64) string {
	return s.objectPath(board, "posts", no)
}

func (s *Sink) objectPath(board, kind string, no int64) string {
	return path.Join(s.prefix, board, kind, strconv.FormatInt(no, 10)+s.compression.extension())
}

type threadFile struct {
	No    int64   `json:"no"`
	Board string  `json:"board"`
	Posts []int64 `json:"posts"`
}

type postFile struct {
	No     int64          `json:"no"`
	Thread int64          `json:"thread"`
	Closed bool           `json:"closed"`
	Text   string         `json:"text"`
	Quotes []int64        `json:"quotes"`
	Info   archive.Record `json:"info"`
}

// Save writes every post document, then the thread document. A thread file
// therefore implies its posts are complete.
func (s *Sink) Save(ctx context.Context, thread archive.ThreadDoc, posts []archive.PostDoc) error {
	for _, p := range posts {
		quotes := p.Quotes
		if quotes == nil {
			quotes = []int64{}
		}
		doc := postFile{No: p.No, Thread: p.Thread, Closed: p.Closed, Text: p.Text, Quotes: quotes, Info: p.Info}
		if err := s.put(ctx, s.PostPath(p.Board, p.No), doc); err != nil {
			return err
		}
	}
	ids := thread.Posts
	if ids == nil {
		ids = []int64{}
	}
	return s.put(ctx, s.ThreadPath(thread.Board, thread.No), threadFile{No: thread.No, Board: thread.Board, Posts: ids})
}

func (s *Sink) put(ctx context.Context, objectPath string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", objectPath, err)
	}
	if s.encoder != nil {
		body = s.encoder.EncodeAll(body, nil)
	}
	if _, err := s.store.PutObject(ctx, objectPath, s.compression.contentType(), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("put %s: %w", objectPath, err)
	}
	return nil
}
