package archive

import (
	"context"
	"time"
)

// Gateway fetches a URL and classifies the outcome. Implementations never
// panic or return errors; every failure is expressed in the FetchResult.
type Gateway interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// RichText converts an embedded markup fragment into plain text plus the
// hrefs of every intra-thread reference marker it contains.
type RichText interface {
	Extract(fragment string) (Extraction, error)
}

// Extraction is the result of a RichText pass over one fragment.
type Extraction struct {
	Text       string
	References []string
}

// Sink persists a closed thread and all of its posts. Save must be idempotent:
// a failed save is retried on the next sweep.
type Sink interface {
	Save(ctx context.Context, thread ThreadDoc, posts []PostDoc) error
}

// Publisher pushes archive notifications to Pub/Sub, NATS, or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
