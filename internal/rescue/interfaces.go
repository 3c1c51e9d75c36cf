package rescue

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when no article exists for a URL.
var ErrNotFound = errors.New("article not found")

// Fetcher issues a single HTTP request and classifies the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// Store persists articles keyed by URL. The pipeline issues get/upsert
// operations only; engine choice belongs to the implementation.
type Store interface {
	Get(ctx context.Context, url string) (Article, error)
	Upsert(ctx context.Context, article Article) error
	List(ctx context.Context) ([]Article, error)
	ListByState(ctx context.Context, states ...LinkState) ([]Article, error)
}

// ProgressStore persists per-article reading progress keyed by URL.
type ProgressStore interface {
	GetProgress(ctx context.Context, url string) (Progress, error)
	UpsertProgress(ctx context.Context, progress Progress) error
	ListProgress(ctx context.Context) ([]Progress, error)
}

// SnapshotIndex answers archive snapshot queries for a URL, newest first.
type SnapshotIndex interface {
	Snapshots(ctx context.Context, url string) ([]Snapshot, error)
}

// BlobStore writes rendered documents and index artifacts, returning a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
