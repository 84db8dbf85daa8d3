package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// Fetcher performs a single GET. Retries belong to the Collector.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RawStore keeps the raw capture log keyed by URL.
type RawStore interface {
	SavePage(ctx context.Context, page RawPage) error
}

// ArtifactSink receives the crawl output records.
type ArtifactSink interface {
	AddBasic(ctx context.Context, rec catalog.Record) error
	AddDetailed(ctx context.Context, rec catalog.Record) error
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher digests raw bodies so repeated captures can be compared.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock stamps captures and records.
type Clock interface {
	Now() time.Time
}

// Publisher emits the run summary.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
