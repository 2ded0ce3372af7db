package collect

import (
	"context"
	"time"
)

// Fetcher executes a single HTTP fetch. Implementations are raw transports;
// politeness, breaking, and retrying live above them.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Adapter turns one source's raw responses into normalized reviews.
// Scrape returns an empty slice, not an error, for a structurally empty page.
type Adapter interface {
	Source() Source
	Scrape(ctx context.Context, req ScrapeRequest) ([]Review, error)
}

// ReviewFilter narrows a LoadReviews call.
type ReviewFilter struct {
	Tool      string
	Source    Source
	MinRating int
	Since     *time.Time
	Limit     int
}

// Store persists collected reviews.
type Store interface {
	SaveReviews(ctx context.Context, tool string, reviews []Review) (int, error)
	LoadReviews(ctx context.Context, filter ReviewFilter) ([]Review, error)
	Close()
}

// BlobStore archives raw page snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher emits collection-completed events.
type Publisher interface {
	Publish(ctx context.Context, event CollectionEvent) error
	Close() error
}

// HeadlessDetector decides whether a probe response needs a browser re-fetch.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// Hasher produces stable content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
