package archive

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves the raw body of one feed page.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string, creatorID string) ([]byte, error)
}

// PageDecoder turns a raw feed page body into a FeedPage.
type PageDecoder interface {
	Decode(raw []byte) (FeedPage, error)
}

// MediaFetcher downloads every asset of a post into dir. Individual failures
// are reported in the results, never as a returned error.
type MediaFetcher interface {
	FetchAll(ctx context.Context, dir string, images map[string]MediaAsset) []MediaResult
}

// RenderEngine produces PDF and image bytes for a document or URL.
type RenderEngine interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
	Close(ctx context.Context) error
}

// Dispatcher renders a post and persists the output files.
type Dispatcher interface {
	Dispatch(ctx context.Context, req RenderRequest) (Artifacts, error)
}

// Ledger remembers which posts were already archived.
type Ledger interface {
	Has(ctx context.Context, postID string) (bool, error)
	Record(ctx context.Context, rec Record) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes archive notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes artifact digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
