package feed

import (
	"context"
	"time"
)

// FeedFilter narrows ListFeeds results.
type FeedFilter struct {
	IncludePaused bool
}

// Store persists feed definitions, items and runs. Item inserts use
// skip-on-conflict semantics so overlapping runs cannot corrupt state.
type Store interface {
	GetFeed(ctx context.Context, id string) (FeedDefinition, error)
	ListFeeds(ctx context.Context, filter FeedFilter) ([]FeedDefinition, error)
	CreateFeed(ctx context.Context, def FeedDefinition) error
	UpdateFeed(ctx context.Context, def FeedDefinition) error
	DeleteFeed(ctx context.Context, id string) error

	ListItems(ctx context.Context, feedID string) ([]StoredItem, error)
	RecentItems(ctx context.Context, feedID string, limit int) ([]StoredItem, error)
	CreateItems(ctx context.Context, feedID string, items []ExtractedItem) (int, error)

	CreateRun(ctx context.Context, run FeedRun) error
	UpdateRun(ctx context.Context, run FeedRun) error
	ListRuns(ctx context.Context, feedID string) ([]FeedRun, error)
}

// Fetcher retrieves a fully rendered page.
type Fetcher interface {
	Fetch(ctx context.Context, req PageRequest) (PageResult, error)
	// Close forcibly tears down any open browsing contexts.
	Close(ctx context.Context) error
}

// RobotsPolicy answers whether a target URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// ResponseCache is a TTL key/value store of rendered documents.
// Absence or staleness is never an error for callers; both read as a miss.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Publisher pushes run-completion events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SnapshotStore archives raw page markup and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}
