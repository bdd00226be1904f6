// Package runner orchestrates one end-to-end feed refresh: fetch the
// source page, extract items, persist what is new and rebuild the cached
// documents.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagefeed/pagefeed/internal/extract"
	"github.com/pagefeed/pagefeed/internal/feed"
	"github.com/pagefeed/pagefeed/internal/metrics"
	"github.com/pagefeed/pagefeed/internal/render"
)

// Config controls run behavior.
type Config struct {
	// UserAgent is sent with page fetches and robots.txt checks.
	UserAgent string
	// CacheTTL bounds how long rendered documents stay cached.
	CacheTTL time.Duration
	// EventTopic, when set with a Publisher, receives a RunEvent after
	// every finished run.
	EventTopic string
}

// Deps collects the runner's collaborators. Snapshots and Publisher are
// optional.
type Deps struct {
	Store     feed.Store
	Fetcher   feed.Fetcher
	Engine    *extract.Engine
	Renderer  *render.Generator
	Cache     feed.ResponseCache
	Snapshots feed.SnapshotStore
	Publisher feed.Publisher
	Logger    *zap.Logger
}

// Runner executes feed refreshes.
type Runner struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// RunEvent is the payload published after a finished run.
type RunEvent struct {
	RunID     string `json:"run_id"`
	FeedID    string `json:"feed_id"`
	Status    string `json:"status"`
	ItemCount int    `json:"item_count"`
	Message   string `json:"message,omitempty"`
}

func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("extraction engine is required")
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("response cache is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 120 * time.Second
	}
	return &Runner{cfg: cfg, deps: deps, now: time.Now}, nil
}

// RunFeed refreshes a single feed. A run row records the attempt, closing
// as success or error exactly once. The run error is returned to the
// caller after the row is closed.
func (r *Runner) RunFeed(ctx context.Context, feedID string) error {
	def, err := r.deps.Store.GetFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("load feed %s: %w", feedID, err)
	}

	started := r.now()
	run := feed.FeedRun{
		ID:        uuid.NewString(),
		FeedID:    def.ID,
		Status:    feed.RunStatusRunning,
		StartedAt: started,
	}
	if err := r.deps.Store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	log := r.deps.Logger.With(zap.String("feed_id", def.ID), zap.String("run_id", run.ID))
	itemCount, runErr := r.execute(ctx, def, log)

	finished := r.now()
	run.FinishedAt = &finished
	run.ItemCount = itemCount
	if runErr != nil {
		run.Status = feed.RunStatusError
		run.Message = runErr.Error()
		log.Error("feed run failed", zap.Error(runErr))
	} else {
		run.Status = feed.RunStatusSuccess
		log.Info("feed run finished", zap.Int("items", itemCount), zap.Duration("took", finished.Sub(started)))
	}
	if err := r.deps.Store.UpdateRun(ctx, run); err != nil {
		log.Error("close run failed", zap.Error(err))
	}
	metrics.ObserveRun(string(run.Status), finished.Sub(started))
	r.publishEvent(ctx, run, log)

	if runErr != nil {
		return fmt.Errorf("run feed %s: %w", def.ID, runErr)
	}
	return nil
}

// execute performs the fetch-extract-persist-render pipeline and returns
// the item count reported on the run row.
func (r *Runner) execute(ctx context.Context, def feed.FeedDefinition, log *zap.Logger) (int, error) {
	page, err := r.deps.Fetcher.Fetch(ctx, feed.PageRequest{URL: def.SourceURL, UserAgent: r.cfg.UserAgent})
	if err != nil {
		metrics.ObserveFetch(def.SourceURL, "error")
		return 0, fmt.Errorf("fetch page: %w", err)
	}
	metrics.ObserveFetch(def.SourceURL, "ok")
	r.archiveSnapshot(ctx, def, page, log)

	items, err := r.deps.Engine.Extract(page.HTML, page.FinalURL, def.Fields)
	if err != nil {
		return 0, fmt.Errorf("extract items: %w", err)
	}

	fresh, err := r.dedupe(ctx, def, items)
	if err != nil {
		return 0, err
	}
	if len(fresh) > 0 {
		inserted, err := r.deps.Store.CreateItems(ctx, def.ID, fresh)
		if err != nil {
			return 0, fmt.Errorf("persist items: %w", err)
		}
		metrics.ObserveItemsInserted(def.ID, inserted)
	}

	recent, err := r.deps.Store.RecentItems(ctx, def.ID, def.MaxItems)
	if err != nil {
		return 0, fmt.Errorf("load recent items: %w", err)
	}
	if err := r.refreshCache(ctx, def, recent); err != nil {
		return len(recent), err
	}
	return len(recent), nil
}

// dedupe removes items already stored for the feed, keyed by link or guid
// per the feed's dedup setting. Items within the batch dedupe against each
// other too. Items missing the key value always pass.
func (r *Runner) dedupe(ctx context.Context, def feed.FeedDefinition, items []feed.ExtractedItem) ([]feed.ExtractedItem, error) {
	existing, err := r.deps.Store.ListItems(ctx, def.ID)
	if err != nil {
		return nil, fmt.Errorf("load existing items: %w", err)
	}

	byLink := def.DedupKey == feed.DedupByLink
	key := func(guid, link string) string {
		if byLink {
			return link
		}
		return guid
	}

	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		if k := key(item.GUID, item.Link); k != "" {
			seen[k] = struct{}{}
		}
	}

	fresh := make([]feed.ExtractedItem, 0, len(items))
	for _, item := range items {
		k := key(item.GUID, item.Link)
		if k == "" {
			fresh = append(fresh, item)
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		fresh = append(fresh, item)
	}
	return fresh, nil
}

// refreshCache renders every format and stores the documents with a shared
// freshness stamp: the newest item's storage time, or now for empty feeds.
func (r *Runner) refreshCache(ctx context.Context, def feed.FeedDefinition, recent []feed.StoredItem) error {
	updated := r.now()
	if len(recent) > 0 {
		updated = recent[0].CreatedAt
	}
	stamp := updated.UTC().Format(time.RFC3339)

	for _, format := range def.Format.Renderings() {
		body, err := r.deps.Renderer.Render(format, def, recent)
		if err != nil {
			return fmt.Errorf("render %s: %w", format, err)
		}
		payload, err := json.Marshal(feed.CachePayload{Body: body, Updated: stamp})
		if err != nil {
			return fmt.Errorf("encode cache payload: %w", err)
		}
		if err := r.deps.Cache.Set(ctx, feed.CacheKey(def.ID, format), string(payload), r.cfg.CacheTTL); err != nil {
			return fmt.Errorf("cache %s: %w", format, err)
		}
	}
	return nil
}

// archiveSnapshot stores the raw page markup when an archive is configured.
// Archive failures never fail the run.
func (r *Runner) archiveSnapshot(ctx context.Context, def feed.FeedDefinition, page feed.PageResult, log *zap.Logger) {
	if r.deps.Snapshots == nil {
		return
	}
	path := fmt.Sprintf("%s/%s.html", def.ID, r.now().UTC().Format("2006-01-02T15-04-05Z"))
	uri, err := r.deps.Snapshots.PutObject(ctx, path, "text/html", []byte(page.HTML))
	if err != nil {
		log.Warn("snapshot archive failed", zap.Error(err))
		return
	}
	log.Debug("snapshot archived", zap.String("uri", uri))
}

// publishEvent emits a run-completion event when a publisher and topic are
// configured. Publish failures never fail the run.
func (r *Runner) publishEvent(ctx context.Context, run feed.FeedRun, log *zap.Logger) {
	if r.deps.Publisher == nil || r.cfg.EventTopic == "" {
		return
	}
	event := RunEvent{
		RunID:     run.ID,
		FeedID:    run.FeedID,
		Status:    string(run.Status),
		ItemCount: run.ItemCount,
		Message:   run.Message,
	}
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.EventTopic, event); err != nil {
		log.Warn("run event publish failed", zap.Error(err))
	}
}
