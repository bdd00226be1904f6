package api

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pagefeed/pagefeed/internal/feed"
	"github.com/pagefeed/pagefeed/internal/metrics"
	"github.com/pagefeed/pagefeed/internal/render"
)

// deliver serves one rendered feed document with a cache read-through:
// a fresh cached copy is returned as-is, otherwise the document is
// rendered from storage and cached for the next reader.
func (s *Server) deliver(format feed.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		feedID := chi.URLParam(r, "feed_id")

		body, updated, ok := s.cachedDocument(r, feedID, format)
		metrics.ObserveCacheLookup(ok)
		if !ok {
			var status int
			var err error
			body, updated, status, err = s.renderDocument(ctx, feedID, format)
			if err != nil {
				writeError(w, status, err.Error())
				return
			}
		}

		etag := fmt.Sprintf("%q", fmt.Sprintf("%x", sha1.Sum([]byte(body))))
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.cfg.CacheTTL.Seconds())))

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if since, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil {
			if !updated.Truncate(time.Second).After(since) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}

		w.Header().Set("Content-Type", render.ContentType(format))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(body)); err != nil {
			s.deps.Logger.Warn("write feed document failed", zap.Error(err))
		}
	}
}

// cachedDocument reads the cache and decodes the stored payload. Cache
// errors degrade to a miss.
func (s *Server) cachedDocument(r *http.Request, feedID string, format feed.Format) (string, time.Time, bool) {
	raw, ok, err := s.deps.Cache.Get(r.Context(), feed.CacheKey(feedID, format))
	if err != nil {
		s.deps.Logger.Warn("cache read failed", zap.String("feed_id", feedID), zap.Error(err))
		return "", time.Time{}, false
	}
	if !ok {
		return "", time.Time{}, false
	}

	var payload feed.CachePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Older entries stored the bare document.
		return raw, s.now(), true
	}
	updated, err := time.Parse(time.RFC3339, payload.Updated)
	if err != nil {
		updated = s.now()
	}
	return payload.Body, updated, true
}

// renderDocument builds the document from storage and refills the cache.
// The returned status is meaningful only when err is non-nil.
func (s *Server) renderDocument(ctx context.Context, feedID string, format feed.Format) (string, time.Time, int, error) {
	def, err := s.deps.Store.GetFeed(ctx, feedID)
	if errors.Is(err, feed.ErrFeedNotFound) {
		return "", time.Time{}, http.StatusNotFound, errors.New("feed not found")
	}
	if err != nil {
		return "", time.Time{}, http.StatusInternalServerError, fmt.Errorf("load feed: %w", err)
	}
	if !def.Format.Exposes(format) {
		return "", time.Time{}, http.StatusNotFound, fmt.Errorf("feed does not serve %s", format)
	}

	items, err := s.deps.Store.RecentItems(ctx, def.ID, def.MaxItems)
	if err != nil {
		return "", time.Time{}, http.StatusInternalServerError, fmt.Errorf("load items: %w", err)
	}
	if len(items) == 0 {
		ran, runErr := s.hasSuccessfulRun(ctx, def.ID)
		if runErr != nil {
			return "", time.Time{}, http.StatusInternalServerError, fmt.Errorf("load runs: %w", runErr)
		}
		if !ran {
			return "", time.Time{}, http.StatusNotFound, errors.New("feed not generated yet")
		}
	}

	body, err := s.deps.Renderer.Render(format, def, items)
	if err != nil {
		return "", time.Time{}, http.StatusInternalServerError, fmt.Errorf("render: %w", err)
	}

	updated := def.UpdatedAt
	if len(items) > 0 {
		updated = items[0].CreatedAt
	}
	if updated.IsZero() {
		updated = s.now()
	}

	payload, err := json.Marshal(feed.CachePayload{Body: body, Updated: updated.UTC().Format(time.RFC3339)})
	if err == nil {
		if cacheErr := s.deps.Cache.Set(ctx, feed.CacheKey(def.ID, format), string(payload), s.cfg.CacheTTL); cacheErr != nil {
			s.deps.Logger.Warn("cache refill failed", zap.String("feed_id", def.ID), zap.Error(cacheErr))
		}
	}
	return body, updated, http.StatusOK, nil
}

// hasSuccessfulRun reports whether the feed ever finished a run cleanly.
// An empty feed with no successful run behind it has no document to serve.
func (s *Server) hasSuccessfulRun(ctx context.Context, feedID string) (bool, error) {
	runs, err := s.deps.Store.ListRuns(ctx, feedID)
	if err != nil {
		return false, err
	}
	for _, run := range runs {
		if run.Status == feed.RunStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}
