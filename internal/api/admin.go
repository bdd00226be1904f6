package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagefeed/pagefeed/internal/feed"
)

type createFeedRequest struct {
	Name      string            `json:"name"`
	SourceURL string            `json:"source_url"`
	Fields    feed.FieldsConfig `json:"fields"`
	Schedule  string            `json:"schedule"`
	Format    feed.Format       `json:"format"`
	MaxItems  int               `json:"max_items"`
	DedupKey  feed.DedupKey     `json:"dedup_key"`
}

type updateFeedRequest struct {
	Name      *string            `json:"name"`
	SourceURL *string            `json:"source_url"`
	Fields    *feed.FieldsConfig `json:"fields"`
	Schedule  *string            `json:"schedule"`
	Format    *feed.Format       `json:"format"`
	MaxItems  *int               `json:"max_items"`
	DedupKey  *feed.DedupKey     `json:"dedup_key"`
	Paused    *bool              `json:"paused"`
}

func (s *Server) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.deps.Store.ListFeeds(r.Context(), feed.FeedFilter{IncludePaused: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list feeds")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

func (s *Server) createFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	def := feed.FeedDefinition{
		ID:        uuid.NewString(),
		Name:      req.Name,
		SourceURL: req.SourceURL,
		Fields:    req.Fields,
		Schedule:  req.Schedule,
		Format:    req.Format,
		MaxItems:  req.MaxItems,
		DedupKey:  req.DedupKey,
	}
	if def.Format == "" {
		def.Format = feed.FormatAll
	}
	if def.MaxItems == 0 {
		def.MaxItems = 50
	}
	if def.DedupKey == "" {
		def.DedupKey = feed.DedupByLink
	}
	if err := def.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Store.CreateFeed(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create feed")
		return
	}
	if err := s.deps.Scheduler.ScheduleFeed(def); err != nil {
		s.deps.Logger.Error("schedule new feed failed", zap.String("feed_id", def.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"feed": def})
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	def, err := s.deps.Store.GetFeed(r.Context(), feedID)
	if errors.Is(err, feed.ErrFeedNotFound) {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}
	runs, err := s.deps.Store.ListRuns(r.Context(), feedID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": def, "runs": runs})
}

func (s *Server) updateFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	def, err := s.deps.Store.GetFeed(r.Context(), feedID)
	if errors.Is(err, feed.ErrFeedNotFound) {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}

	var req updateFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Name != nil {
		def.Name = *req.Name
	}
	if req.SourceURL != nil {
		def.SourceURL = *req.SourceURL
	}
	if req.Fields != nil {
		def.Fields = *req.Fields
	}
	if req.Schedule != nil {
		def.Schedule = *req.Schedule
	}
	if req.Format != nil {
		def.Format = *req.Format
	}
	if req.MaxItems != nil {
		def.MaxItems = *req.MaxItems
	}
	if req.DedupKey != nil {
		def.DedupKey = *req.DedupKey
	}
	if req.Paused != nil {
		def.Paused = *req.Paused
	}
	if err := def.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Store.UpdateFeed(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update feed")
		return
	}
	if err := s.deps.Scheduler.ScheduleFeed(def); err != nil {
		s.deps.Logger.Error("reschedule feed failed", zap.String("feed_id", def.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": def})
}

func (s *Server) deleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	s.deps.Scheduler.StopFeed(feedID)
	err := s.deps.Store.DeleteFeed(r.Context(), feedID)
	if errors.Is(err, feed.ErrFeedNotFound) {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete feed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) runFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	err := s.deps.Runner.RunFeed(r.Context(), feedID)
	if errors.Is(err, feed.ErrFeedNotFound) {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) pauseFeed(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) resumeFeed(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	feedID := chi.URLParam(r, "feed_id")
	def, err := s.deps.Store.GetFeed(r.Context(), feedID)
	if errors.Is(err, feed.ErrFeedNotFound) {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}

	def.Paused = paused
	if err := s.deps.Store.UpdateFeed(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update feed")
		return
	}
	if err := s.deps.Scheduler.ScheduleFeed(def); err != nil {
		s.deps.Logger.Error("reschedule feed failed", zap.String("feed_id", def.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": def})
}

type testExtractRequest struct {
	HTML   string            `json:"html"`
	URL    string            `json:"url"`
	Fields feed.FieldsConfig `json:"fields"`
}

// testExtract runs the extraction engine over caller-supplied markup so
// operators can iterate on selectors without touching a live feed.
func (s *Server) testExtract(w http.ResponseWriter, r *http.Request) {
	var req testExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.HTML == "" {
		writeJSON(w, http.StatusOK, map[string]any{"items": []feed.ExtractedItem{}})
		return
	}
	items, err := s.deps.Engine.Extract(req.HTML, req.URL, req.Fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
