// Package memory implements feed.Store with in-process maps. It backs
// tests and the zero-dependency development mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// Store is an in-memory feed.Store. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	feeds map[string]feed.FeedDefinition
	items map[string][]feed.StoredItem
	runs  map[string]feed.FeedRun
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		feeds: make(map[string]feed.FeedDefinition),
		items: make(map[string][]feed.StoredItem),
		runs:  make(map[string]feed.FeedRun),
		now:   time.Now,
	}
}

func (s *Store) GetFeed(_ context.Context, id string) (feed.FeedDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.feeds[id]
	if !ok {
		return feed.FeedDefinition{}, feed.ErrFeedNotFound
	}
	return def, nil
}

func (s *Store) ListFeeds(_ context.Context, filter feed.FeedFilter) ([]feed.FeedDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]feed.FeedDefinition, 0, len(s.feeds))
	for _, def := range s.feeds {
		if def.Paused && !filter.IncludePaused {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateFeed(_ context.Context, def feed.FeedDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = s.now()
	}
	def.UpdatedAt = def.CreatedAt
	s.feeds[def.ID] = def
	return nil
}

func (s *Store) UpdateFeed(_ context.Context, def feed.FeedDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.feeds[def.ID]
	if !ok {
		return feed.ErrFeedNotFound
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = s.now()
	s.feeds[def.ID] = def
	return nil
}

func (s *Store) DeleteFeed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[id]; !ok {
		return feed.ErrFeedNotFound
	}
	delete(s.feeds, id)
	delete(s.items, id)
	return nil
}

func (s *Store) ListItems(_ context.Context, feedID string) ([]feed.StoredItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]feed.StoredItem(nil), s.items[feedID]...), nil
}

func (s *Store) RecentItems(_ context.Context, feedID string, limit int) ([]feed.StoredItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := append([]feed.StoredItem(nil), s.items[feedID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// CreateItems inserts items, skipping any whose GUID already exists for
// the feed. It returns the number actually inserted.
func (s *Store) CreateItems(_ context.Context, feedID string, items []feed.ExtractedItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]struct{}, len(s.items[feedID]))
	for _, item := range s.items[feedID] {
		existing[item.GUID] = struct{}{}
	}

	inserted := 0
	for _, item := range items {
		if _, dup := existing[item.GUID]; dup {
			continue
		}
		existing[item.GUID] = struct{}{}
		s.items[feedID] = append(s.items[feedID], feed.StoredItem{
			ID:            uuid.NewString(),
			FeedID:        feedID,
			CreatedAt:     s.now(),
			ExtractedItem: item,
		})
		inserted++
	}
	return inserted, nil
}

func (s *Store) CreateRun(_ context.Context, run feed.FeedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *Store) UpdateRun(_ context.Context, run feed.FeedRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return feed.ErrRunNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// ListRuns lists runs for a feed, newest first.
func (s *Store) ListRuns(_ context.Context, feedID string) ([]feed.FeedRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]feed.FeedRun, 0)
	for _, run := range s.runs {
		if run.FeedID == feedID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
