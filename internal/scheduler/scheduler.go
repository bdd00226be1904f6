// Package scheduler drives periodic feed refreshes from each feed's cron
// expression.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// FeedRunner executes one feed refresh.
type FeedRunner interface {
	RunFeed(ctx context.Context, feedID string) error
}

// Scheduler owns one cron entry per unpaused feed. Feeds use standard
// five-field cron expressions.
type Scheduler struct {
	store  feed.Store
	runner FeedRunner
	logger *zap.Logger

	cron   *cron.Cron
	parser cron.Parser

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(store feed.Store, runner FeedRunner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		store:   store,
		runner:  runner,
		logger:  logger,
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		parser:  parser,
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers every unpaused feed and begins ticking. Feeds whose
// expressions fail to parse are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	feeds, err := s.store.ListFeeds(ctx, feed.FeedFilter{})
	if err != nil {
		return fmt.Errorf("list feeds for scheduling: %w", err)
	}
	for _, def := range feeds {
		if err := s.ScheduleFeed(def); err != nil {
			s.logger.Error("schedule feed failed",
				zap.String("feed_id", def.ID),
				zap.String("schedule", def.Schedule),
				zap.Error(err))
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("feeds", len(s.entries)))
	return nil
}

// ScheduleFeed registers or replaces the cron entry for a feed. Paused
// feeds are unscheduled.
func (s *Scheduler) ScheduleFeed(def feed.FeedDefinition) error {
	s.StopFeed(def.ID)
	if def.Paused {
		return nil
	}

	if _, err := s.parser.Parse(def.Schedule); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", def.Schedule, err)
	}

	feedID := def.ID
	entryID, err := s.cron.AddFunc(def.Schedule, func() {
		if err := s.runner.RunFeed(context.Background(), feedID); err != nil {
			s.logger.Error("scheduled run failed", zap.String("feed_id", feedID), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register cron entry: %w", err)
	}

	s.mu.Lock()
	s.entries[feedID] = entryID
	s.mu.Unlock()

	s.logger.Info("feed scheduled", zap.String("feed_id", feedID), zap.String("schedule", def.Schedule))
	return nil
}

// StopFeed removes a feed's cron entry. Unknown feeds are a no-op.
func (s *Scheduler) StopFeed(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[feedID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, feedID)
	}
}

// Scheduled reports whether a feed currently has a cron entry.
func (s *Scheduler) Scheduled(feedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[feedID]
	return ok
}

// Stop halts ticking and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
