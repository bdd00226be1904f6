package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagefeed/pagefeed/internal/feed"
	"github.com/pagefeed/pagefeed/internal/storage/memory"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (r *recordingRunner) RunFeed(_ context.Context, feedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, feedID)
	return r.err
}

func TestScheduleFeedRegistersEntry(t *testing.T) {
	t.Parallel()

	s := New(memory.NewStore(), &recordingRunner{}, nil)

	def := feed.FeedDefinition{ID: "f-1", Schedule: "*/5 * * * *"}
	require.NoError(t, s.ScheduleFeed(def))
	assert.True(t, s.Scheduled("f-1"))
}

func TestScheduleFeedRejectsBadExpression(t *testing.T) {
	t.Parallel()

	s := New(memory.NewStore(), &recordingRunner{}, nil)

	err := s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "not a cron"})
	require.Error(t, err)
	assert.False(t, s.Scheduled("f-1"))
}

func TestScheduleFeedRejectsSixFieldExpression(t *testing.T) {
	t.Parallel()

	s := New(memory.NewStore(), &recordingRunner{}, nil)

	err := s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "0 */5 * * * *"})
	require.Error(t, err, "seconds field is not part of the five-field syntax")
}

func TestScheduleFeedReplacesExistingEntry(t *testing.T) {
	t.Parallel()

	s := New(memory.NewStore(), &recordingRunner{}, nil)

	require.NoError(t, s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "*/5 * * * *"}))
	require.NoError(t, s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "0 * * * *"}))

	s.mu.Lock()
	count := len(s.entries)
	s.mu.Unlock()
	assert.Equal(t, 1, count, "rescheduling must not leave the old entry behind")
}

func TestScheduleFeedPausedUnschedules(t *testing.T) {
	t.Parallel()

	s := New(memory.NewStore(), &recordingRunner{}, nil)

	require.NoError(t, s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "*/5 * * * *"}))
	require.NoError(t, s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "*/5 * * * *", Paused: true}))
	assert.False(t, s.Scheduled("f-1"))
}

func TestStopFeedIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(memory.NewStore(), &recordingRunner{}, nil)

	require.NoError(t, s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "*/5 * * * *"}))
	s.StopFeed("f-1")
	s.StopFeed("f-1")
	assert.False(t, s.Scheduled("f-1"))
}

func TestStartRegistersUnpausedFeeds(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateFeed(ctx, feed.FeedDefinition{ID: "active", Name: "a", SourceURL: "https://a.test", Schedule: "*/5 * * * *"}))
	require.NoError(t, store.CreateFeed(ctx, feed.FeedDefinition{ID: "asleep", Name: "b", SourceURL: "https://b.test", Schedule: "*/5 * * * *", Paused: true}))
	require.NoError(t, store.CreateFeed(ctx, feed.FeedDefinition{ID: "broken", Name: "c", SourceURL: "https://c.test", Schedule: "nope"}))

	s := New(store, &recordingRunner{}, nil)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.True(t, s.Scheduled("active"))
	assert.False(t, s.Scheduled("asleep"))
	assert.False(t, s.Scheduled("broken"), "a bad expression skips just that feed")
}

func TestScheduledRunFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{err: errors.New("boom")}
	s := New(memory.NewStore(), runner, nil)
	require.NoError(t, s.ScheduleFeed(feed.FeedDefinition{ID: "f-1", Schedule: "* * * * *"}))

	// Invoke the registered entry directly rather than waiting a minute.
	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	entries[0].Job.Run()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"f-1"}, runner.runs)
}
