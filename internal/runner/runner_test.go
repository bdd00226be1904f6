package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagefeed/pagefeed/internal/cache"
	"github.com/pagefeed/pagefeed/internal/extract"
	"github.com/pagefeed/pagefeed/internal/feed"
	pubmemory "github.com/pagefeed/pagefeed/internal/publisher/memory"
	"github.com/pagefeed/pagefeed/internal/render"
	"github.com/pagefeed/pagefeed/internal/storage/memory"
)

type stubFetcher struct {
	html string
	url  string
	err  error
}

func (s *stubFetcher) Fetch(_ context.Context, req feed.PageRequest) (feed.PageResult, error) {
	if s.err != nil {
		return feed.PageResult{}, s.err
	}
	finalURL := s.url
	if finalURL == "" {
		finalURL = req.URL
	}
	return feed.PageResult{HTML: s.html, FinalURL: finalURL, StatusCode: 200}, nil
}

func (s *stubFetcher) Close(context.Context) error { return nil }

const storiesPage = `<html><body>
<div class="stories">
  <article><h2>First</h2><a href="/a">more</a></article>
  <article><h2>Second</h2><a href="/b">more</a></article>
</div>
</body></html>`

func storiesDefinition() feed.FeedDefinition {
	return feed.FeedDefinition{
		ID:        "f-1",
		Name:      "Stories",
		SourceURL: "https://example.com/stories",
		Schedule:  "*/30 * * * *",
		Format:    feed.FormatAll,
		MaxItems:  50,
		DedupKey:  feed.DedupByLink,
		Fields: feed.FieldsConfig{
			ItemList: &feed.FieldSelector{Selector: ".stories"},
			Item:     &feed.FieldSelector{Selector: "article"},
			Title:    &feed.FieldSelector{Selector: "h2"},
			Link:     &feed.FieldSelector{Selector: "a", Attr: "href", AbsoluteURL: true},
		},
	}
}

func newTestRunner(t *testing.T, fetcher feed.Fetcher) (*Runner, *memory.Store, *cache.Memory, *pubmemory.Publisher) {
	t.Helper()

	store := memory.NewStore()
	respCache := cache.NewMemory()
	publisher := pubmemory.New()

	r, err := New(
		Config{UserAgent: "pagefeed-test", EventTopic: "feed-runs"},
		Deps{
			Store:     store,
			Fetcher:   fetcher,
			Engine:    extract.New(extract.Config{}),
			Renderer:  render.NewGenerator(render.Config{}),
			Cache:     respCache,
			Publisher: publisher,
		},
	)
	require.NoError(t, err)
	return r, store, respCache, publisher
}

func TestRunFeedSuccess(t *testing.T) {
	t.Parallel()

	r, store, respCache, publisher := newTestRunner(t, &stubFetcher{html: storiesPage})
	ctx := context.Background()
	require.NoError(t, store.CreateFeed(ctx, storiesDefinition()))

	require.NoError(t, r.RunFeed(ctx, "f-1"))

	items, err := store.ListItems(ctx, "f-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "https://example.com/a", items[0].Link)

	for _, format := range []feed.Format{feed.FormatRSS, feed.FormatAtom, feed.FormatJSONFeed} {
		raw, ok, err := respCache.Get(ctx, feed.CacheKey("f-1", format))
		require.NoError(t, err)
		require.True(t, ok, "expected cached %s document", format)

		var payload feed.CachePayload
		require.NoError(t, json.Unmarshal([]byte(raw), &payload))
		assert.NotEmpty(t, payload.Body)
		assert.NotEmpty(t, payload.Updated)
	}

	runs, err := store.ListRuns(ctx, "f-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, feed.RunStatusSuccess, runs[0].Status)
	assert.Equal(t, 2, runs[0].ItemCount)
	require.NotNil(t, runs[0].FinishedAt)

	events := publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "feed-runs", events[0].Topic)
	event, ok := events[0].Payload.(RunEvent)
	require.True(t, ok)
	assert.Equal(t, "success", event.Status)
}

func TestRunFeedSecondPassInsertsNothing(t *testing.T) {
	t.Parallel()

	r, store, _, _ := newTestRunner(t, &stubFetcher{html: storiesPage})
	ctx := context.Background()
	require.NoError(t, store.CreateFeed(ctx, storiesDefinition()))

	require.NoError(t, r.RunFeed(ctx, "f-1"))
	require.NoError(t, r.RunFeed(ctx, "f-1"))

	items, err := store.ListItems(ctx, "f-1")
	require.NoError(t, err)
	assert.Len(t, items, 2, "unchanged page must not grow the item set")
}

func TestRunFeedHashDedupSecondPassInsertsNothing(t *testing.T) {
	t.Parallel()

	r, store, _, _ := newTestRunner(t, &stubFetcher{html: storiesPage})
	ctx := context.Background()
	def := storiesDefinition()
	def.DedupKey = feed.DedupByHash
	require.NoError(t, store.CreateFeed(ctx, def))

	require.NoError(t, r.RunFeed(ctx, "f-1"))
	require.NoError(t, r.RunFeed(ctx, "f-1"))

	items, err := store.ListItems(ctx, "f-1")
	require.NoError(t, err)
	assert.Len(t, items, 2, "identical guids must dedupe across runs")

	runs, err := store.ListRuns(ctx, "f-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, feed.RunStatusSuccess, run.Status)
		assert.Equal(t, 2, run.ItemCount)
	}
}

func TestRunFeedFetchFailureClosesRunAsError(t *testing.T) {
	t.Parallel()

	fetchErr := fmt.Errorf("%w: https://example.com/stories", feed.ErrFetchDenied)
	r, store, respCache, _ := newTestRunner(t, &stubFetcher{err: fetchErr})
	ctx := context.Background()
	require.NoError(t, store.CreateFeed(ctx, storiesDefinition()))

	err := r.RunFeed(ctx, "f-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, feed.ErrFetchDenied))

	runs, err := store.ListRuns(ctx, "f-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, feed.RunStatusError, runs[0].Status)
	assert.NotEmpty(t, runs[0].Message)
	require.NotNil(t, runs[0].FinishedAt)

	_, ok, _ := respCache.Get(ctx, feed.CacheKey("f-1", feed.FormatRSS))
	assert.False(t, ok, "failed run must not populate the cache")
}

func TestRunFeedUnknownFeed(t *testing.T) {
	t.Parallel()

	r, store, _, _ := newTestRunner(t, &stubFetcher{html: storiesPage})

	err := r.RunFeed(context.Background(), "missing")
	assert.ErrorIs(t, err, feed.ErrFeedNotFound)

	runs, listErr := store.ListRuns(context.Background(), "missing")
	require.NoError(t, listErr)
	assert.Empty(t, runs, "no run row for an unknown feed")
}

func TestRunFeedRespectsMaxItemsInRenderedOutput(t *testing.T) {
	t.Parallel()

	def := storiesDefinition()
	def.MaxItems = 1

	r, store, respCache, _ := newTestRunner(t, &stubFetcher{html: storiesPage})
	ctx := context.Background()
	require.NoError(t, store.CreateFeed(ctx, def))

	require.NoError(t, r.RunFeed(ctx, "f-1"))

	raw, ok, err := respCache.Get(ctx, feed.CacheKey("f-1", feed.FormatJSONFeed))
	require.NoError(t, err)
	require.True(t, ok)

	var payload feed.CachePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	var doc struct {
		Items []any `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload.Body), &doc))
	assert.Len(t, doc.Items, 1)

	runs, err := store.ListRuns(ctx, "f-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].ItemCount, "run item count reflects the rendered window")
}
