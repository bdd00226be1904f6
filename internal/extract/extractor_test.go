package extract

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagefeed/pagefeed/internal/feed"
)

const storiesPage = `<html><body>
<div class="stories">
  <article>
    <h2><a href="/story-1">First story</a></h2>
    <p>Summary one</p>
    <time datetime="2024-01-01">Jan 1</time>
  </article>
  <article>
    <h2><a href="/story-2">Second story</a></h2>
    <p>Summary two</p>
    <time datetime="2024-01-02">Jan 2</time>
  </article>
</div>
</body></html>`

func storiesConfig() feed.FieldsConfig {
	return feed.FieldsConfig{
		ItemList:    &feed.FieldSelector{Selector: ".stories"},
		Item:        &feed.FieldSelector{Selector: "article"},
		Title:       &feed.FieldSelector{Selector: "h2"},
		Link:        &feed.FieldSelector{Selector: "a", Attr: "href", AbsoluteURL: true},
		Description: &feed.FieldSelector{Selector: "p"},
		Date:        &feed.FieldSelector{Selector: "time", Attr: "datetime", DateFormat: "yyyy-MM-dd"},
	}
}

func TestExtractStoriesScenario(t *testing.T) {
	t.Parallel()

	engine := New(Config{})
	items, err := engine.Extract(storiesPage, "https://example.com/news", storiesConfig())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "First story", items[0].Title)
	assert.Equal(t, "https://example.com/story-1", items[0].Link)
	assert.Equal(t, "Summary one", items[0].Description)
	require.NotNil(t, items[0].Date)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *items[0].Date)

	assert.Equal(t, "Second story", items[1].Title)
	assert.Equal(t, "https://example.com/story-2", items[1].Link)
	require.NotNil(t, items[1].Date)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *items[1].Date)
}

func TestExtractDefaultsToBodyChildren(t *testing.T) {
	t.Parallel()

	markup := `<html><body><div><span>one</span></div><div><span>two</span></div></body></html>`
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", feed.FieldsConfig{
		Title: &feed.FieldSelector{Selector: "span"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "one", items[0].Title)
	assert.Equal(t, "two", items[1].Title)
}

func TestGuidDeterministicAcrossPasses(t *testing.T) {
	t.Parallel()

	engine := New(Config{})
	first, err := engine.Extract(storiesPage, "https://example.com/news", storiesConfig())
	require.NoError(t, err)
	second, err := engine.Extract(storiesPage, "https://example.com/news", storiesConfig())
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].GUID, second[i].GUID)
		assert.NotEmpty(t, first[i].GUID)
	}
	assert.NotEqual(t, first[0].GUID, first[1].GUID)
}

func TestMultipleAlwaysReturnsSequence(t *testing.T) {
	t.Parallel()

	markup := `<html><body><article>
	  <span class="tag">go</span><span class="tag">feeds</span>
	</article></body></html>`
	cfg := feed.FieldsConfig{
		Item: &feed.FieldSelector{Selector: "article"},
		Tags: &feed.FieldSelector{Selector: ".tag", Multiple: true},
		Custom: map[string]*feed.FieldSelector{
			"labels": {Selector: ".tag", Multiple: true},
			"lead":   {Selector: ".tag"},
			"none":   {Selector: ".missing", Multiple: true},
		},
	}
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", cfg)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, []string{"go", "feeds"}, items[0].Tags)
	assert.Equal(t, []string{"go", "feeds"}, items[0].Custom["labels"])
	assert.Equal(t, "go", items[0].Custom["lead"])
	// An empty sequence, not an absent key.
	assert.Equal(t, []string{}, items[0].Custom["none"])
}

func TestAbsoluteURLResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		href string
		want string
	}{
		{"relative path", "/story-1", "https://example.com/story-1"},
		{"already absolute", "https://other.org/a", "https://other.org/a"},
		{"malformed stays raw", "https://%zz", "https://%zz"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			markup := fmt.Sprintf(`<html><body><article><a href="%s">x</a></article></body></html>`, tc.href)
			engine := New(Config{})
			items, err := engine.Extract(markup, "https://example.com/news", feed.FieldsConfig{
				Item: &feed.FieldSelector{Selector: "article"},
				Link: &feed.FieldSelector{Selector: "a", Attr: "href", AbsoluteURL: true},
			})
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, tc.want, items[0].Link)
		})
	}
}

func TestDateNormalization(t *testing.T) {
	t.Parallel()

	markup := `<html><body>
	<article><time>2024-01-01</time></article>
	<article><time>not a date at all zzz</time></article>
	</body></html>`
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", feed.FieldsConfig{
		Item: &feed.FieldSelector{Selector: "article"},
		Date: &feed.FieldSelector{Selector: "time", DateFormat: "yyyy-MM-dd"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NotNil(t, items[0].Date)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *items[0].Date)
	assert.Nil(t, items[1].Date)
}

func TestAutoDateUnparseableStaysUnset(t *testing.T) {
	t.Parallel()

	markup := `<html><body><article><time>garbage</time></article></body></html>`
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", feed.FieldsConfig{
		Item: &feed.FieldSelector{Selector: "article"},
		Date: &feed.FieldSelector{Selector: "time", DateFormat: "auto"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Date)
}

func TestRegexAndReplaceRules(t *testing.T) {
	t.Parallel()

	markup := `<html><body><article><span>Episode 42 - Pilot</span></article></body></html>`
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", feed.FieldsConfig{
		Item: &feed.FieldSelector{Selector: "article"},
		Title: &feed.FieldSelector{
			Selector: "span",
			Regex:    `Episode (\d+)`,
		},
		Description: &feed.FieldSelector{
			Selector: "span",
			Replace: []feed.ReplaceRule{
				{From: `Episode \d+ - `, To: ""},
				{From: "Pilot", To: "Premiere"},
			},
		},
		Author: &feed.FieldSelector{
			Selector: "span",
			Regex:    `Season (\d+)`, // no match keeps the original value
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "42", items[0].Title)
	assert.Equal(t, "Premiere", items[0].Description)
	assert.Equal(t, "Episode 42 - Pilot", items[0].Author)
}

func TestSelfTokenAndAttrModes(t *testing.T) {
	t.Parallel()

	markup := `<html><body><article data-id="a7"><b>bold</b> text</article></body></html>`
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", feed.FieldsConfig{
		Item:        &feed.FieldSelector{Selector: "article"},
		Title:       &feed.FieldSelector{Selector: ":self"},
		Description: &feed.FieldSelector{Selector: ":self", Attr: "html"},
		Category:    &feed.FieldSelector{Selector: ":self", Attr: "data-id"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bold text", items[0].Title)
	assert.Equal(t, "<b>bold</b> text", items[0].Description)
	assert.Equal(t, "a7", items[0].Category)
}

func TestXPathArm(t *testing.T) {
	t.Parallel()

	markup := `<html><body><article><h2>Heading</h2><p>one</p><p>two</p></article></body></html>`
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", feed.FieldsConfig{
		Item:  &feed.FieldSelector{Selector: "article"},
		Title: &feed.FieldSelector{XPath: "//h2"},
		Tags:  &feed.FieldSelector{XPath: "//p", Multiple: true},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Heading", items[0].Title)
	assert.Equal(t, []string{"one", "two"}, items[0].Tags)
}

func TestMaxItemsCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "<article><h2>item %d</h2></article>", i)
	}
	b.WriteString("</body></html>")

	engine := New(Config{MaxItems: 3})
	items, err := engine.Extract(b.String(), "https://example.com", feed.FieldsConfig{
		Item:  &feed.FieldSelector{Selector: "article"},
		Title: &feed.FieldSelector{Selector: "h2"},
	})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, "item 0", items[0].Title)
}

func TestMissingFieldDoesNotAbortItem(t *testing.T) {
	t.Parallel()

	markup := `<html><body><article><h2>Only title</h2></article></body></html>`
	engine := New(Config{})
	items, err := engine.Extract(markup, "https://example.com", feed.FieldsConfig{
		Item:        &feed.FieldSelector{Selector: "article"},
		Title:       &feed.FieldSelector{Selector: "h2"},
		Link:        &feed.FieldSelector{Selector: "a", Attr: "href"},
		Description: &feed.FieldSelector{Selector: ".missing"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Only title", items[0].Title)
	assert.Empty(t, items[0].Link)
	assert.Empty(t, items[0].Description)
}
