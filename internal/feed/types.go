// Package feed defines core types shared across subsystems.
package feed

import (
	"time"
)

// Format selects which rendered documents a feed exposes.
type Format string

// Output format values stored on a feed definition.
const (
	FormatRSS      Format = "rss"
	FormatAtom     Format = "atom"
	FormatJSONFeed Format = "jsonfeed"
	FormatAll      Format = "all"
)

// DedupKey selects the identity field used to decide whether an item is new.
type DedupKey string

// Dedup key values.
const (
	DedupByLink DedupKey = "link"
	DedupByHash DedupKey = "hash"
)

// RunStatus represents the lifecycle state of a feed run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// ReplaceRule is one ordered find/replace applied to an extracted value.
type ReplaceRule struct {
	From string `json:"from" mapstructure:"from"`
	To   string `json:"to" mapstructure:"to"`
}

// SelectorKind discriminates how a FieldSelector locates content.
type SelectorKind int

// Selector kinds, in resolution order.
const (
	SelectorUnset SelectorKind = iota
	SelectorXPath
	SelectorCSS
)

// FieldSelector is one extraction rule mapping page content to a named
// feed attribute.
type FieldSelector struct {
	Selector    string        `json:"selector,omitempty" mapstructure:"selector"`
	XPath       string        `json:"xpath,omitempty" mapstructure:"xpath"`
	Attr        string        `json:"attr,omitempty" mapstructure:"attr"`
	Regex       string        `json:"regex,omitempty" mapstructure:"regex"`
	Replace     []ReplaceRule `json:"replace,omitempty" mapstructure:"replace"`
	AbsoluteURL bool          `json:"absoluteUrl,omitempty" mapstructure:"absolute_url"`
	Multiple    bool          `json:"multiple,omitempty" mapstructure:"multiple"`
	DateFormat  string        `json:"dateFormat,omitempty" mapstructure:"date_format"`
}

// Kind reports which extraction arm the selector resolves through.
// XPath wins when both are present.
func (s FieldSelector) Kind() SelectorKind {
	switch {
	case s.XPath != "":
		return SelectorXPath
	case s.Selector != "":
		return SelectorCSS
	default:
		return SelectorUnset
	}
}

// Active reports whether the selector can locate anything at all.
func (s FieldSelector) Active() bool {
	return s.Kind() != SelectorUnset
}

// FieldsConfig is the fixed set of named selectors for one feed. ItemList
// and Item locate the container and the repeated item elements; every other
// selector is evaluated relative to each item element.
type FieldsConfig struct {
	ItemList    *FieldSelector            `json:"itemList,omitempty" mapstructure:"item_list"`
	Item        *FieldSelector            `json:"item,omitempty" mapstructure:"item"`
	Title       *FieldSelector            `json:"title,omitempty" mapstructure:"title"`
	Link        *FieldSelector            `json:"link,omitempty" mapstructure:"link"`
	Description *FieldSelector            `json:"description,omitempty" mapstructure:"description"`
	Date        *FieldSelector            `json:"date,omitempty" mapstructure:"date"`
	Image       *FieldSelector            `json:"image,omitempty" mapstructure:"image"`
	Author      *FieldSelector            `json:"author,omitempty" mapstructure:"author"`
	Category    *FieldSelector            `json:"category,omitempty" mapstructure:"category"`
	Tags        *FieldSelector            `json:"tags,omitempty" mapstructure:"tags"`
	Custom      map[string]*FieldSelector `json:"custom,omitempty" mapstructure:"custom"`
}

// FeedDefinition is the operator-authored mapping from one page to one feed.
// The pipeline only ever reads it.
type FeedDefinition struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	SourceURL string       `json:"source_url"`
	Fields    FieldsConfig `json:"fields"`
	Schedule  string       `json:"schedule"`
	Format    Format       `json:"format"`
	MaxItems  int          `json:"max_items"`
	DedupKey  DedupKey     `json:"dedup_key"`
	Paused    bool         `json:"paused"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ExtractedItem is the output of one extraction pass over one item element.
// Custom values are either string or []string.
type ExtractedItem struct {
	GUID        string         `json:"guid"`
	Title       string         `json:"title,omitempty"`
	Link        string         `json:"link,omitempty"`
	Description string         `json:"description,omitempty"`
	Date        *time.Time     `json:"date,omitempty"`
	Image       string         `json:"image,omitempty"`
	Author      string         `json:"author,omitempty"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// StoredItem is the persisted superset of ExtractedItem.
type StoredItem struct {
	ExtractedItem

	ID        string    `json:"id"`
	FeedID    string    `json:"feed_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedRun records a single execution of the pipeline for one feed.
// A run is created as running and closed exactly once.
type FeedRun struct {
	ID         string     `json:"id"`
	FeedID     string     `json:"feed_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ItemCount  int        `json:"item_count"`
	Message    string     `json:"message,omitempty"`
}

// PageRequest captures everything needed to fetch a source page.
type PageRequest struct {
	URL       string
	UserAgent string
}

// PageResult is the rendered markup plus navigation metadata.
type PageResult struct {
	HTML       string
	FinalURL   string
	StatusCode int
}

// Renderings expands a configured format into the concrete documents to
// produce. FormatAll fans out to every concrete format.
func (f Format) Renderings() []Format {
	if f == FormatAll || f == "" {
		return []Format{FormatRSS, FormatAtom, FormatJSONFeed}
	}
	return []Format{f}
}

// Exposes reports whether a feed configured with format f serves the
// requested concrete format.
func (f Format) Exposes(requested Format) bool {
	for _, rendered := range f.Renderings() {
		if rendered == requested {
			return true
		}
	}
	return false
}

// CachePayload is the serialized record stored in the response cache.
type CachePayload struct {
	Body    string `json:"body"`
	Updated string `json:"updated"`
}

// CacheKey builds the response-cache key for a feed/format pair.
func CacheKey(feedID string, format Format) string {
	return "feed:" + feedID + ":" + string(format)
}
