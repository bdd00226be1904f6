// Package render turns stored feed items into RSS 2.0, Atom 1.0 and
// JSON Feed 1.1 documents.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// Config carries render-time settings shared by all formats.
type Config struct {
	// BaseURL is the public origin serving the feeds, used for self links.
	// Optional; self links are omitted when empty.
	BaseURL string
}

// Generator renders feed documents.
type Generator struct {
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Generator{cfg: cfg}
}

// Render produces the document for a single concrete format. Format "all"
// is a fan-out concern of the caller and is rejected here.
func (g *Generator) Render(format feed.Format, def feed.FeedDefinition, items []feed.StoredItem) (string, error) {
	switch format {
	case feed.FormatRSS:
		return g.RSS(def, items), nil
	case feed.FormatAtom:
		return g.Atom(def, items), nil
	case feed.FormatJSONFeed:
		return g.JSONFeed(def, items)
	default:
		return "", fmt.Errorf("render: unsupported format %q", format)
	}
}

// ContentType returns the media type served for a rendered format.
func ContentType(format feed.Format) string {
	switch format {
	case feed.FormatAtom:
		return "application/atom+xml; charset=utf-8"
	case feed.FormatJSONFeed:
		return "application/feed+json; charset=utf-8"
	default:
		return "application/rss+xml; charset=utf-8"
	}
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func esc(s string) string {
	return escaper.Replace(s)
}

// sortedCustomKeys gives custom fields a stable element order.
func sortedCustomKeys(custom map[string]any) []string {
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func customString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprint(val)
	}
}
