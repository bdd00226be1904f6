package render

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagefeed/pagefeed/internal/feed"
)

const jsonFeedVersion = "https://jsonfeed.org/version/1.1"

type jsonFeedDocument struct {
	Version     string         `json:"version"`
	Title       string         `json:"title"`
	HomePageURL string         `json:"home_page_url,omitempty"`
	FeedURL     string         `json:"feed_url,omitempty"`
	Items       []jsonFeedItem `json:"items"`
}

type jsonFeedItem struct {
	ID            string           `json:"id"`
	URL           string           `json:"url,omitempty"`
	Title         string           `json:"title,omitempty"`
	ContentHTML   string           `json:"content_html,omitempty"`
	DatePublished string           `json:"date_published,omitempty"`
	Image         string           `json:"image,omitempty"`
	Authors       []jsonFeedAuthor `json:"authors,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	Custom        map[string]any   `json:"_custom,omitempty"`
}

type jsonFeedAuthor struct {
	Name string `json:"name"`
}

// JSONFeed renders a JSON Feed 1.1 document.
func (g *Generator) JSONFeed(def feed.FeedDefinition, items []feed.StoredItem) (string, error) {
	doc := jsonFeedDocument{
		Version:     jsonFeedVersion,
		Title:       def.Name,
		HomePageURL: def.SourceURL,
		Items:       make([]jsonFeedItem, 0, len(items)),
	}
	if g.cfg.BaseURL != "" {
		doc.FeedURL = fmt.Sprintf("%s/feeds/%s.json", g.cfg.BaseURL, def.ID)
	}

	for _, item := range items {
		entry := jsonFeedItem{
			ID:          item.GUID,
			URL:         item.Link,
			Title:       item.Title,
			ContentHTML: item.Description,
			Image:       item.Image,
		}
		if item.Date != nil {
			entry.DatePublished = item.Date.UTC().Format(time.RFC3339)
		}
		if item.Author != "" {
			entry.Authors = []jsonFeedAuthor{{Name: item.Author}}
		}
		if len(item.Tags) > 0 {
			entry.Tags = item.Tags
		}
		if len(item.Custom) > 0 {
			entry.Custom = item.Custom
		}
		doc.Items = append(doc.Items, entry)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode json feed: %w", err)
	}
	return string(out), nil
}
