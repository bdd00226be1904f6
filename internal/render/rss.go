package render

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// RSS renders an RSS 2.0 document.
func (g *Generator) RSS(def feed.FeedDefinition, items []feed.StoredItem) string {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	writeElement(&buf, "title", def.Name, 4)
	writeElement(&buf, "link", def.SourceURL, 4)

	if g.cfg.BaseURL != "" {
		selfLink := fmt.Sprintf("%s/feeds/%s.rss", g.cfg.BaseURL, def.ID)
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n", esc(selfLink)))
	}

	writeElement(&buf, "lastBuildDate", buildTime(items).UTC().Format(http.TimeFormat), 4)

	for _, item := range items {
		g.writeRSSItem(&buf, item)
	}

	buf.WriteString("  </channel>\n</rss>")
	return buf.String()
}

func (g *Generator) writeRSSItem(buf *bytes.Buffer, item feed.StoredItem) {
	buf.WriteString("    <item>\n")

	if item.Title != "" {
		writeElement(buf, "title", item.Title, 6)
	}
	if item.Link != "" {
		writeElement(buf, "link", item.Link, 6)
	}
	if item.Description != "" {
		buf.WriteString("      <description><![CDATA[")
		buf.WriteString(item.Description)
		buf.WriteString("]]></description>\n")
	}
	if item.Date != nil {
		writeElement(buf, "pubDate", item.Date.UTC().Format(http.TimeFormat), 6)
	}
	if item.Image != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" type=\"image/jpeg\" />\n", esc(item.Image)))
	}
	if item.Author != "" {
		writeElement(buf, "author", item.Author, 6)
	}
	if item.Category != "" {
		writeElement(buf, "category", item.Category, 6)
	}
	for _, tag := range item.Tags {
		if tag != "" {
			writeElement(buf, "category", tag, 6)
		}
	}

	buf.WriteString("      <guid isPermaLink=\"false\">")
	buf.WriteString(esc(item.GUID))
	buf.WriteString("</guid>\n")

	for _, key := range sortedCustomKeys(item.Custom) {
		writeElement(buf, key, customString(item.Custom[key]), 6)
	}

	buf.WriteString("    </item>\n")
}

func writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}
	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	buf.WriteString(esc(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

// buildTime is the channel-level freshness stamp: the newest item date,
// its storage time when the date is unset, or the render time when the
// feed has no items yet.
func buildTime(items []feed.StoredItem) time.Time {
	var newest time.Time
	for _, item := range items {
		candidate := item.CreatedAt
		if item.Date != nil {
			candidate = *item.Date
		}
		if candidate.After(newest) {
			newest = candidate
		}
	}
	if newest.IsZero() {
		return time.Now()
	}
	return newest
}
