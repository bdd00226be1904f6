package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// Atom renders an Atom 1.0 document.
func (g *Generator) Atom(def feed.FeedDefinition, items []feed.StoredItem) string {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n")

	writeElement(&buf, "id", def.ID, 2)
	writeElement(&buf, "title", def.Name, 2)
	buf.WriteString(fmt.Sprintf("  <link href=\"%s\" />\n", esc(def.SourceURL)))
	if g.cfg.BaseURL != "" {
		selfLink := fmt.Sprintf("%s/feeds/%s.atom", g.cfg.BaseURL, def.ID)
		buf.WriteString(fmt.Sprintf("  <link href=\"%s\" rel=\"self\" />\n", esc(selfLink)))
	}
	writeElement(&buf, "updated", buildTime(items).UTC().Format(time.RFC3339), 2)

	for _, item := range items {
		g.writeAtomEntry(&buf, item)
	}

	buf.WriteString("</feed>")
	return buf.String()
}

func (g *Generator) writeAtomEntry(buf *bytes.Buffer, item feed.StoredItem) {
	buf.WriteString("  <entry>\n")

	writeElement(buf, "id", item.GUID, 4)
	if item.Title != "" {
		writeElement(buf, "title", item.Title, 4)
	}
	if item.Link != "" {
		buf.WriteString(fmt.Sprintf("    <link href=\"%s\" />\n", esc(item.Link)))
	}
	if item.Description != "" {
		buf.WriteString("    <content type=\"html\"><![CDATA[")
		buf.WriteString(item.Description)
		buf.WriteString("]]></content>\n")
	}
	if item.Date != nil {
		writeElement(buf, "updated", item.Date.UTC().Format(time.RFC3339), 4)
	}
	if item.Author != "" {
		buf.WriteString("    <author><name>")
		buf.WriteString(esc(item.Author))
		buf.WriteString("</name></author>\n")
	}
	if item.Category != "" {
		buf.WriteString(fmt.Sprintf("    <category term=\"%s\" />\n", esc(item.Category)))
	}
	for _, tag := range item.Tags {
		if tag != "" {
			buf.WriteString(fmt.Sprintf("    <category term=\"%s\" />\n", esc(tag)))
		}
	}
	for _, key := range sortedCustomKeys(item.Custom) {
		writeElement(buf, key, customString(item.Custom[key]), 4)
	}

	buf.WriteString("  </entry>\n")
}
