package feed

import (
	"net/url"
	"regexp"

	"github.com/antchfx/xpath"
)

var validFormats = map[Format]bool{
	FormatRSS:      true,
	FormatAtom:     true,
	FormatJSONFeed: true,
	FormatAll:      true,
}

var validDedupKeys = map[DedupKey]bool{
	DedupByLink: true,
	DedupByHash: true,
}

var customKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_:-]*$`)

// Validate checks a feed definition before it is persisted. Cron syntax is
// validated separately at schedule time.
func (d FeedDefinition) Validate() error {
	if d.Name == "" {
		return invalid("name", "must not be empty")
	}
	if d.SourceURL == "" {
		return invalid("source_url", "must not be empty")
	}
	u, err := url.Parse(d.SourceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("source_url", "must be an absolute URL")
	}
	if d.Schedule == "" {
		return invalid("schedule", "must not be empty")
	}
	if !validFormats[d.Format] {
		return invalid("format", "must be one of rss, atom, jsonfeed, all")
	}
	if d.MaxItems < 1 {
		return invalid("max_items", "must be >= 1")
	}
	if !validDedupKeys[d.DedupKey] {
		return invalid("dedup_key", "must be link or hash")
	}
	return d.Fields.Validate()
}

// Validate checks every configured selector, including custom entries.
func (c FieldsConfig) Validate() error {
	named := map[string]*FieldSelector{
		"itemList":    c.ItemList,
		"item":        c.Item,
		"title":       c.Title,
		"link":        c.Link,
		"description": c.Description,
		"date":        c.Date,
		"image":       c.Image,
		"author":      c.Author,
		"category":    c.Category,
		"tags":        c.Tags,
	}
	for name, sel := range named {
		if sel == nil {
			continue
		}
		if err := sel.validate("fields." + name); err != nil {
			return err
		}
	}
	for key, sel := range c.Custom {
		if !customKeyPattern.MatchString(key) {
			return invalid("fields.custom", "key "+key+" is not a valid element name")
		}
		if sel == nil {
			return invalid("fields.custom."+key, "selector must not be null")
		}
		if err := sel.validate("fields.custom." + key); err != nil {
			return err
		}
	}
	return nil
}

func (s *FieldSelector) validate(field string) error {
	if !s.Active() {
		return invalid(field, "needs a selector or an xpath expression")
	}
	if s.XPath != "" {
		if _, err := xpath.Compile(s.XPath); err != nil {
			return invalid(field, "xpath does not compile: "+err.Error())
		}
	}
	if s.Regex != "" {
		if _, err := regexp.Compile(s.Regex); err != nil {
			return invalid(field, "regex does not compile: "+err.Error())
		}
	}
	for _, rule := range s.Replace {
		if _, err := regexp.Compile(rule.From); err != nil {
			return invalid(field, "replace pattern does not compile: "+err.Error())
		}
	}
	return nil
}
