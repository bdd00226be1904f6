// Package extract implements the field-selector extraction engine that turns
// raw page markup into structured feed items.
package extract

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// DefaultMaxItems bounds extraction output for pathological pages.
const DefaultMaxItems = 50

// Config controls Engine behavior.
type Config struct {
	MaxItems int
}

// Engine evaluates a FieldsConfig against page markup.
type Engine struct {
	maxItems int
}

// New constructs an Engine. A non-positive MaxItems falls back to the default.
func New(cfg Config) *Engine {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Engine{maxItems: maxItems}
}

// Extract parses markup and produces at most MaxItems items in document
// order. Individual field failures degrade that field to unset; only markup
// that cannot be parsed at all fails the call.
func (e *Engine) Extract(markup, baseURL string, cfg feed.FieldsConfig) ([]feed.ExtractedItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", feed.ErrInvalidMarkup, err)
	}

	listRoot := doc.Find("body")
	if cfg.ItemList != nil && cfg.ItemList.Selector != "" {
		listRoot = doc.Find(cfg.ItemList.Selector)
	}
	var nodes *goquery.Selection
	if cfg.Item != nil && cfg.Item.Selector != "" {
		nodes = listRoot.Find(cfg.Item.Selector)
	} else {
		nodes = listRoot.Children()
	}

	items := make([]feed.ExtractedItem, 0, min(nodes.Length(), e.maxItems))
	nodes.EachWithBreak(func(i int, el *goquery.Selection) bool {
		if i >= e.maxItems {
			return false
		}
		items = append(items, e.extractItem(el, baseURL, cfg))
		return true
	})
	return items, nil
}

func (e *Engine) extractItem(el *goquery.Selection, baseURL string, cfg feed.FieldsConfig) feed.ExtractedItem {
	title := evalField(el, cfg.Title, baseURL)
	link := evalField(el, cfg.Link, baseURL)
	description := evalField(el, cfg.Description, baseURL)
	dateRaw := evalField(el, cfg.Date, baseURL)
	image := evalField(el, cfg.Image, baseURL)
	author := evalField(el, cfg.Author, baseURL)
	category := evalField(el, cfg.Category, baseURL)
	tags := evalField(el, cfg.Tags, baseURL)

	item := feed.ExtractedItem{
		GUID:        guid(title, link, dateRaw),
		Title:       title.first(),
		Link:        link.first(),
		Description: description.first(),
		Date:        normalizeDate(dateRaw.first(), cfg.Date),
		Image:       image.first(),
		Author:      author.first(),
		Category:    category.first(),
		Tags:        tags.all(),
	}

	if len(cfg.Custom) > 0 {
		item.Custom = make(map[string]any, len(cfg.Custom))
		for key, sel := range cfg.Custom {
			if v, ok := evalField(el, sel, baseURL).value(); ok {
				item.Custom[key] = v
			}
		}
	}
	return item
}

// guid hashes the extracted title, link and raw (pre-normalization) date
// string so that identical source content yields the same identity across
// runs. When all three are absent the item gets a timestamp-derived guid.
func guid(title, link, dateRaw fieldValue) string {
	parts := make([]string, 0, 3)
	for _, fv := range []fieldValue{title, link, dateRaw} {
		parts = append(parts, fv.values...)
	}
	seed := strings.Join(parts, "|")
	if seed == "" {
		seed = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// fieldValue holds zero or more post-processed values for one selector.
// multiple distinguishes "sequence of matches" from "single value".
type fieldValue struct {
	values   []string
	multiple bool
}

func (v fieldValue) first() string {
	if len(v.values) == 0 {
		return ""
	}
	return v.values[0]
}

func (v fieldValue) all() []string {
	return v.values
}

// value returns the shape stored in custom field maps: a sequence when
// multiple is set, the first value otherwise, or nothing when unset.
func (v fieldValue) value() (any, bool) {
	if v.multiple {
		if v.values == nil {
			return []string{}, true
		}
		return v.values, true
	}
	if len(v.values) == 0 {
		return nil, false
	}
	return v.values[0], true
}

func evalField(el *goquery.Selection, sel *feed.FieldSelector, baseURL string) fieldValue {
	if sel == nil {
		return fieldValue{}
	}
	var raw []string
	switch sel.Kind() {
	case feed.SelectorXPath:
		raw = evalXPath(el, sel.XPath)
	case feed.SelectorCSS:
		raw = evalCSS(el, sel)
	default:
		return fieldValue{}
	}

	processed := make([]string, 0, len(raw))
	for _, value := range raw {
		if value == "" {
			continue
		}
		if v := postProcess(value, sel, baseURL); v != "" {
			processed = append(processed, v)
		}
	}
	if sel.Multiple {
		return fieldValue{values: processed, multiple: true}
	}
	if len(processed) == 0 {
		return fieldValue{}
	}
	return fieldValue{values: processed[:1]}
}

func evalCSS(el *goquery.Selection, sel *feed.FieldSelector) []string {
	nodes := el
	if sel.Selector != ":self" {
		nodes = el.Find(sel.Selector)
	}
	if !sel.Multiple {
		nodes = nodes.First()
	}
	values := make([]string, 0, nodes.Length())
	nodes.Each(func(_ int, node *goquery.Selection) {
		values = append(values, attrValue(node, sel.Attr))
	})
	return values
}

func attrValue(node *goquery.Selection, attr string) string {
	switch attr {
	case "", "text":
		return node.Text()
	case "html":
		html, err := node.Html()
		if err != nil {
			return ""
		}
		return html
	default:
		value, _ := node.Attr(attr)
		return value
	}
}

// evalXPath re-parses the item element subtree and evaluates the expression
// against it, returning text content per matched node.
func evalXPath(el *goquery.Selection, expr string) []string {
	html, err := goquery.OuterHtml(el)
	if err != nil {
		return nil
	}
	doc, err := htmlquery.Parse(strings.NewReader(html))
	if err != nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil
	}
	values := make([]string, 0, len(nodes))
	for _, node := range nodes {
		values = append(values, htmlquery.InnerText(node))
	}
	return values
}

// postProcess applies, in order: absolute-URL resolution, regex capture-group
// extraction, find/replace rules, trim. Failures keep the incoming value.
func postProcess(value string, sel *feed.FieldSelector, baseURL string) string {
	if sel.AbsoluteURL {
		value = resolveURL(baseURL, value)
	}
	if sel.Regex != "" {
		if re, err := regexp.Compile(sel.Regex); err == nil {
			if m := re.FindStringSubmatch(value); len(m) > 1 && m[1] != "" {
				value = m[1]
			}
		}
	}
	for _, rule := range sel.Replace {
		re, err := regexp.Compile(rule.From)
		if err != nil {
			continue
		}
		value = re.ReplaceAllString(value, rule.To)
	}
	return strings.TrimSpace(value)
}

// resolveURL resolves value against base, falling back to the raw value on
// malformed input rather than failing the field.
func resolveURL(baseURL, value string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return value
	}
	ref, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return value
	}
	return base.ResolveReference(ref).String()
}
