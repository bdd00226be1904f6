package extract

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// layoutReplacer translates the yyyy-MM-dd token family into Go reference
// layouts. Longer tokens are listed first so they win.
var layoutReplacer = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MMMM", "January",
	"MMM", "Jan",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"hh", "03",
	"mm", "04",
	"ss", "05",
	"EEEE", "Monday",
	"EEE", "Mon",
)

// parseStrict tries the hint as a Go reference layout first, then as a
// yyyy-MM-dd style pattern.
func parseStrict(raw, format string) (time.Time, bool) {
	if t, err := time.ParseInLocation(format, raw, time.UTC); err == nil {
		return t, true
	}
	if translated := layoutReplacer.Replace(format); translated != format {
		if t, err := time.ParseInLocation(translated, raw, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeDate parses raw into a UTC timestamp. A non-auto format hint is
// tried strictly first; on failure or "auto" the value falls back to
// free-form parsing. Both failing leaves the date unset.
func normalizeDate(raw string, sel *feed.FieldSelector) *time.Time {
	if raw == "" {
		return nil
	}
	if sel != nil && sel.DateFormat != "" && sel.DateFormat != "auto" {
		if t, ok := parseStrict(raw, sel.DateFormat); ok {
			u := t.UTC()
			return &u
		}
	}
	if t, err := dateparse.ParseIn(raw, time.UTC); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}
