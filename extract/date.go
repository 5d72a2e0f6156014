package extract

import (
	"strings"
	"time"

	"github.com/goodsign/monday"
)

// layouts tried when the parse config does not pin any
var defaultDateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"2 January 2006",
	"January 2, 2006",
	"2. January 2006",
}

// ParseDate parses a human-readable publish date. When lang names a locale
// (e.g. "de_DE"), month and day names are matched in that language.
func ParseDate(raw string, layouts []string, lang string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if len(layouts) == 0 {
		layouts = defaultDateLayouts
	}

	locale := monday.Locale(monday.LocaleEnUS)
	if lang != "" {
		locale = monday.Locale(lang)
	}

	for _, layout := range layouts {
		if t, err := monday.Parse(layout, raw, locale); err == nil {
			return t, true
		}
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
