package config

import (
	"fmt"
	"strings"
)

// CurrentConfigVersion is bumped whenever the descriptor schema changes
// shape. Migrate lifts any older shape to this version.
const CurrentConfigVersion = 1

// legacy job-scraper keys, recognized at the source's top level
var legacyKeys = []string{"base_url", "pattern", "max_pages", "unsequential", "step_page", "action_scrolling", "action_click"}

// Migrate transforms older config shapes into the current schema. It is
// idempotent: running it on an already-current source returns the input
// unchanged with migrated=false.
func Migrate(raw map[string]any) (map[string]any, []string, bool) {
	if raw == nil {
		return raw, nil, false
	}

	hasLegacy := false
	for _, k := range legacyKeys {
		if _, ok := raw[k]; ok {
			hasLegacy = true
			break
		}
	}
	if version(raw) >= CurrentConfigVersion && !hasLegacy {
		return raw, nil, false
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	var warns []string
	id := sourceID(raw)

	if hasLegacy {
		migrateLegacyJobScraper(out, id, &warns)
	}

	out["config_version"] = CurrentConfigVersion
	return out, warns, true
}

// migrateLegacyJobScraper converts the flat legacy key set into the current
// nested schema. unsequential=true means the legacy scraper walked an offset
// parameter with step_page increments; otherwise it paged 1..max_pages.
func migrateLegacyJobScraper(out map[string]any, id string, warns *[]string) {
	baseURL, _ := pop(out, "base_url").(string)
	pattern, _ := pop(out, "pattern").(string)
	maxPages := asInt(pop(out, "max_pages"), 1)
	unsequential, _ := pop(out, "unsequential").(bool)
	stepPage := asInt(pop(out, "step_page"), 0)
	scrolling, _ := pop(out, "action_scrolling").(bool)
	click, _ := pop(out, "action_click").(string)

	if baseURL != "" {
		mode, start, step := "page", 1, 1
		if unsequential {
			mode, start = "offset", 0
			if stepPage > 0 {
				step = stepPage
			} else {
				*warns = append(*warns, fmt.Sprintf("%s: unsequential=true without step_page, assuming step=1", id))
			}
			if !strings.Contains(baseURL, "{offset}") {
				*warns = append(*warns, fmt.Sprintf("%s: base_url has no {offset} placeholder, paging will repeat the same URL", id))
			}
		} else {
			if stepPage > 0 {
				*warns = append(*warns, fmt.Sprintf("%s: step_page set but unsequential=false, ignoring step_page", id))
			}
			if !strings.Contains(baseURL, "{page}") {
				baseURL += "{page}"
			}
		}
		out["entrypoints"] = []any{map[string]any{
			"url": baseURL,
			"paging": map[string]any{
				"mode":  mode,
				"start": start,
				"pages": maxPages,
				"step":  step,
			},
		}}
	}

	if pattern != "" {
		out["discovery"] = map[string]any{
			"link_extract": map[string]any{"method": "regex", "pattern": pattern},
		}
	}

	var acts []any
	if scrolling {
		acts = append(acts, map[string]any{"type": "scroll", "repeat": 5, "min_px": 250, "max_px": 600})
	}
	if click != "" {
		acts = append(acts, map[string]any{"type": "click", "selector": click})
	}
	if len(acts) > 0 {
		out["actions"] = acts
	}
}

func version(raw map[string]any) int {
	return asInt(raw["config_version"], 0)
}

func pop(m map[string]any, key string) any {
	v, ok := m[key]
	if ok {
		delete(m, key)
	}
	return v
}

func asInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i
		}
	}
	return def
}
