// Package pipeline drives one source through the stage graph:
// expand entrypoints, fetch listings, extract links, fetch details, parse,
// quality-filter, validate, dedupe, persist. Data flows forward only.
package pipeline

import (
	"strconv"
	"strings"

	"github.com/crawlkit/crawlkit/config"
)

// ExpandEntrypoints materializes the {page}/{offset} templates of every
// entrypoint. The resulting URL sequence is deterministic: entrypoints in
// config order, pages in walk order.
func ExpandEntrypoints(eps []config.Entrypoint) []string {
	var out []string
	for _, ep := range eps {
		url := strings.TrimSpace(ep.URL)
		if url == "" {
			continue
		}
		if ep.Paging == nil {
			out = append(out, url)
			continue
		}
		p := ep.Paging
		start := 0
		if p.Start != nil {
			start = *p.Start
		} else if p.Mode == "page" {
			start = 1
		}
		placeholder := "{page}"
		if p.Mode == "offset" {
			placeholder = "{offset}"
		}
		for i := 0; i < p.Pages; i++ {
			v := start + i*p.Step
			out = append(out, strings.ReplaceAll(url, placeholder, strconv.Itoa(v)))
		}
	}
	return out
}
