// Package extract turns fetched HTML into links and structured documents.
// Everything in here is a pure function of its inputs so the pipeline stages
// stay trivially testable.
package extract

import (
	"net/url"
	"sort"
	"strings"
)

// tracking params dropped during normalization
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
}

// NormalizeURL canonicalizes a URL for dedupe: lowercase scheme and host,
// default ports stripped, fragment removed, tracking params dropped, query
// keys sorted. The function is idempotent.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""

	q := u.Query()
	kept := url.Values{}
	for k, vs := range q {
		if trackingParams[strings.ToLower(k)] {
			continue
		}
		kept[k] = vs
	}
	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vs := kept[k]
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()

	return u.String()
}

// ResolveURL joins a possibly-relative href against the page it was found
// on.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

// StableUnique keeps the first occurrence of every string, preserving
// insertion order.
func StableUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
