package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/mmcdole/gofeed"

	"github.com/crawlkit/crawlkit/config"
)

// Link is one discovered detail-page URL.
type Link struct {
	URLRaw        string    `json:"url_raw"`
	URLNormalized string    `json:"url_normalized"`
	SourcePageURL string    `json:"source_page_url"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

// LinkExtractor discovers detail links in listing pages according to one
// source's discovery config.
type LinkExtractor struct {
	cfg     config.LinkExtract
	pattern *regexp.Regexp
}

func NewLinkExtractor(cfg config.LinkExtract) (*LinkExtractor, error) {
	le := &LinkExtractor{cfg: cfg}
	if cfg.Method == config.ExtractRegex {
		rx, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("link pattern: %w", err)
		}
		le.pattern = rx
	}
	return le, nil
}

// Extract returns the unique normalized links found in body, in first-seen
// order. pageURL anchors relative hrefs and is recorded on every link.
func (le *LinkExtractor) Extract(body, pageURL string) ([]Link, error) {
	var raw []string
	var err error

	switch le.cfg.Method {
	case config.ExtractRegex:
		raw = le.extractRegex(body)
	case config.ExtractCSS:
		raw, err = extractCSS(body, le.cfg.Selector)
	case config.ExtractXPath:
		raw, err = extractXPath(body, le.cfg.Selector)
	case config.ExtractFeed:
		raw, err = extractFeed(body)
	default:
		err = fmt.Errorf("unknown link extract method %q", le.cfg.Method)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	seen := map[string]bool{}
	var out []Link
	for _, r := range raw {
		abs := ResolveURL(pageURL, r)
		if abs == "" || !strings.Contains(abs, "://") {
			continue
		}
		if le.cfg.Identifier != "" && !strings.Contains(abs, le.cfg.Identifier) {
			continue
		}
		norm := NormalizeURL(abs)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, Link{
			URLRaw:        r,
			URLNormalized: norm,
			SourcePageURL: pageURL,
			DiscoveredAt:  now,
		})
	}
	return out, nil
}

func (le *LinkExtractor) extractRegex(body string) []string {
	var out []string
	for _, m := range le.pattern.FindAllStringSubmatch(body, -1) {
		if len(m) > 1 && m[1] != "" {
			out = append(out, m[1])
		} else {
			out = append(out, m[0])
		}
	}
	return out
}

var attrSuffix = regexp.MustCompile(`::attr\(([^)]+)\)\s*$`)

// extractCSS selects elements with goquery. A trailing ::attr(name) picks an
// explicit attribute; otherwise href wins, then src.
func extractCSS(body, selector string) ([]string, error) {
	attr := ""
	if m := attrSuffix.FindStringSubmatch(selector); m != nil {
		attr = strings.TrimSpace(m[1])
		selector = strings.TrimSpace(selector[:len(selector)-len(m[0])])
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if attr != "" {
			if v, ok := s.Attr(attr); ok {
				out = append(out, v)
			}
			return
		}
		if v, ok := s.Attr("href"); ok {
			out = append(out, v)
			return
		}
		if v, ok := s.Attr("src"); ok {
			out = append(out, v)
		}
	})
	return out, nil
}

// extractXPath evaluates an XPath expression. Attribute and text results are
// used verbatim; element results contribute their href or src.
func extractXPath(body, xpath string) ([]string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(doc, xpath)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", xpath, err)
	}
	var out []string
	for _, n := range nodes {
		// attribute selections (//a/@href) also land here: SelectAttr
		// resolves the value against the owning element
		if v := htmlquery.SelectAttr(n, "href"); v != "" {
			out = append(out, v)
		} else if v := htmlquery.SelectAttr(n, "src"); v != "" {
			out = append(out, v)
		} else if t := strings.TrimSpace(htmlquery.InnerText(n)); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// extractFeed treats the listing body as RSS/Atom and yields entry links.
func extractFeed(body string) ([]string, error) {
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	var out []string
	for _, it := range feed.Items {
		if it.Link != "" {
			out = append(out, it.Link)
		}
	}
	return out, nil
}
