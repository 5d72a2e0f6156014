package extract

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/crawlkit/crawlkit/config"
)

// Document is the structured form of a detail page.
type Document struct {
	Title string
	Text  string
	Meta  map[string]any
}

// Parser converts detail-page HTML into structured documents. Strategy
// order: explicit selectors from the parse config, then markdown content
// extraction, then a strip-tags plain-text fallback.
type Parser struct {
	cfg       config.Parse
	converter *converter.Converter
	stripper  *bluemonday.Policy
}

func NewParser(cfg config.Parse) *Parser {
	return &Parser{
		cfg: cfg,
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		stripper: bluemonday.StrictPolicy(),
	}
}

// Parse never fails: a page that defeats every strategy yields an empty
// document, which the validation stage then rejects with reasons.
func (p *Parser) Parse(body, pageURL string) Document {
	doc := Document{Meta: map[string]any{}}

	var gq *goquery.Document
	if d, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		gq = d
	}

	if gq != nil {
		p.collectMeta(gq, &doc)

		if p.cfg.TitleSelector != "" {
			doc.Title = CollapseWS(gq.Find(p.cfg.TitleSelector).First().Text())
		}
		if p.cfg.TextSelector != "" {
			var parts []string
			gq.Find(p.cfg.TextSelector).Each(func(_ int, s *goquery.Selection) {
				if t := CollapseWS(s.Text()); t != "" {
					parts = append(parts, t)
				}
			})
			doc.Text = strings.Join(parts, " ")
		}
		if doc.Title == "" {
			doc.Title = CollapseWS(gq.Find("title").First().Text())
		}
	}

	if doc.Text == "" {
		if md, err := p.converter.ConvertString(body, converter.WithDomain(pageURL)); err == nil {
			doc.Text = CollapseWS(stripMarkdown(md))
		}
	}
	if doc.Text == "" {
		doc.Text = CollapseWS(p.stripper.Sanitize(body))
	}

	if p.cfg.DateSelector != "" && gq != nil {
		raw := CollapseWS(gq.Find(p.cfg.DateSelector).First().Text())
		if t, ok := ParseDate(raw, p.cfg.DateLayouts, p.cfg.DateLanguage); ok {
			doc.Meta["date"] = t.Format("2006-01-02")
		}
	}

	return doc
}

// collectMeta pulls the usual metadata out of head tags.
func (p *Parser) collectMeta(gq *goquery.Document, doc *Document) {
	get := func(sel, attr string) string {
		v, _ := gq.Find(sel).First().Attr(attr)
		return strings.TrimSpace(v)
	}
	if v := get(`meta[name="description"]`, "content"); v != "" {
		doc.Meta["description"] = v
	}
	if v := get(`meta[property="og:title"]`, "content"); v != "" {
		doc.Meta["og_title"] = v
	}
	if v := get(`meta[name="author"]`, "content"); v != "" {
		doc.Meta["author"] = v
	}
	if v := get(`link[rel="canonical"]`, "href"); v != "" {
		doc.Meta["canonical"] = v
	}
	if v, ok := gq.Find("html").First().Attr("lang"); ok && strings.TrimSpace(v) != "" {
		doc.Meta["language"] = strings.TrimSpace(v)
	}
}

var (
	wsRun      = regexp.MustCompile(`\s+`)
	mdMarkup   = regexp.MustCompile("[#*`_>|-]+")
	mdLinkDest = regexp.MustCompile(`\]\([^)]*\)`)
)

// CollapseWS trims and collapses all whitespace runs to single spaces.
func CollapseWS(s string) string {
	return wsRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// stripMarkdown removes markdown syntax so that length gates and fingerprints
// see prose, not markup.
func stripMarkdown(md string) string {
	md = mdLinkDest.ReplaceAllString(md, "]")
	md = strings.NewReplacer("[", "", "]", "").Replace(md)
	return mdMarkup.ReplaceAllString(md, " ")
}
