package fetch

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/crawlkit/crawlkit/log"
	"github.com/crawlkit/crawlkit/quality"
)

// HybridEngine tries HTTP first and falls back to the browser when the HTTP
// result is unusable. Both sub-traces appear on the returned response, the
// browser attempt last.
type HybridEngine struct {
	http       Engine
	browser    Engine
	minTextLen int
}

func NewHybridEngine(httpEngine, browserEngine Engine, minTextLen int) *HybridEngine {
	return &HybridEngine{http: httpEngine, browser: browserEngine, minTextLen: minTextLen}
}

func (e *HybridEngine) Close() error {
	err := e.http.Close()
	if berr := e.browser.Close(); err == nil {
		err = berr
	}
	return err
}

func (e *HybridEngine) Get(ctx context.Context, url string, opts Opts) *Response {
	res := e.http.Get(ctx, url, opts)
	reason, fallback := e.fallbackReason(res)
	if !fallback || ctx.Err() != nil {
		return res
	}

	log.LoggerFromContext(ctx).Debug("falling back to browser",
		slog.String("url", url), slog.String("reason", reason))

	httpTrace := append([]TraceEntry{}, res.Trace...)
	if n := len(httpTrace); n > 0 {
		httpTrace[n-1].Note = "fallback: " + reason
	}

	bres := e.browser.GetRendered(ctx, url, opts, RenderOpts{})
	bres.Trace = append(httpTrace, bres.Trace...)
	return bres
}

// GetRendered always needs a DOM, so it goes straight to the browser.
func (e *HybridEngine) GetRendered(ctx context.Context, url string, opts Opts, render RenderOpts) *Response {
	return e.browser.GetRendered(ctx, url, opts, render)
}

func (e *HybridEngine) fallbackReason(res *Response) (string, bool) {
	switch {
	case !res.OK():
		return "http fetch failed", true
	case res.BlockSignal != quality.SignalNone:
		return "block signal " + string(res.BlockSignal), true
	case len(visibleText(res.Body)) < e.minTextLen:
		return "text below min_text_len", true
	}
	return "", false
}

var tagRun = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]*>`)
var wsRun = regexp.MustCompile(`\s+`)

// visibleText is a cheap tag-strip; the fallback decision only needs a
// length estimate, not a faithful extraction.
func visibleText(html string) string {
	return wsRun.ReplaceAllString(strings.TrimSpace(tagRun.ReplaceAllString(html, " ")), " ")
}
