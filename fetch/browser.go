package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/crawlkit/crawlkit/actions"
	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/log"
	"github.com/crawlkit/crawlkit/quality"
	"github.com/crawlkit/crawlkit/resilience"
)

// resource patterns blocked when engine.block_resources is on
var blockedResourceURLs = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
}

// BrowserEngine renders pages in headless Chrome. One exec allocator per
// engine instance; every request gets a fresh tab context that is discarded
// afterwards, errors included.
type BrowserEngine struct {
	cfg       config.Engine
	userAgent string
	limiter   *resilience.Limiter

	allocCtx    context.Context
	cancelAlloc context.CancelFunc

	// sem caps concurrent browser contexts process-wide; nil means no cap
	sem chan struct{}

	runner    actions.Runner
	closeOnce sync.Once
}

func NewBrowserEngine(cfg config.Engine, userAgent string, sem chan struct{}) (*BrowserEngine, error) {
	if !BrowserAvailable() {
		return nil, fmt.Errorf("%w: no Chrome/Chromium binary found", ErrEngineInit)
	}
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		// desktop view; some pages hide elements on mobile layouts
		chromedp.WindowSize(1920, 1080),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserEngine{
		cfg:         cfg,
		userAgent:   userAgent,
		limiter:     limiterFor(cfg),
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		sem:         sem,
	}, nil
}

func (e *BrowserEngine) Close() error {
	e.closeOnce.Do(e.cancelAlloc)
	return nil
}

func (e *BrowserEngine) Get(ctx context.Context, url string, opts Opts) *Response {
	return e.GetRendered(ctx, url, opts, RenderOpts{})
}

func (e *BrowserEngine) GetRendered(ctx context.Context, urlStr string, opts Opts, render RenderOpts) *Response {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "browser"), slog.String("url", urlStr))
	started := time.Now()
	var trace []TraceEntry

	if err := e.limiter.Wait(ctx, hostOf(urlStr)); err != nil {
		return cancelledResponse(urlStr, trace, err)
	}
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return cancelledResponse(urlStr, trace, ctx.Err())
		}
	}

	// a render timeout earns exactly one extra attempt before surfacing
	for attempt := 0; ; attempt++ {
		res, entry := e.fetchOnce(ctx, urlStr, opts, render, attempt, logger)
		trace = append(trace, entry)
		res.Trace = trace
		res.ElapsedMS = float64(time.Since(started).Milliseconds())
		if res.ErrorKind == ErrKindRenderTimeout && attempt == 0 {
			logger.Debug("render timeout, retrying once")
			continue
		}
		return res
	}
}

// fetchOnce drives one fresh tab through navigate, actions, wait_for and
// capture.
func (e *BrowserEngine) fetchOnce(ctx context.Context, urlStr string, opts Opts, render RenderOpts, attempt int, logger *slog.Logger) (*Response, TraceEntry) {
	t0 := time.Now()
	entry := TraceEntry{Engine: "browser", Attempt: attempt}
	fail := func(kind ErrorKind, err error) (*Response, TraceEntry) {
		entry.ErrorKind = kind
		entry.Error = err.Error()
		entry.ElapsedMS = float64(time.Since(t0).Milliseconds())
		return &Response{
			FinalURL:  urlStr,
			Status:    0,
			FetchedAt: time.Now().UTC(),
			ErrorKind: kind,
			Error:     err.Error(),
		}, entry
	}

	tabCtx, cancelTab := chromedp.NewContext(e.allocCtx)
	defer cancelTab()
	tabCtx = log.ContextWithLogger(tabCtx, logger)

	// navigation under its own deadline
	navTimeout := time.Duration(e.cfg.NavTimeoutS * float64(time.Second))
	navCtx, cancelNav := context.WithTimeout(tabCtx, navTimeout)
	defer cancelNav()

	navTasks := chromedp.Tasks{}
	if log.Debug {
		navTasks = append(navTasks, chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, revision, userAgent, jsVersion, err := browser.GetVersion().Do(ctx)
			if err != nil {
				logger.Warn("failed to get chrome version", slog.String("err", err.Error()))
				return nil
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s, revision=%s, userAgent=%s, jsVersion=%s",
				protocolVersion, product, revision, userAgent, jsVersion))
			return nil
		}))
	}
	if e.cfg.BlockResources == nil || *e.cfg.BlockResources {
		navTasks = append(navTasks, network.Enable(), network.SetBlockedURLs(blockedResourceURLs))
	}
	if len(opts.Headers) > 0 {
		hdrs := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			hdrs[k] = v
		}
		navTasks = append(navTasks, network.Enable(), network.SetExtraHTTPHeaders(hdrs))
	}
	navTasks = append(navTasks, chromedp.Navigate(urlStr))

	if err := chromedp.Run(navCtx, navTasks); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fail(ErrKindRenderTimeout, fmt.Errorf("navigation timed out after %s", navTimeout))
		}
		if ctx.Err() != nil {
			return fail(ErrKindCancelled, ctx.Err())
		}
		return fail(ErrKindTransport, err)
	}

	// declarative interaction sequence
	var failureNote string
	if len(render.Actions) > 0 {
		if _, err := e.runner.Run(tabCtx, render.Actions); err != nil {
			// strict failure: keep the page as-is and note it
			failureNote = err.Error()
		}
	}

	// optional render wait
	if render.WaitFor != "" {
		renderTimeout := time.Duration(e.cfg.RenderTimeoutS * float64(time.Second))
		waitCtx, cancelWait := context.WithTimeout(tabCtx, renderTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(render.WaitFor, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return fail(ErrKindWaitTimeout, fmt.Errorf("selector %q not ready after %s", render.WaitFor, renderTimeout))
			}
			return fail(ErrKindTransport, err)
		}
	}

	// capture rendered HTML
	var body string
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return fail(ErrKindCancelled, ctx.Err())
		}
		return fail(ErrKindTransport, err)
	}

	entry.Status = 200
	entry.ElapsedMS = float64(time.Since(t0).Milliseconds())
	res := &Response{
		FinalURL:    urlStr,
		Status:      200,
		Body:        body,
		FetchedAt:   time.Now().UTC(),
		BlockSignal: quality.ClassifyBlock(200, body),
	}
	if failureNote != "" {
		// the page is returned as-is; the failed action only leaves a note
		entry.ErrorKind = ErrKindActionFailure
		entry.Note = failureNote
	}
	return res, entry
}

var chromeCandidates = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell",
}

// BrowserAvailable probes for a usable Chrome/Chromium binary. The doctor
// command and the config validator both consult it.
func BrowserAvailable() bool {
	for _, name := range chromeCandidates {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}
