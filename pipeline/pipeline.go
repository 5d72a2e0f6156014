package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/dedupe"
	"github.com/crawlkit/crawlkit/extract"
	"github.com/crawlkit/crawlkit/fetch"
	"github.com/crawlkit/crawlkit/log"
	"github.com/crawlkit/crawlkit/quality"
	"github.com/crawlkit/crawlkit/report"
	"github.com/crawlkit/crawlkit/utils"
)

// Item is a scraped record on its way to storage. Reserved keys start with
// an underscore and never collide with extracted fields.
type Item = map[string]any

// ArtifactSink receives everything the pipeline persists. The orchestrator
// backs it with the run directory; tests back it with memory.
type ArtifactSink interface {
	RawListing(record map[string]any) error
	RawDetail(record map[string]any) error
	Link(link extract.Link) error
	Item(item Item) error
	ValidItem(item Item) error
	DroppedItem(item Item) error
}

// SourceRun wires one source's pipeline together. The engine instance and
// the dedupe store are exclusive to this source for the duration of the run.
type SourceRun struct {
	Source  config.Source
	Engine  fetch.Engine
	Store   dedupe.Store
	Gate    *quality.Gate
	Links   *extract.LinkExtractor
	Parser  *extract.Parser
	Metrics *report.Collector
	Sink    ArtifactSink

	// MaxWorkers bounds parallel detail fetches; already reconciled with
	// the global cap by the orchestrator.
	MaxWorkers int

	mu      sync.Mutex
	claimed map[string]bool
}

// Run walks the stage graph. The returned error is non-nil only when the
// context was cancelled; per-page and per-item failures are counted and
// routed to artifacts instead.
func (r *SourceRun) Run(ctx context.Context) error {
	logger := log.LoggerFromContext(ctx).With(slog.String("source", r.Source.SourceID))
	r.claimed = map[string]bool{}

	links, err := r.fetchListings(ctx, logger)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("extracted %d links", len(links)))
	r.Metrics.Addn("links_found", len(links))

	return r.fetchDetails(ctx, logger, links)
}

// fetchListings walks listing pages sequentially, one per rate-limit tick,
// preserving pagination order in logs and artifacts.
func (r *SourceRun) fetchListings(ctx context.Context, logger *slog.Logger) ([]extract.Link, error) {
	rendered := r.Source.Engine.Type == config.EngineBrowser
	var links []extract.Link

	for _, ep := range r.Source.Entrypoints {
		opts := fetch.Opts{Headers: ep.Headers, Cookies: ep.Cookies}
		for _, url := range ExpandEntrypoints([]config.Entrypoint{ep}) {
			if err := ctx.Err(); err != nil {
				return links, err
			}
			r.Metrics.Inc("pages_attempted")

			var resp *fetch.Response
			if rendered {
				resp = r.Engine.GetRendered(ctx, url, opts, fetch.RenderOpts{
					Actions: r.Source.Actions,
					WaitFor: r.Source.Discovery.WaitFor,
				})
			} else {
				resp = r.Engine.Get(ctx, url, opts)
			}
			r.Metrics.ObserveLatency(resp.ElapsedMS)
			r.persist(logger, func() error { return r.Sink.RawListing(rawRecord(url, resp)) })

			if resp.ErrorKind == fetch.ErrKindCancelled {
				return links, context.Canceled
			}
			if !resp.OK() {
				logger.Warn("listing fetch failed", slog.String("url", url), slog.String("error_kind", string(resp.ErrorKind)))
				r.Metrics.Inc("errors")
				r.Metrics.IncError(string(resp.ErrorKind))
				continue
			}
			r.Metrics.Inc("pages_succeeded")
			if resp.BlockSignal != quality.SignalNone {
				logger.Warn("listing page raised block signal", slog.String("url", url), slog.String("signal", string(resp.BlockSignal)))
				r.Metrics.Inc("listing_block_signals")
			}

			pageLinks, err := r.Links.Extract(resp.Body, url)
			if err != nil {
				logger.Warn("link extraction failed", slog.String("url", url), slog.String("err", err.Error()))
				r.Metrics.Inc("errors")
				r.Metrics.IncError("extraction")
				continue
			}
			for _, l := range pageLinks {
				r.persist(logger, func() error { return r.Sink.Link(l) })
			}
			links = append(links, pageLinks...)
		}
	}
	return links, nil
}

// fetchDetails runs detail pages with bounded parallelism. Items are
// persisted in completion order; dedupe keys on normalized URL keep
// first-seen semantics regardless.
func (r *SourceRun) fetchDetails(ctx context.Context, logger *slog.Logger, links []extract.Link) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.MaxWorkers))

	for _, link := range links {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.processLink(gctx, logger, link)
			return gctx.Err()
		})
	}
	return g.Wait()
}

func (r *SourceRun) processLink(ctx context.Context, logger *slog.Logger, link extract.Link) {
	norm := link.URLNormalized

	if reason, dup := r.claimURL(ctx, norm); dup {
		r.dropItem(logger, Item{"url": norm}, reason, nil, nil)
		r.Metrics.Inc("items_parsed")
		return
	}

	r.Metrics.Inc("detail_attempted")
	rendered := r.Source.Engine.Type == config.EngineBrowser
	var resp *fetch.Response
	if rendered {
		resp = r.Engine.GetRendered(ctx, norm, fetch.Opts{}, fetch.RenderOpts{Actions: r.Source.Actions})
	} else {
		resp = r.Engine.Get(ctx, norm, fetch.Opts{})
	}
	r.Metrics.ObserveLatency(resp.ElapsedMS)
	r.persist(logger, func() error { return r.Sink.RawDetail(rawRecord(norm, resp)) })

	if fallbackFired(resp) {
		r.Metrics.IncFallback()
	}

	if !resp.OK() {
		logger.Warn("detail fetch failed", slog.String("url", norm), slog.String("error_kind", string(resp.ErrorKind)))
		r.Metrics.Inc("errors")
		r.Metrics.IncError(string(resp.ErrorKind))
		r.dropItem(logger, Item{
			"url":         norm,
			"status":      resp.Status,
			"_error_kind": string(resp.ErrorKind),
		}, "fetch_failed", nil, nil)
		return
	}
	r.Metrics.Inc("detail_succeeded")

	// parse
	doc := r.Parser.Parse(resp.Body, resp.FinalURL)
	item := Item{
		"url":        norm,
		"title":      doc.Title,
		"text":       doc.Text,
		"meta":       doc.Meta,
		"fetched_at": resp.FetchedAt.UTC().Format(time.RFC3339),
		"status":     resp.Status,
	}
	r.Metrics.Inc("items_parsed")
	logger.Debug("parsed item", slog.String("url", norm), slog.String("title", utils.ShortenString(doc.Title, 80)))
	r.persist(logger, func() error { return r.Sink.Item(item) })

	// quality gates
	issues := r.Gate.Check(resp.Body, doc.Text)
	if resp.BlockSignal != quality.SignalNone {
		issues = append(issues, quality.Issue{Code: "blocked", Message: "block signal " + string(resp.BlockSignal)})
	}
	if doc.Text == "" {
		issues = append(issues, quality.Issue{Code: "extraction_empty", Message: "no text could be extracted"})
	}
	if len(issues) > 0 {
		reason := "quality"
		if quality.IsBlocked(issues) {
			reason = "blocked"
		}
		r.dropItem(logger, item, reason, issues, nil)
		return
	}

	// validation
	if vErrs := ValidateItem(item, r.Source.Validation); len(vErrs) > 0 {
		r.dropItem(logger, item, "validation", nil, vErrs)
		return
	}

	// content-fingerprint dedupe, then persist
	r.mu.Lock()
	defer r.mu.Unlock()

	dd := r.Source.Discovery.Dedupe
	contentKey := dedupe.ContentKey(item, dd.ContentFields, dd.ContentPrefixLen)
	if seen, err := r.Store.Seen(ctx, contentKey); err != nil {
		logger.Warn("dedupe store lookup failed", slog.String("err", err.Error()))
	} else if seen {
		r.dropLocked(logger, item, "dedupe", nil, nil)
		return
	}

	if err := r.Store.Add(ctx, contentKey); err != nil {
		logger.Warn("dedupe store write failed", slog.String("err", err.Error()))
	}
	if err := r.Store.Add(ctx, dedupe.URLKey(norm)); err != nil {
		logger.Warn("dedupe store write failed", slog.String("err", err.Error()))
	}

	r.Metrics.Inc("items_valid")
	r.persistLocked(logger, func() error { return r.Sink.ValidItem(item) })
}

// claimURL reserves a normalized URL for this worker. The second occurrence
// within the run, or a hit in a persistent store from an earlier run, is a
// dedupe drop.
func (r *SourceRun) claimURL(ctx context.Context, norm string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[norm] {
		return "dedupe", true
	}
	if seen, err := r.Store.Seen(ctx, dedupe.URLKey(norm)); err == nil && seen {
		return "dedupe", true
	}
	r.claimed[norm] = true
	return "", false
}

func (r *SourceRun) dropItem(logger *slog.Logger, item Item, reason string, issues []quality.Issue, vErrs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(logger, item, reason, issues, vErrs)
}

func (r *SourceRun) dropLocked(logger *slog.Logger, item Item, reason string, issues []quality.Issue, vErrs []string) {
	dropped := make(Item, len(item)+3)
	for k, v := range item {
		dropped[k] = v
	}
	dropped["_drop_reason"] = reason
	if len(issues) > 0 {
		dropped["_quality_issues"] = issues
	}
	if len(vErrs) > 0 {
		dropped["_validation_errors"] = vErrs
	}
	r.Metrics.Inc("items_dropped")
	r.Metrics.IncDrop(reason)
	r.persistLocked(logger, func() error { return r.Sink.DroppedItem(dropped) })
}

// persist runs a sink write; failures are logged and counted, never fatal.
func (r *SourceRun) persist(logger *slog.Logger, write func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistLocked(logger, write)
}

func (r *SourceRun) persistLocked(logger *slog.Logger, write func() error) {
	if err := write(); err != nil {
		logger.Error("persist failed", slog.String("err", err.Error()))
		r.Metrics.Inc("persist_errors")
	}
}

// fallbackFired detects a hybrid http→browser fallback from the trace shape.
func fallbackFired(resp *fetch.Response) bool {
	if len(resp.Trace) < 2 {
		return false
	}
	return resp.Trace[0].Engine == "http" && resp.Trace[len(resp.Trace)-1].Engine == "browser"
}

func rawRecord(url string, resp *fetch.Response) map[string]any {
	return map[string]any{
		"url":          url,
		"final_url":    resp.FinalURL,
		"status":       resp.Status,
		"ok":           resp.OK(),
		"block_signal": resp.BlockSignal,
		"error_kind":   resp.ErrorKind,
		"elapsed_ms":   resp.ElapsedMS,
		"fetched_at":   resp.FetchedAt.UTC().Format(time.RFC3339),
		"trace":        resp.Trace,
		"body":         resp.Body,
	}
}
