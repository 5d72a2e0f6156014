package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/dedupe"
	"github.com/crawlkit/crawlkit/extract"
	"github.com/crawlkit/crawlkit/fetch"
	"github.com/crawlkit/crawlkit/log"
	"github.com/crawlkit/crawlkit/quality"
	"github.com/crawlkit/crawlkit/report"
	"github.com/crawlkit/crawlkit/storage"
)

// Version is stamped at build time and recorded in run_meta.json.
var Version = "dev"

// Orchestrator loads descriptors, runs each source's pipeline, and writes
// the run directory. All mutable state is scoped to one Run call.
type Orchestrator struct {
	Global  *config.Global
	Sources []config.Source

	// CLI overrides
	ResultsDir  string
	ItemsFormat string
	Only        string
	DryRun      bool

	// NewEngine builds the engine for one source; defaults to fetch.New.
	// Tests substitute fixture engines here.
	NewEngine func(cfg config.Engine, userAgent string, browserSem chan struct{}) (fetch.Engine, error)
}

// Run executes every selected source and always leaves behind a well-formed
// run_report.json, cancellation included. The returned report carries the
// aggregate status the CLI exit code derives from.
func (o *Orchestrator) Run(ctx context.Context) (report.Report, error) {
	started := time.Now()
	runID := storage.NewRunID(started)
	layout := storage.Layout{Root: o.resultsRoot()}

	if err := os.MkdirAll(layout.RunDir(runID), 0o755); err != nil {
		return report.Report{}, fmt.Errorf("creating run dir: %w", err)
	}

	level := log.ParseLevel(o.Global.LogLevel)
	runLogFile, err := os.Create(layout.RunLogPath(runID))
	if err != nil {
		return report.Report{}, fmt.Errorf("creating run.log: %w", err)
	}
	defer runLogFile.Close()
	runLogger := log.NewFileLogger(runLogFile, level).With(slog.String("run_id", runID))
	ctx = log.ContextWithLogger(ctx, runLogger)

	if o.Global.RunDeadlineS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.Global.RunDeadlineS)*time.Second)
		defer cancel()
	}

	o.writeRunMeta(runLogger, layout, runID, started)

	sources := o.selectSources()
	builder := report.NewBuilder(runID, started)
	browserSem := make(chan struct{}, max(1, o.Global.BrowserContexts))

	var g errgroup.Group
	g.SetLimit(max(1, o.Global.MaxSources))

	for _, src := range sources {
		g.Go(func() error {
			builder.Add(o.runSource(ctx, layout, runID, src, browserSem, level))
			return nil
		})
	}
	_ = g.Wait()

	rep := builder.Build(time.Now())
	if err := storage.WriteJSON(layout.RunReportPath(runID), rep); err != nil {
		runLogger.Error("writing run report failed", slog.String("err", err.Error()))
		return rep, err
	}
	runLogger.Info("run finished", slog.String("status", rep.Status))
	return rep, nil
}

func (o *Orchestrator) resultsRoot() string {
	if o.ResultsDir != "" {
		return o.ResultsDir
	}
	return o.Global.ResultsDir
}

func (o *Orchestrator) selectSources() []config.Source {
	if o.Only == "" {
		return o.Sources
	}
	var out []config.Source
	for _, s := range o.Sources {
		if s.SourceID == o.Only {
			out = append(out, s)
		}
	}
	return out
}

func (o *Orchestrator) writeRunMeta(logger *slog.Logger, layout storage.Layout, runID string, started time.Time) {
	host, _ := os.Hostname()
	meta := map[string]any{
		"run_id":     runID,
		"started_at": started.UTC().Format(time.RFC3339),
		"host":       host,
		"go_version": runtime.Version(),
		"version":    Version,
		"dry_run":    o.DryRun,
		"config":     o.Sources,
	}
	if err := storage.WriteJSON(layout.RunMetaPath(runID), meta); err != nil {
		logger.Error("writing run meta failed", slog.String("err", err.Error()))
	}
}

// runSource owns one source end to end: engine construction, pipeline,
// artifact finalization, report entry. The engine is closed on every exit
// path.
func (o *Orchestrator) runSource(ctx context.Context, layout storage.Layout, runID string, src config.Source, browserSem chan struct{}, level slog.Level) report.SourceReport {
	started := time.Now()
	metrics := report.NewCollector()

	fail := func(err error) report.SourceReport {
		sr := metrics.Snapshot(src.SourceID, 5)
		sr.Status = report.StatusFailed
		sr.Error = err.Error()
		sr.ElapsedS = time.Since(started).Seconds()
		log.LoggerFromContext(ctx).Error("source failed", slog.String("source", src.SourceID), slog.String("err", err.Error()))
		return sr
	}

	if err := os.MkdirAll(layout.SourceDir(runID, src.SourceID), 0o755); err != nil {
		return fail(err)
	}
	srcLogFile, err := os.Create(layout.SourceLogPath(runID, src.SourceID))
	if err != nil {
		return fail(err)
	}
	defer srcLogFile.Close()
	srcLogger := log.NewFileLogger(srcLogFile, level).With(slog.String("source", src.SourceID))
	ctx = log.ContextWithLogger(ctx, srcLogger)

	if o.DryRun {
		return o.planSource(srcLogger, src, metrics, started)
	}

	newEngine := o.NewEngine
	if newEngine == nil {
		newEngine = fetch.New
	}
	engine, err := newEngine(src.Engine, o.Global.UserAgent, browserSem)
	if err != nil {
		return fail(err)
	}
	defer engine.Close()

	store, err := dedupe.New(src.Discovery.Dedupe, src.SourceID)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	gate, err := quality.NewGate(src.Quality)
	if err != nil {
		return fail(err)
	}
	linkExtractor, err := extract.NewLinkExtractor(src.Discovery.LinkExtract)
	if err != nil {
		return fail(err)
	}

	itemsFormat := src.Storage.ItemsFormat
	if o.ItemsFormat != "" {
		itemsFormat = o.ItemsFormat
	}
	sink, err := newStorageSink(layout, runID, src.SourceID, itemsFormat)
	if err != nil {
		return fail(err)
	}
	defer sink.Close(srcLogger)

	run := &SourceRun{
		Source:     src,
		Engine:     engine,
		Store:      store,
		Gate:       gate,
		Links:      linkExtractor,
		Parser:     extract.NewParser(src.Parse),
		Metrics:    metrics,
		Sink:       sink,
		MaxWorkers: effectiveWorkers(src.Concurrency, o.Global.MaxWorkers),
	}

	runErr := run.Run(ctx)

	sr := metrics.Snapshot(src.SourceID, 5)
	sr.ElapsedS = time.Since(started).Seconds()
	switch {
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		sr.Status = report.StatusPartial
		sr.Error = "cancelled"
	case runErr != nil:
		sr.Status = report.StatusFailed
		sr.Error = runErr.Error()
	case metrics.Count("pages_succeeded") == 0:
		sr.Status = report.StatusFailed
		sr.Error = "no listing page could be fetched"
	case metrics.Count("errors") > 0 || metrics.Count("persist_errors") > 0:
		sr.Status = report.StatusPartial
	default:
		sr.Status = report.StatusSuccess
	}
	srcLogger.Info("source finished", slog.String("status", sr.Status))
	return sr
}

// planSource is the dry-run path: expand and count, fetch nothing.
func (o *Orchestrator) planSource(logger *slog.Logger, src config.Source, metrics *report.Collector, started time.Time) report.SourceReport {
	urls := ExpandEntrypoints(src.Entrypoints)
	for _, u := range urls {
		logger.Info("would fetch", slog.String("url", u))
	}
	metrics.Addn("pages_planned", len(urls))
	sr := metrics.Snapshot(src.SourceID, 5)
	sr.Status = report.StatusSuccess
	sr.ElapsedS = time.Since(started).Seconds()
	return sr
}

// effectiveWorkers reconciles the per-source concurrency with the global
// cap: a source can lower it, never raise it.
func effectiveWorkers(sourceConcurrency, globalMax int) int {
	workers := globalMax
	if workers < 1 {
		workers = 1
	}
	if sourceConcurrency > 0 && sourceConcurrency < workers {
		workers = sourceConcurrency
	}
	return workers
}
