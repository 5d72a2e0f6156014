// Package fetch implements the three interchangeable transports (http,
// browser, hybrid) behind one response contract. Engines never panic and
// never return a nil response; failures are encoded on the response so that
// error routing stays visible at the call site.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/crawlkit/crawlkit/actions"
	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/quality"
	"github.com/crawlkit/crawlkit/resilience"
)

// ErrorKind distinguishes failure classes. Timeouts at different layers are
// separate kinds on purpose; the retry policy and the run report both key on
// them.
type ErrorKind string

const (
	ErrKindNone            ErrorKind = ""
	ErrKindConnectTimeout  ErrorKind = "connect_timeout"
	ErrKindReadTimeout     ErrorKind = "read_timeout"
	ErrKindRenderTimeout   ErrorKind = "render_timeout"
	ErrKindWaitTimeout     ErrorKind = "wait_timeout"
	ErrKindTransport       ErrorKind = "transport"
	ErrKindRetryableStatus ErrorKind = "retryable_status"
	ErrKindTerminalStatus  ErrorKind = "terminal_status"
	ErrKindActionFailure   ErrorKind = "action_failure"
	ErrKindCancelled       ErrorKind = "cancelled"
)

// ErrEngineInit marks engine construction failures, which fail the source
// fast instead of being retried per page.
var ErrEngineInit = errors.New("engine construction failed")

// TraceEntry records one attempt against a transport. Every attempt lands in
// the trace, including the successful one, so hybrid fallbacks and retry
// storms stay auditable.
type TraceEntry struct {
	Engine    string    `json:"engine"`
	Attempt   int       `json:"attempt"`
	Status    int       `json:"status,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	ElapsedMS float64   `json:"elapsed_ms"`
	Note      string    `json:"note,omitempty"`
}

// Response is the stable contract produced by every engine.
type Response struct {
	FinalURL    string              `json:"final_url"`
	Status      int                 `json:"status"`
	Headers     map[string]string   `json:"headers,omitempty"`
	Body        string              `json:"body"`
	FetchedAt   time.Time           `json:"fetched_at"`
	ElapsedMS   float64             `json:"elapsed_ms"`
	Trace       []TraceEntry        `json:"trace"`
	BlockSignal quality.BlockSignal `json:"block_signal"`
	ErrorKind   ErrorKind           `json:"error_kind,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// OK reports whether the fetch produced usable content.
func (r *Response) OK() bool {
	return r.ErrorKind == ErrKindNone && r.Status >= 200 && r.Status < 400
}

// Opts carries per-request headers and cookies.
type Opts struct {
	Headers map[string]string
	Cookies map[string]string
}

// RenderOpts drives GetRendered on browser-capable engines.
type RenderOpts struct {
	Actions []actions.Action
	WaitFor string
}

// Engine is the fetch contract shared by all transports. Close must release
// transport resources and is safe to call more than once.
type Engine interface {
	Get(ctx context.Context, url string, opts Opts) *Response
	GetRendered(ctx context.Context, url string, opts Opts, render RenderOpts) *Response
	Close() error
}

// New builds the engine a source asks for. browserSem caps concurrent
// browser contexts across the run; it may be nil for http-only sources.
func New(cfg config.Engine, userAgent string, browserSem chan struct{}) (Engine, error) {
	if cfg.UserAgent != "" {
		userAgent = cfg.UserAgent
	}
	switch cfg.Type {
	case config.EngineHTTP:
		return NewHTTPEngine(cfg, userAgent), nil
	case config.EngineBrowser:
		return NewBrowserEngine(cfg, userAgent, browserSem)
	case config.EngineHybrid:
		b, err := NewBrowserEngine(cfg, userAgent, browserSem)
		if err != nil {
			return nil, err
		}
		return NewHybridEngine(NewHTTPEngine(cfg, userAgent), b, cfg.MinTextLen), nil
	default:
		return nil, fmt.Errorf("%w: unknown engine type %q", ErrEngineInit, cfg.Type)
	}
}

func limiterFor(cfg config.Engine) *resilience.Limiter {
	return resilience.NewLimiter(
		cfg.RPS,
		cfg.Burst,
		time.Duration(cfg.MinDelayS*float64(time.Second)),
		time.Duration(cfg.JitterS*float64(time.Second)),
	)
}

func retryFor(cfg config.Engine) resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxRetries = cfg.MaxRetries
	if cfg.BackoffMode != "" {
		p.Mode = cfg.BackoffMode
	}
	if cfg.BackoffBaseS > 0 {
		p.BaseDelay = time.Duration(cfg.BackoffBaseS * float64(time.Second))
	}
	if len(cfg.RetryOnStatus) > 0 {
		p.RetryOnStatus = cfg.RetryOnStatus
	}
	return p
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Host
	}
	return rawURL
}

func cancelledResponse(url string, trace []TraceEntry, err error) *Response {
	return &Response{
		FinalURL:    url,
		Status:      0,
		FetchedAt:   time.Now().UTC(),
		Trace:       trace,
		BlockSignal: quality.SignalNone,
		ErrorKind:   ErrKindCancelled,
		Error:       err.Error(),
	}
}
