package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/log"
	"github.com/crawlkit/crawlkit/quality"
	"github.com/crawlkit/crawlkit/resilience"
)

// HTTPEngine fetches static page content over a pooled HTTP client. Retries
// and rate limiting happen here, one attempt per trace entry; resty only
// supplies the transport.
type HTTPEngine struct {
	cfg       config.Engine
	client    *resty.Client
	transport *http.Transport
	limiter   *resilience.Limiter
	retry     resilience.RetryPolicy
	closeOnce sync.Once
}

func NewHTTPEngine(cfg config.Engine, userAgent string) *HTTPEngine {
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolConnections,
		MaxIdleConnsPerHost: cfg.PoolMaxsize,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS()},
	}
	client := resty.New().
		SetTransport(transport).
		SetTimeout(time.Duration(cfg.TimeoutS*float64(time.Second))).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "*/*").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &HTTPEngine{
		cfg:       cfg,
		client:    client,
		transport: transport,
		limiter:   limiterFor(cfg),
		retry:     retryFor(cfg),
	}
}

func (e *HTTPEngine) Close() error {
	e.closeOnce.Do(func() {
		e.transport.CloseIdleConnections()
	})
	return nil
}

// GetRendered on a pure HTTP engine degrades to Get: there is no DOM to run
// actions against.
func (e *HTTPEngine) GetRendered(ctx context.Context, url string, opts Opts, render RenderOpts) *Response {
	if len(render.Actions) > 0 || render.WaitFor != "" {
		log.LoggerFromContext(ctx).Debug("http engine ignores render options", slog.String("url", url))
	}
	return e.Get(ctx, url, opts)
}

func (e *HTTPEngine) Get(ctx context.Context, urlStr string, opts Opts) *Response {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "http"), slog.String("url", urlStr))
	host := hostOf(urlStr)
	started := time.Now()
	var trace []TraceEntry

	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx, host); err != nil {
			return cancelledResponse(urlStr, trace, err)
		}

		t0 := time.Now()
		req := e.client.R().SetContext(ctx)
		for k, v := range opts.Headers {
			req.SetHeader(k, v)
		}
		for k, v := range opts.Cookies {
			req.SetCookie(&http.Cookie{Name: k, Value: v})
		}
		resp, err := req.Get(urlStr)
		elapsed := float64(time.Since(t0).Milliseconds())

		if err != nil {
			kind := classifyTransportErr(err)
			trace = append(trace, TraceEntry{Engine: "http", Attempt: attempt, ErrorKind: kind, Error: err.Error(), ElapsedMS: elapsed})
			if kind != ErrKindCancelled && attempt < e.retry.MaxRetries {
				logger.Debug("transport error, retrying", slog.Int("attempt", attempt), slog.String("err", err.Error()))
				if serr := e.retry.Sleep(ctx, attempt); serr != nil {
					return cancelledResponse(urlStr, trace, serr)
				}
				continue
			}
			return &Response{
				FinalURL:  urlStr,
				Status:    0,
				FetchedAt: time.Now().UTC(),
				ElapsedMS: float64(time.Since(started).Milliseconds()),
				Trace:     trace,
				ErrorKind: kind,
				Error:     err.Error(),
			}
		}

		status := resp.StatusCode()
		body := string(resp.Body())
		res := &Response{
			FinalURL:    finalURL(resp, urlStr),
			Status:      status,
			Headers:     flattenHeaders(resp.Header()),
			Body:        body,
			FetchedAt:   time.Now().UTC(),
			ElapsedMS:   float64(time.Since(started).Milliseconds()),
			BlockSignal: quality.ClassifyBlock(status, body),
		}

		if status >= 200 && status < 400 {
			trace = append(trace, TraceEntry{Engine: "http", Attempt: attempt, Status: status, ElapsedMS: elapsed})
			res.Trace = trace
			return res
		}

		if e.retry.RetryableStatus(status) && attempt < e.retry.MaxRetries {
			trace = append(trace, TraceEntry{Engine: "http", Attempt: attempt, Status: status, ErrorKind: ErrKindRetryableStatus, ElapsedMS: elapsed})
			logger.Debug("retryable status", slog.Int("status", status), slog.Int("attempt", attempt))
			if serr := e.retry.Sleep(ctx, attempt); serr != nil {
				return cancelledResponse(urlStr, trace, serr)
			}
			continue
		}

		kind := ErrKindTerminalStatus
		if e.retry.RetryableStatus(status) {
			kind = ErrKindRetryableStatus // retries exhausted
		}
		trace = append(trace, TraceEntry{Engine: "http", Attempt: attempt, Status: status, ErrorKind: kind, ElapsedMS: elapsed})
		res.Trace = trace
		res.ErrorKind = kind
		return res
	}
}

func finalURL(resp *resty.Response, fallback string) string {
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		return raw.Request.URL.String()
	}
	return fallback
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// classifyTransportErr maps a transport error to its kind. Connect and read
// timeouts are distinct so the report can tell a dead host from a slow one.
func classifyTransportErr(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		var oe *net.OpError
		if errors.As(err, &oe) && oe.Op == "dial" {
			return ErrKindConnectTimeout
		}
		return ErrKindReadTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindReadTimeout
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return ErrKindReadTimeout
	}
	return ErrKindTransport
}
