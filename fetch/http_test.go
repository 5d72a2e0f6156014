package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/quality"
)

func httpEngineCfg() config.Engine {
	cfg := config.DefaultSource().Engine
	cfg.Type = config.EngineHTTP
	cfg.TimeoutS = 5
	cfg.BackoffBaseS = 0.01
	return cfg
}

func TestHTTPEngineGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crawlkit-test", r.Header.Get("User-Agent"))
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(httpEngineCfg(), "crawlkit-test")
	defer e.Close()

	resp := e.Get(context.Background(), srv.URL, Opts{})
	assert.True(t, resp.OK())
	assert.Equal(t, 200, resp.Status)
	assert.Contains(t, resp.Body, "hello")
	assert.Equal(t, quality.SignalNone, resp.BlockSignal)
	require.Len(t, resp.Trace, 1)
	assert.Equal(t, "http", resp.Trace[0].Engine)
	assert.False(t, resp.FetchedAt.IsZero())
}

func TestHTTPEngineCustomHeadersAndCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		c, err := r.Cookie("session")
		if assert.NoError(t, err) {
			assert.Equal(t, "s1", c.Value)
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(httpEngineCfg(), "ua")
	defer e.Close()
	resp := e.Get(context.Background(), srv.URL, Opts{
		Headers: map[string]string{"X-Token": "abc"},
		Cookies: map[string]string{"session": "s1"},
	})
	assert.True(t, resp.OK())
}

// Two 503s then 200 with exponential backoff.
func TestHTTPEngineRetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	cfg := httpEngineCfg()
	cfg.MaxRetries = 3
	cfg.BackoffMode = config.BackoffExp
	cfg.BackoffBaseS = 0.05

	e := NewHTTPEngine(cfg, "ua")
	defer e.Close()

	start := time.Now()
	resp := e.Get(context.Background(), srv.URL, Opts{})
	elapsed := time.Since(start)

	assert.True(t, resp.OK())
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, resp.Trace, 3)
	assert.Equal(t, ErrKindRetryableStatus, resp.Trace[0].ErrorKind)
	assert.Equal(t, ErrKindRetryableStatus, resp.Trace[1].ErrorKind)
	assert.Equal(t, ErrorKind(""), resp.Trace[2].ErrorKind)
	// backoff(0) + backoff(1) >= base + 2*base
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

// Retry upper bound: at most max_retries+1 attempts against the transport.
func TestHTTPEngineRetryCeiling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := httpEngineCfg()
	cfg.MaxRetries = 2

	e := NewHTTPEngine(cfg, "ua")
	defer e.Close()
	resp := e.Get(context.Background(), srv.URL, Opts{})

	assert.False(t, resp.OK())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, ErrKindRetryableStatus, resp.ErrorKind)
	assert.Len(t, resp.Trace, 3)
}

// 4xx outside the retry list is terminal, one attempt only.
func TestHTTPEngineTerminalStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewHTTPEngine(httpEngineCfg(), "ua")
	defer e.Close()
	resp := e.Get(context.Background(), srv.URL, Opts{})

	assert.False(t, resp.OK())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, ErrKindTerminalStatus, resp.ErrorKind)
	assert.Equal(t, 404, resp.Status)
}

func TestHTTPEngineTransportErrorStatusZero(t *testing.T) {
	cfg := httpEngineCfg()
	cfg.MaxRetries = 1

	e := NewHTTPEngine(cfg, "ua")
	defer e.Close()
	// nothing listens here
	resp := e.Get(context.Background(), "http://127.0.0.1:1/never", Opts{})

	assert.False(t, resp.OK())
	assert.Equal(t, 0, resp.Status)
	assert.NotEmpty(t, resp.Trace)
	assert.NotEqual(t, ErrKindNone, resp.ErrorKind)
}

func TestHTTPEngineBlockSignalOnBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Please verify you are human</body></html>"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(httpEngineCfg(), "ua")
	defer e.Close()
	resp := e.Get(context.Background(), srv.URL, Opts{})

	assert.True(t, resp.OK())
	assert.Equal(t, quality.SignalCaptcha, resp.BlockSignal)
}

func TestHTTPEngineGetRenderedDegradesToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("static"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(httpEngineCfg(), "ua")
	defer e.Close()
	resp := e.GetRendered(context.Background(), srv.URL, Opts{}, RenderOpts{WaitFor: ".never"})
	assert.True(t, resp.OK())
	assert.Equal(t, "static", resp.Body)
}

func TestHTTPEngineFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("landed"))
	})

	e := NewHTTPEngine(httpEngineCfg(), "ua")
	defer e.Close()
	resp := e.Get(context.Background(), srv.URL+"/start", Opts{})

	assert.True(t, resp.OK())
	assert.Equal(t, srv.URL+"/end", resp.FinalURL)
	assert.Equal(t, "landed", resp.Body)
}

func TestHTTPEngineCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	e := NewHTTPEngine(httpEngineCfg(), "ua")
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	resp := e.Get(ctx, srv.URL, Opts{})
	assert.False(t, resp.OK())
	assert.Less(t, time.Since(start), 3*time.Second)
}
