package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawlkit/crawlkit/quality"
)

// MockPage is a canned response for one URL.
type MockPage struct {
	URL     string
	Content string
	Status  int // 0 means 200
}

// MockStep scripts one attempt's outcome for a URL, consumed in order.
// After the script runs dry the engine falls back to the page map.
type MockStep struct {
	Status    int
	Body      string
	ErrorKind ErrorKind
	Err       string
}

// MockEngine serves fixture pages for tests, keeping the same response
// contract as the real engines.
type MockEngine struct {
	mu        sync.Mutex
	pages     map[string]MockPage
	scripts   map[string][]MockStep
	calls     map[string]int
	retry     func(status int) bool
	maxTry    int
	traceName string
}

func NewMockEngine(pages []MockPage) *MockEngine {
	m := &MockEngine{
		pages:   map[string]MockPage{},
		scripts: map[string][]MockStep{},
		calls:   map[string]int{},
		retry:   func(status int) bool { return status == 429 || (status >= 500 && status <= 504) },
		maxTry:  0,
	}
	for _, p := range pages {
		m.pages[p.URL] = p
	}
	return m
}

// Script sets per-attempt outcomes for url. With retries > 0 the engine
// replays retryable outcomes like the real attempt loop would, so tests can
// assert attempt counts.
func (m *MockEngine) Script(url string, retries int, steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[url] = steps
	m.maxTry = retries
}

// Calls reports how many attempts hit url.
func (m *MockEngine) Calls(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[url]
}

func (m *MockEngine) Close() error { return nil }

func (m *MockEngine) GetRendered(ctx context.Context, url string, opts Opts, render RenderOpts) *Response {
	return m.Get(ctx, url, opts)
}

func (m *MockEngine) Get(ctx context.Context, url string, opts Opts) *Response {
	var trace []TraceEntry
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return cancelledResponse(url, trace, ctx.Err())
		}
		step, scripted := m.nextStep(url)
		if !scripted {
			return m.servePage(url, attempt, trace)
		}

		if step.ErrorKind != ErrKindNone {
			trace = append(trace, TraceEntry{Engine: m.name(), Attempt: attempt, ErrorKind: step.ErrorKind, Error: step.Err})
			if attempt < m.maxTry && step.ErrorKind != ErrKindCancelled {
				continue
			}
			return &Response{FinalURL: url, Status: 0, FetchedAt: time.Now().UTC(), Trace: trace, ErrorKind: step.ErrorKind, Error: step.Err}
		}

		status := step.Status
		if status == 0 {
			status = 200
		}
		if status >= 200 && status < 400 {
			trace = append(trace, TraceEntry{Engine: m.name(), Attempt: attempt, Status: status})
			return &Response{
				FinalURL:    url,
				Status:      status,
				Body:        step.Body,
				FetchedAt:   time.Now().UTC(),
				Trace:       trace,
				BlockSignal: quality.ClassifyBlock(status, step.Body),
			}
		}
		if m.retry(status) && attempt < m.maxTry {
			trace = append(trace, TraceEntry{Engine: m.name(), Attempt: attempt, Status: status, ErrorKind: ErrKindRetryableStatus})
			continue
		}
		kind := ErrKindTerminalStatus
		if m.retry(status) {
			kind = ErrKindRetryableStatus
		}
		trace = append(trace, TraceEntry{Engine: m.name(), Attempt: attempt, Status: status, ErrorKind: kind})
		return &Response{FinalURL: url, Status: status, Body: step.Body, FetchedAt: time.Now().UTC(), Trace: trace, ErrorKind: kind}
	}
}

func (m *MockEngine) nextStep(url string) (MockStep, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[url]++
	steps := m.scripts[url]
	if len(steps) == 0 {
		return MockStep{}, false
	}
	step := steps[0]
	m.scripts[url] = steps[1:]
	return step, true
}

func (m *MockEngine) servePage(url string, attempt int, trace []TraceEntry) *Response {
	m.mu.Lock()
	p, ok := m.pages[url]
	m.mu.Unlock()
	if !ok {
		err := fmt.Sprintf("page not found: %s", url)
		trace = append(trace, TraceEntry{Engine: m.name(), Attempt: attempt, Status: 404, ErrorKind: ErrKindTerminalStatus, Error: err})
		return &Response{FinalURL: url, Status: 404, FetchedAt: time.Now().UTC(), Trace: trace, ErrorKind: ErrKindTerminalStatus, Error: err}
	}
	status := p.Status
	if status == 0 {
		status = 200
	}
	trace = append(trace, TraceEntry{Engine: m.name(), Attempt: attempt, Status: status})
	return &Response{
		FinalURL:    url,
		Status:      status,
		Body:        p.Content,
		FetchedAt:   time.Now().UTC(),
		Trace:       trace,
		BlockSignal: quality.ClassifyBlock(status, p.Content),
	}
}

// SetName overrides the engine name recorded in trace entries. Tests that
// stand a mock in for a real engine use it to keep trace shapes faithful.
func (m *MockEngine) SetName(name string) { m.traceName = name }

func (m *MockEngine) name() string {
	if m.traceName != "" {
		return m.traceName
	}
	return "mock"
}
