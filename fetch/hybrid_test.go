package fetch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var longText = strings.Repeat("Rendered content with plenty of visible text. ", 10)

var fullDetail = `<html><body><article>` + longText + `</article></body></html>`

func hybridPair(httpPages, browserPages []MockPage) (*MockEngine, *MockEngine, *HybridEngine) {
	h := NewMockEngine(httpPages)
	h.SetName("http")
	b := NewMockEngine(browserPages)
	b.SetName("browser")
	return h, b, NewHybridEngine(h, b, 100)
}

func TestHybridNoFallbackOnGoodContent(t *testing.T) {
	h, b, e := hybridPair(
		[]MockPage{{URL: "https://fix.test/a", Content: fullDetail}},
		nil,
	)
	resp := e.Get(context.Background(), "https://fix.test/a", Opts{})

	assert.True(t, resp.OK())
	assert.Equal(t, 1, h.Calls("https://fix.test/a"))
	assert.Equal(t, 0, b.Calls("https://fix.test/a"))
	require.Len(t, resp.Trace, 1)
	assert.Equal(t, "http", resp.Trace[0].Engine)
}

func TestHybridFallbackOnThinContent(t *testing.T) {
	_, _, e := hybridPair(
		[]MockPage{{URL: "https://fix.test/a", Content: "<html><body>js required</body></html>"}},
		[]MockPage{{URL: "https://fix.test/a", Content: fullDetail}},
	)
	resp := e.Get(context.Background(), "https://fix.test/a", Opts{})

	assert.True(t, resp.OK())
	assert.Contains(t, resp.Body, "Rendered content")
	// a fallback trace has >= 2 entries, browser last
	require.GreaterOrEqual(t, len(resp.Trace), 2)
	assert.Equal(t, "http", resp.Trace[0].Engine)
	assert.Equal(t, "browser", resp.Trace[len(resp.Trace)-1].Engine)
	assert.Contains(t, resp.Trace[0].Note, "fallback")
}

func TestHybridFallbackOnFailedStatus(t *testing.T) {
	h, _, e := hybridPair(
		nil, // http map empty -> 404
		[]MockPage{{URL: "https://fix.test/a", Content: fullDetail}},
	)
	resp := e.Get(context.Background(), "https://fix.test/a", Opts{})

	assert.True(t, resp.OK())
	assert.Equal(t, 1, h.Calls("https://fix.test/a"))
	assert.Equal(t, "browser", resp.Trace[len(resp.Trace)-1].Engine)
}

func TestHybridFallbackOnBlockSignal(t *testing.T) {
	_, _, e := hybridPair(
		[]MockPage{{URL: "https://fix.test/a", Content: "<html><body>" + strings.Repeat("Please verify you are human. ", 10) + "</body></html>"}},
		[]MockPage{{URL: "https://fix.test/a", Content: fullDetail}},
	)
	resp := e.Get(context.Background(), "https://fix.test/a", Opts{})

	assert.True(t, resp.OK())
	assert.Equal(t, "browser", resp.Trace[len(resp.Trace)-1].Engine)
	assert.Contains(t, resp.Trace[0].Note, "block signal")
}

func TestHybridGetRenderedGoesToBrowser(t *testing.T) {
	h, b, e := hybridPair(
		[]MockPage{{URL: "https://fix.test/a", Content: fullDetail}},
		[]MockPage{{URL: "https://fix.test/a", Content: fullDetail}},
	)
	resp := e.GetRendered(context.Background(), "https://fix.test/a", Opts{}, RenderOpts{})

	assert.True(t, resp.OK())
	assert.Equal(t, 0, h.Calls("https://fix.test/a"))
	assert.Equal(t, 1, b.Calls("https://fix.test/a"))
}

func TestHybridCloseClosesBoth(t *testing.T) {
	_, _, e := hybridPair(nil, nil)
	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}

func TestVisibleText(t *testing.T) {
	html := `<html><head><style>.x{}</style><script>var a=1;</script></head><body><p>hello  world</p></body></html>`
	assert.Equal(t, "hello world", visibleText(html))
}

func TestNewEngineUnknownType(t *testing.T) {
	_, err := New(cfgOfType("teleport"), "ua", nil)
	assert.ErrorIs(t, err, ErrEngineInit)
}
