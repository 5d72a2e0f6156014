package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutPaths(t *testing.T) {
	l := Layout{Root: "results"}
	assert.Equal(t, filepath.Join("results", "run_abc"), l.RunDir("abc"))
	assert.Equal(t, filepath.Join("results", "run_abc", "run_report.json"), l.RunReportPath("abc"))
	assert.Equal(t,
		filepath.Join("results", "run_abc", "sources", "fixjobs", "items", "items_valid.jsonl"),
		l.ItemsPath("abc", "fixjobs", "items_valid", "jsonl"))
	assert.Equal(t,
		filepath.Join("results", "run_abc", "sources", "fixjobs", "raw_pages", "listing", "part-00000.jsonl"),
		l.RawListingPath("abc", "fixjobs", 0))
}

func TestLayoutSanitizesSourceID(t *testing.T) {
	l := Layout{Root: "results"}
	dir := l.SourceDir("abc", "weird source/id")
	assert.NotContains(t, filepath.Base(dir), "/")
	assert.NotContains(t, filepath.Base(dir), " ")
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	id := NewRunID(now)
	assert.True(t, strings.HasPrefix(id, "20250601T123000_"))
	assert.NotEqual(t, id, NewRunID(now), "ids must be unique")
}

func TestJSONLWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "dir", "out.jsonl")

	w, err := NewJSONLWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]any{"n": 1}))
	require.NoError(t, w.Write(map[string]any{"n": 2, "html": "<b>x</b>"}))
	require.NoError(t, w.Close())

	// append-only across re-opens
	w2, err := NewJSONLWriter(path)
	require.NoError(t, err)
	require.NoError(t, w2.Write(map[string]any{"n": 3}))
	require.NoError(t, w2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(string(data), "\n"), "records are newline-terminated")
	assert.Contains(t, lines[1], "<b>x</b>", "html is not escaped")

	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "meta.json")
	require.NoError(t, WriteJSON(path, map[string]any{"a": 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(1), out["a"])
}

func TestWriteItemsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.csv")
	items := []map[string]any{
		{"url": "https://fix.test/1", "title": "One", "text": "t1", "status": 200, "meta": map[string]any{"lang": "en"}},
		{"url": "https://fix.test/2", "title": "Two", "text": "t2", "extra": "x"},
	}
	require.NoError(t, WriteItemsCSV(path, items))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "url,title,text"), lines[0])
	assert.Contains(t, lines[1], `""lang"":""en""`)
}

func TestWriteItemsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.parquet")
	items := []map[string]any{
		{"url": "https://fix.test/1", "title": "One", "text": "body", "status": 200, "fetched_at": "2025-06-01T00:00:00Z", "meta": map[string]any{"lang": "en"}},
	}
	require.NoError(t, WriteItemsParquet(path, items))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestCSVHeaderStable(t *testing.T) {
	items := []map[string]any{
		{"zeta": 1, "url": "u", "alpha": 2},
	}
	assert.Equal(t, []string{"url", "alpha", "zeta"}, csvHeader(items))
}
