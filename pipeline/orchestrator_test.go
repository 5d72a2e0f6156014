package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/fetch"
	"github.com/crawlkit/crawlkit/report"
)

func testGlobal(t *testing.T) *config.Global {
	t.Helper()
	return &config.Global{
		ResultsDir:      t.TempDir(),
		MaxWorkers:      4,
		MaxSources:      2,
		LogLevel:        "debug",
		UserAgent:       "crawlkit-test",
		BrowserContexts: 1,
	}
}

func mockFactory(engine fetch.Engine) func(config.Engine, string, chan struct{}) (fetch.Engine, error) {
	return func(config.Engine, string, chan struct{}) (fetch.Engine, error) {
		return engine, nil
	}
}

func fixtureEngine() *fetch.MockEngine {
	return fetch.NewMockEngine([]fetch.MockPage{
		{URL: "https://fix.test/jobs?page=1", Content: anchors("https://fix.test/jobs/101", "https://fix.test/jobs/102")},
		{URL: "https://fix.test/jobs?page=2", Content: anchors("https://fix.test/jobs/103")},
		{URL: "https://fix.test/jobs/101", Content: detailPage(101, "")},
		{URL: "https://fix.test/jobs/102", Content: detailPage(102, "")},
		{URL: "https://fix.test/jobs/103", Content: detailPage(103, "")},
	})
}

func findRunDir(t *testing.T, root string) string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return filepath.Join(root, entries[0].Name())
}

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestOrchestratorRunArtifacts(t *testing.T) {
	g := testGlobal(t)
	orch := &Orchestrator{
		Global:    g,
		Sources:   []config.Source{fixtureSource()},
		NewEngine: mockFactory(fixtureEngine()),
	}

	rep, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.StatusSuccess, rep.Status)
	assert.Equal(t, 0, rep.ExitCode())

	runDir := findRunDir(t, g.ResultsDir)
	for _, rel := range []string{
		"run.log",
		"run_meta.json",
		"run_report.json",
		filepath.Join("sources", "fixjobs", "source.log"),
		filepath.Join("sources", "fixjobs", "raw_pages", "listing", "part-00000.jsonl"),
		filepath.Join("sources", "fixjobs", "raw_pages", "detail", "part-00000.jsonl"),
		filepath.Join("sources", "fixjobs", "links", "extracted_links.jsonl"),
		filepath.Join("sources", "fixjobs", "items", "items.jsonl"),
		filepath.Join("sources", "fixjobs", "items", "items_valid.jsonl"),
		filepath.Join("sources", "fixjobs", "items", "items_dropped.jsonl"),
	} {
		_, err := os.Stat(filepath.Join(runDir, rel))
		assert.NoError(t, err, rel)
	}

	valid := readJSONL(t, filepath.Join(runDir, "sources", "fixjobs", "items", "items_valid.jsonl"))
	assert.Len(t, valid, 3)
	for _, it := range valid {
		assert.NotEmpty(t, it["url"])
		assert.NotEmpty(t, it["title"])
	}

	links := readJSONL(t, filepath.Join(runDir, "sources", "fixjobs", "links", "extracted_links.jsonl"))
	assert.Len(t, links, 3)
	for _, l := range links {
		assert.NotEmpty(t, l["url_normalized"])
		assert.NotEmpty(t, l["source_page_url"])
	}

	var rpt report.Report
	data, err := os.ReadFile(filepath.Join(runDir, "run_report.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rpt))
	require.Len(t, rpt.Sources, 1)
	sr := rpt.Sources[0]
	assert.Equal(t, "fixjobs", sr.SourceID)
	assert.Equal(t, report.StatusSuccess, sr.Status)
	assert.Equal(t, 3, sr.Counts["items_valid"])
	assert.Equal(t, 2, sr.Counts["pages_succeeded"])
}

// Cancelling a run still yields a well-formed run report with
// status partial.
func TestOrchestratorCancellationWritesReport(t *testing.T) {
	g := testGlobal(t)
	orch := &Orchestrator{
		Global:    g,
		Sources:   []config.Source{fixtureSource()},
		NewEngine: mockFactory(fixtureEngine()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.StatusPartial, rep.Status)
	assert.Equal(t, 1, rep.ExitCode())

	runDir := findRunDir(t, g.ResultsDir)
	var rpt report.Report
	data, err := os.ReadFile(filepath.Join(runDir, "run_report.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rpt))
	assert.Equal(t, report.StatusPartial, rpt.Status)
}

func TestOrchestratorEngineInitFailureFailsSource(t *testing.T) {
	g := testGlobal(t)
	orch := &Orchestrator{
		Global:  g,
		Sources: []config.Source{fixtureSource()},
		NewEngine: func(config.Engine, string, chan struct{}) (fetch.Engine, error) {
			return nil, fetch.ErrEngineInit
		},
	}
	rep, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.StatusFailed, rep.Status)
	require.Len(t, rep.Sources, 1)
	assert.Equal(t, report.StatusFailed, rep.Sources[0].Status)
	assert.NotEmpty(t, rep.Sources[0].Error)
}

func TestOrchestratorDryRun(t *testing.T) {
	g := testGlobal(t)
	engine := fixtureEngine()
	orch := &Orchestrator{
		Global:    g,
		Sources:   []config.Source{fixtureSource()},
		DryRun:    true,
		NewEngine: mockFactory(engine),
	}
	rep, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.StatusSuccess, rep.Status)
	assert.Equal(t, 2, rep.Sources[0].Counts["pages_planned"])
	assert.Equal(t, 0, engine.Calls("https://fix.test/jobs?page=1"), "dry run must not fetch")
}

func TestOrchestratorOnlyFilter(t *testing.T) {
	g := testGlobal(t)
	other := fixtureSource()
	other.SourceID = "othersource"
	orch := &Orchestrator{
		Global:    g,
		Sources:   []config.Source{fixtureSource(), other},
		Only:      "fixjobs",
		NewEngine: mockFactory(fixtureEngine()),
	}
	rep, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Sources, 1)
	assert.Equal(t, "fixjobs", rep.Sources[0].SourceID)
}

func TestOrchestratorItemsFormatOverrideCSV(t *testing.T) {
	g := testGlobal(t)
	orch := &Orchestrator{
		Global:      g,
		Sources:     []config.Source{fixtureSource()},
		ItemsFormat: config.FormatCSV,
		NewEngine:   mockFactory(fixtureEngine()),
	}
	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	runDir := findRunDir(t, g.ResultsDir)
	data, err := os.ReadFile(filepath.Join(runDir, "sources", "fixjobs", "items", "items_valid.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "url,title,text")
}

func TestEffectiveWorkers(t *testing.T) {
	assert.Equal(t, 8, effectiveWorkers(0, 8))
	assert.Equal(t, 2, effectiveWorkers(2, 8), "a source may lower the cap")
	assert.Equal(t, 8, effectiveWorkers(16, 8), "a source may not raise it")
	assert.Equal(t, 1, effectiveWorkers(0, 0))
}
