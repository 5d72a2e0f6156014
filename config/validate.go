package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/crawlkit/crawlkit/actions"
	"github.com/crawlkit/crawlkit/utils"
)

// BrowserAvailable is an optional environment probe. When set (the CLI wires
// it to the fetch package's probe), sources requesting a browser engine on a
// machine without one produce a warning instead of failing at run time.
var BrowserAvailable func() bool

var engineTypes = map[string]bool{EngineHTTP: true, EngineBrowser: true, EngineHybrid: true}
var backoffModes = map[string]bool{BackoffExp: true, BackoffFixed: true, BackoffNone: true}
var extractMethods = map[string]bool{ExtractRegex: true, ExtractCSS: true, ExtractXPath: true, ExtractFeed: true}
var itemFormats = map[string]bool{FormatJSONL: true, FormatCSV: true, FormatParquet: true}

// Validate checks hard invariants (returned as errors; any error makes the
// whole config fatal) and collects non-fatal warnings.
func Validate(s *Source) (errs []string, warns []string) {
	id := s.SourceID
	fail := func(format string, a ...any) {
		errs = append(errs, fmt.Sprintf("%s: %s", id, fmt.Sprintf(format, a...)))
	}
	warn := func(format string, a ...any) {
		warns = append(warns, fmt.Sprintf("%s: %s", id, fmt.Sprintf(format, a...)))
	}

	if strings.TrimSpace(s.SourceID) == "" {
		errs = append(errs, "source is missing source_id")
		return errs, warns
	}
	if strings.ContainsAny(s.SourceID, " \t/\\") {
		fail("source_id must be filesystem-safe (no spaces or path separators)")
	} else if utils.SafeName(s.SourceID) != s.SourceID {
		warn("source_id contains characters that will be replaced in directory names")
	}

	// engine
	if !engineTypes[s.Engine.Type] {
		fail("engine.type must be http|browser|hybrid, got %q", s.Engine.Type)
	}
	if s.Engine.TimeoutS <= 0 {
		fail("engine.timeout_s must be > 0")
	}
	if s.Engine.RPS < 0 {
		fail("engine.rps must be >= 0")
	}
	if s.Engine.MinDelayS < 0 {
		fail("engine.min_delay_s must be >= 0")
	}
	if s.Engine.JitterS < 0 {
		fail("engine.jitter_s must be >= 0")
	}
	if s.Engine.Burst < 1 {
		fail("engine.burst must be >= 1")
	}
	if !backoffModes[s.Engine.BackoffMode] {
		fail("engine.backoff_mode must be exp|fixed|none, got %q", s.Engine.BackoffMode)
	}
	if s.Engine.MaxRetries < 0 || s.Engine.MaxRetries > 20 {
		fail("engine.max_retries must be in [0, 20]")
	}
	if !s.Engine.VerifyTLS() {
		warn("verify_ssl is disabled; TLS errors will be silently accepted")
	}
	if s.Engine.Type != EngineHTTP && BrowserAvailable != nil && !BrowserAvailable() {
		warn("engine.type=%s but no Chrome/Chromium binary was found", s.Engine.Type)
	}

	// entrypoints
	if len(s.Entrypoints) == 0 {
		fail("at least one entrypoint is required")
	}
	for i, ep := range s.Entrypoints {
		if strings.TrimSpace(ep.URL) == "" {
			fail("entrypoints[%d].url is empty", i)
			continue
		}
		probe := strings.NewReplacer("{page}", "1", "{offset}", "0").Replace(ep.URL)
		if u, err := url.Parse(probe); err != nil || u.Scheme == "" || u.Host == "" {
			fail("entrypoints[%d].url is not a well-formed absolute URL: %s", i, ep.URL)
		}
		if ep.Paging != nil {
			if ep.Paging.Mode != "page" && ep.Paging.Mode != "offset" {
				fail("entrypoints[%d].paging.mode must be page|offset", i)
			}
			if ep.Paging.Step < 1 {
				fail("entrypoints[%d].paging.step must be >= 1", i)
			}
			if ep.Paging.Pages < 1 {
				fail("entrypoints[%d].paging.pages must be >= 1", i)
			}
		}
	}

	// actions
	if err := actions.Check(s.Actions); err != nil {
		fail("%v", err)
	}

	// discovery
	le := s.Discovery.LinkExtract
	if le.Method == "" {
		fail("discovery.link_extract.method is required")
	} else if !extractMethods[le.Method] {
		fail("discovery.link_extract.method must be regex|css|xpath|feed, got %q", le.Method)
	}
	switch le.Method {
	case ExtractRegex:
		if le.Pattern == "" {
			fail("discovery.link_extract.pattern is required when method=regex")
		} else if rx, err := regexp.Compile(le.Pattern); err != nil {
			fail("discovery.link_extract.pattern does not compile: %v", err)
		} else if !strings.Contains(rx.String(), "://") {
			warn("link pattern has no scheme anchor and may match off-domain URLs")
		}
	case ExtractCSS, ExtractXPath:
		if le.Selector == "" {
			fail("discovery.link_extract.selector is required when method=%s", le.Method)
		}
	}

	switch s.Discovery.Dedupe.Store {
	case "", "memory", "sqlite", "redis":
	default:
		fail("discovery.dedupe.store must be memory|sqlite|redis")
	}

	// quality
	for i, p := range s.Quality.BlockPatterns {
		if _, err := regexp.Compile(p); err != nil {
			fail("quality.block_patterns[%d] does not compile: %v", i, err)
		}
	}
	if s.Quality.MinTextLen < 0 {
		fail("quality.min_text_len must be >= 0")
	}
	if r := s.Quality.MaxBoilerplateRatio; r != nil && (*r < 0 || *r > 1) {
		fail("quality.max_boilerplate_ratio must be within [0, 1]")
	}

	// validation
	if s.Validation.MinTextLen < 0 {
		fail("validation.min_text_len must be >= 0")
	}

	// storage
	if !itemFormats[s.Storage.ItemsFormat] {
		fail("storage.items_format must be jsonl|csv|parquet, got %q", s.Storage.ItemsFormat)
	}

	if s.Concurrency < 0 {
		fail("concurrency must be >= 0")
	}

	return errs, warns
}
