// Package config defines the source descriptor model and the global runtime
// settings. A descriptor is the only input that varies between scraping
// targets; everything else the engine needs is derived from it.
package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/crawlkit/crawlkit/actions"
)

const (
	EngineHTTP    = "http"
	EngineBrowser = "browser"
	EngineHybrid  = "hybrid"
)

const (
	BackoffExp   = "exp"
	BackoffFixed = "fixed"
	BackoffNone  = "none"
)

const (
	ExtractRegex = "regex"
	ExtractCSS   = "css"
	ExtractXPath = "xpath"
	ExtractFeed  = "feed"
)

const (
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Engine holds the transport knobs plus the rate-limit and retry policy of
// one source. The fields are flat on purpose so that descriptor files stay
// shallow.
type Engine struct {
	Type      string  `json:"type" yaml:"type"`
	TimeoutS  float64 `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"`
	VerifySSL *bool   `json:"verify_ssl,omitempty" yaml:"verify_ssl,omitempty"`
	UserAgent string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`

	// browser only
	NavTimeoutS    float64 `json:"nav_timeout_s,omitempty" yaml:"nav_timeout_s,omitempty"`
	RenderTimeoutS float64 `json:"render_timeout_s,omitempty" yaml:"render_timeout_s,omitempty"`
	BlockResources *bool   `json:"block_resources,omitempty" yaml:"block_resources,omitempty"`

	// http pool
	PoolConnections int `json:"pool_connections,omitempty" yaml:"pool_connections,omitempty"`
	PoolMaxsize     int `json:"pool_maxsize,omitempty" yaml:"pool_maxsize,omitempty"`

	// rate limit
	RPS       float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst     int     `json:"burst,omitempty" yaml:"burst,omitempty"`
	MinDelayS float64 `json:"min_delay_s,omitempty" yaml:"min_delay_s,omitempty"`
	JitterS   float64 `json:"jitter_s,omitempty" yaml:"jitter_s,omitempty"`

	// retry
	MaxRetries    int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BackoffMode   string  `json:"backoff_mode,omitempty" yaml:"backoff_mode,omitempty"`
	BackoffBaseS  float64 `json:"backoff_base_s,omitempty" yaml:"backoff_base_s,omitempty"`
	RetryOnStatus []int   `json:"retry_on_status,omitempty" yaml:"retry_on_status,omitempty"`

	// hybrid fallback threshold
	MinTextLen int `json:"min_text_len,omitempty" yaml:"min_text_len,omitempty"`
}

func (e Engine) VerifyTLS() bool {
	return e.VerifySSL == nil || *e.VerifySSL
}

type Paging struct {
	Mode  string `json:"mode,omitempty" yaml:"mode,omitempty"` // page | offset
	Start *int   `json:"start,omitempty" yaml:"start,omitempty"`
	Pages int    `json:"pages,omitempty" yaml:"pages,omitempty"`
	Step  int    `json:"step,omitempty" yaml:"step,omitempty"`
}

type Entrypoint struct {
	URL     string            `json:"url" yaml:"url"`
	Paging  *Paging           `json:"paging,omitempty" yaml:"paging,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
}

type LinkExtract struct {
	Method     string `json:"method" yaml:"method"` // regex | css | xpath | feed
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Selector   string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty"`
}

type Dedupe struct {
	ContentFields    []string `json:"content_fields,omitempty" yaml:"content_fields,omitempty"`
	ContentPrefixLen int      `json:"content_prefix_len,omitempty" yaml:"content_prefix_len,omitempty"`
	Store            string   `json:"store,omitempty" yaml:"store,omitempty"` // memory | sqlite | redis
	Path             string   `json:"path,omitempty" yaml:"path,omitempty"`   // sqlite file
	Addr             string   `json:"addr,omitempty" yaml:"addr,omitempty"`   // redis address
}

type Discovery struct {
	LinkExtract LinkExtract `json:"link_extract" yaml:"link_extract"`
	WaitFor     string      `json:"wait_for,omitempty" yaml:"wait_for,omitempty"`
	Dedupe      Dedupe      `json:"dedupe,omitempty" yaml:"dedupe,omitempty"`
}

type Parse struct {
	TitleSelector string   `json:"title_selector,omitempty" yaml:"title_selector,omitempty"`
	TextSelector  string   `json:"text_selector,omitempty" yaml:"text_selector,omitempty"`
	DateSelector  string   `json:"date_selector,omitempty" yaml:"date_selector,omitempty"`
	DateLayouts   []string `json:"date_layouts,omitempty" yaml:"date_layouts,omitempty"`
	DateLanguage  string   `json:"date_language,omitempty" yaml:"date_language,omitempty"`
}

type Validation struct {
	MinTextLen   int  `json:"min_text_len,omitempty" yaml:"min_text_len,omitempty"`
	RequireTitle bool `json:"require_title,omitempty" yaml:"require_title,omitempty"`
	RequireText  bool `json:"require_text,omitempty" yaml:"require_text,omitempty"`
}

type Quality struct {
	BlockPatterns       []string `json:"block_patterns,omitempty" yaml:"block_patterns,omitempty"`
	MinTextLen          int      `json:"min_text_len,omitempty" yaml:"min_text_len,omitempty"`
	MaxBoilerplateRatio *float64 `json:"max_boilerplate_ratio,omitempty" yaml:"max_boilerplate_ratio,omitempty"`
}

type Storage struct {
	ItemsFormat string `json:"items_format,omitempty" yaml:"items_format,omitempty"`
}

type Schedule struct {
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty"`
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
}

// Source is the typed descriptor of one scraping target.
type Source struct {
	ConfigVersion int    `json:"config_version,omitempty" yaml:"config_version,omitempty"`
	SourceID      string `json:"source_id" yaml:"source_id"`
	Enabled       *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	Engine      Engine           `json:"engine" yaml:"engine"`
	Entrypoints []Entrypoint     `json:"entrypoints" yaml:"entrypoints"`
	Actions     []actions.Action `json:"actions,omitempty" yaml:"actions,omitempty"`
	Discovery   Discovery        `json:"discovery" yaml:"discovery"`
	Parse       Parse            `json:"parse,omitempty" yaml:"parse,omitempty"`
	Validation  Validation       `json:"validation,omitempty" yaml:"validation,omitempty"`
	Quality     Quality          `json:"quality,omitempty" yaml:"quality,omitempty"`
	Storage     Storage          `json:"storage,omitempty" yaml:"storage,omitempty"`
	Schedule    *Schedule        `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Concurrency bounds detail fetches for this source. It can lower the
	// global max_workers, never raise it.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

func (s *Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Global holds the run-wide settings that do not belong to any single
// source. Values come from an optional settings file, environment variables,
// or both.
type Global struct {
	ResultsDir      string `yaml:"results_dir" env:"RESULTS_DIR" env-default:"results"`
	MaxWorkers      int    `yaml:"max_workers" env:"MAX_WORKERS" env-default:"8"`
	MaxSources      int    `yaml:"max_sources" env:"MAX_SOURCES" env-default:"4"`
	LogLevel        string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	UserAgent       string `yaml:"user_agent" env:"CRAWLKIT_USER_AGENT" env-default:"crawlkit (github.com/crawlkit/crawlkit)"`
	BrowserContexts int    `yaml:"browser_contexts" env:"BROWSER_CONTEXTS" env-default:"4"`
	RunDeadlineS    int    `yaml:"run_deadline_s" env:"RUN_DEADLINE_S"`
}

func NewGlobal(path string) (*Global, error) {
	var g Global
	if path != "" {
		if err := cleanenv.ReadConfig(path, &g); err != nil {
			return nil, fmt.Errorf("reading global config %s: %w", path, err)
		}
		return &g, nil
	}
	if err := cleanenv.ReadEnv(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ConfigError is fatal: a run never starts on top of a broken config.
type ConfigError struct {
	Errors []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Errors, "; "))
}
