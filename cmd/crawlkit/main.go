/*
crawlkit is a config-driven scraping engine. A declarative source descriptor
drives a multi-stage pipeline that fetches listing and detail pages, extracts
structured items, and writes auditable run artifacts.
*/
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/fetch"
	"github.com/crawlkit/crawlkit/log"
	"github.com/crawlkit/crawlkit/pipeline"
	"github.com/crawlkit/crawlkit/report"
)

var (
	flagDebug    bool
	flagSettings string
)

func main() {
	root := &cobra.Command{
		Use:           "crawlkit",
		Short:         "config-driven scraping engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "set log level to debug and store extra debugging data")
	root.PersistentFlags().StringVar(&flagSettings, "settings", "", "path to a global settings file")

	root.AddCommand(runCmd(), validateCmd(), planCmd(), doctorCmd(), captureFixtureCmd(), versionCmd())

	config.BrowserAvailable = fetch.BrowserAvailable

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func globalConfig() (*config.Global, error) {
	g, err := config.NewGlobal(flagSettings)
	if err != nil {
		return nil, err
	}
	if flagDebug {
		g.LogLevel = "debug"
		log.Debug = true
	}
	log.InitializeDefaultLogger(log.ParseLevel(g.LogLevel))
	return g, nil
}

func runCmd() *cobra.Command {
	var (
		configPath  string
		only        string
		dryRun      bool
		itemsFormat string
		resultsDir  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scraping pipeline for the configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := globalConfig()
			if err != nil {
				return err
			}
			file, err := config.Load(configPath)
			if err != nil {
				return err
			}
			for _, w := range file.Warnings {
				slog.Warn(w)
			}
			if itemsFormat != "" && itemsFormat != config.FormatJSONL && itemsFormat != config.FormatCSV && itemsFormat != config.FormatParquet {
				return fmt.Errorf("unknown items format %q", itemsFormat)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch := &pipeline.Orchestrator{
				Global:      g,
				Sources:     file.Sources,
				ResultsDir:  resultsDir,
				ItemsFormat: itemsFormat,
				Only:        only,
				DryRun:      dryRun,
			}
			rep, err := orch.Run(ctx)
			if err != nil {
				return err
			}
			printSummary(rep)
			os.Exit(rep.ExitCode())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.json", "source descriptor file or directory")
	cmd.Flags().StringVar(&only, "only", "", "run only this source_id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "expand and report the plan without fetching")
	cmd.Flags().StringVar(&itemsFormat, "items-format", "", "override items output format (jsonl|csv|parquet)")
	cmd.Flags().StringVar(&resultsDir, "results", "", "results output directory")
	return cmd
}

func validateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate source descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := globalConfig(); err != nil {
				return err
			}
			file, err := config.Load(configPath)
			if err != nil {
				var cfgErr *config.ConfigError
				if errors.As(err, &cfgErr) {
					for _, e := range cfgErr.Errors {
						fmt.Fprintln(os.Stderr, "error:", e)
					}
					os.Exit(2)
				}
				return err
			}
			for _, m := range file.Migrations {
				fmt.Println("migrated:", m)
			}
			for _, w := range file.Warnings {
				fmt.Println("warning:", w)
			}
			fmt.Printf("%d source(s) valid\n", len(file.Sources))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.json", "source descriptor file or directory")
	return cmd
}

func planCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Describe the URLs a run would fetch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := globalConfig(); err != nil {
				return err
			}
			file, err := config.Load(configPath)
			if err != nil {
				return err
			}
			for _, src := range file.Sources {
				fmt.Printf("%s (%s engine):\n", src.SourceID, src.Engine.Type)
				for _, u := range pipeline.ExpandEntrypoints(src.Entrypoints) {
					fmt.Println("  ", u)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.json", "source descriptor file or directory")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := globalConfig(); err != nil {
				return err
			}
			ok := true
			fmt.Println("http transport: ok")
			if fetch.BrowserAvailable() {
				fmt.Println("browser backend: ok (Chrome/Chromium found)")
			} else {
				fmt.Println("browser backend: MISSING (no Chrome/Chromium in PATH)")
				ok = false
			}
			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}
}

func captureFixtureCmd() *cobra.Command {
	var (
		url        string
		out        string
		engineType string
	)
	cmd := &cobra.Command{
		Use:   "capture-fixture",
		Short: "Fetch a URL and save its HTML as a test fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := globalConfig()
			if err != nil {
				return err
			}
			cfg := config.DefaultSource().Engine
			cfg.Type = engineType
			engine, err := fetch.New(cfg, g.UserAgent, make(chan struct{}, 1))
			if err != nil {
				return err
			}
			defer engine.Close()

			resp := engine.Get(cmd.Context(), url, fetch.Opts{})
			if !resp.OK() {
				return fmt.Errorf("fetch failed: status=%d error_kind=%s", resp.Status, resp.ErrorKind)
			}
			if err := os.WriteFile(out, []byte(resp.Body), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to %s\n", len(resp.Body), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "URL to fetch")
	cmd.Flags().StringVar(&out, "out", "", "output path")
	cmd.Flags().StringVar(&engineType, "engine", config.EngineHTTP, "engine to use (http|browser)")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(pipeline.Version)
		},
	}
}

// printSummary renders the per-source outcome table at the end of a run.
func printSummary(rep report.Report) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Source", "Status", "Pages", "Links", "Valid", "Dropped", "Errors"})
	table.SetBorder(false)
	for _, s := range rep.Sources {
		table.Append([]string{
			s.SourceID,
			s.Status,
			strconv.Itoa(s.Counts["pages_succeeded"]),
			strconv.Itoa(s.Counts["links_found"]),
			strconv.Itoa(s.Counts["items_valid"]),
			strconv.Itoa(s.Counts["items_dropped"]),
			strconv.Itoa(s.Counts["errors"]),
		})
	}
	table.Render()
	fmt.Printf("run %s: %s\n", rep.RunID, rep.Status)
}
