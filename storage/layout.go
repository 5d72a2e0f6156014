// Package storage owns the on-disk run layout and the artifact writers.
// The layout is a compatibility contract: field names and file locations
// may gain additions, never removals or renames.
package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crawlkit/crawlkit/utils"
)

// NewRunID returns "<timestamp>_<short-id>", which names the run directory.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// Layout computes every artifact path under one results root.
type Layout struct {
	Root string
}

func (l Layout) RunDir(runID string) string {
	return filepath.Join(l.Root, "run_"+runID)
}

func (l Layout) RunLogPath(runID string) string {
	return filepath.Join(l.RunDir(runID), "run.log")
}

func (l Layout) RunMetaPath(runID string) string {
	return filepath.Join(l.RunDir(runID), "run_meta.json")
}

func (l Layout) RunReportPath(runID string) string {
	return filepath.Join(l.RunDir(runID), "run_report.json")
}

func (l Layout) SourceDir(runID, sourceID string) string {
	return filepath.Join(l.RunDir(runID), "sources", utils.SafeName(sourceID))
}

func (l Layout) SourceLogPath(runID, sourceID string) string {
	return filepath.Join(l.SourceDir(runID, sourceID), "source.log")
}

func (l Layout) RawListingPath(runID, sourceID string, part int) string {
	return filepath.Join(l.SourceDir(runID, sourceID), "raw_pages", "listing", fmt.Sprintf("part-%05d.jsonl", part))
}

func (l Layout) RawDetailPath(runID, sourceID string, part int) string {
	return filepath.Join(l.SourceDir(runID, sourceID), "raw_pages", "detail", fmt.Sprintf("part-%05d.jsonl", part))
}

func (l Layout) LinksPath(runID, sourceID string) string {
	return filepath.Join(l.SourceDir(runID, sourceID), "links", "extracted_links.jsonl")
}

// ItemsPath returns items/<name>.<ext>, e.g. ("items_valid", "jsonl").
func (l Layout) ItemsPath(runID, sourceID, name, ext string) string {
	return filepath.Join(l.SourceDir(runID, sourceID), "items", name+"."+ext)
}
