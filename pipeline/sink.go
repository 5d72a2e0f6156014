package pipeline

import (
	"log/slog"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/extract"
	"github.com/crawlkit/crawlkit/storage"
)

// storageSink writes pipeline artifacts into the run directory. JSONL files
// stream append-only; items_valid is buffered so the configured format
// (jsonl, csv, parquet) can be written in one piece at close.
type storageSink struct {
	layout   storage.Layout
	runID    string
	sourceID string
	format   string

	rawListing *storage.JSONLWriter
	rawDetail  *storage.JSONLWriter
	links      *storage.JSONLWriter
	items      *storage.JSONLWriter
	dropped    *storage.JSONLWriter

	validItems []Item
}

func newStorageSink(layout storage.Layout, runID, sourceID, format string) (*storageSink, error) {
	s := &storageSink{layout: layout, runID: runID, sourceID: sourceID, format: format}

	var err error
	if s.rawListing, err = storage.NewJSONLWriter(layout.RawListingPath(runID, sourceID, 0)); err != nil {
		return nil, err
	}
	if s.rawDetail, err = storage.NewJSONLWriter(layout.RawDetailPath(runID, sourceID, 0)); err != nil {
		return nil, err
	}
	if s.links, err = storage.NewJSONLWriter(layout.LinksPath(runID, sourceID)); err != nil {
		return nil, err
	}
	if s.items, err = storage.NewJSONLWriter(layout.ItemsPath(runID, sourceID, "items", "jsonl")); err != nil {
		return nil, err
	}
	if s.dropped, err = storage.NewJSONLWriter(layout.ItemsPath(runID, sourceID, "items_dropped", "jsonl")); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *storageSink) RawListing(record map[string]any) error { return s.rawListing.Write(record) }
func (s *storageSink) RawDetail(record map[string]any) error  { return s.rawDetail.Write(record) }
func (s *storageSink) Link(link extract.Link) error           { return s.links.Write(link) }
func (s *storageSink) Item(item Item) error                   { return s.items.Write(item) }
func (s *storageSink) DroppedItem(item Item) error            { return s.dropped.Write(item) }

func (s *storageSink) ValidItem(item Item) error {
	s.validItems = append(s.validItems, item)
	return nil
}

// Close flushes the buffered valid items in the configured format and closes
// every stream. Failures are logged; the run report already counted what
// mattered.
func (s *storageSink) Close(logger *slog.Logger) {
	var err error
	switch s.format {
	case config.FormatCSV:
		err = storage.WriteItemsCSV(s.layout.ItemsPath(s.runID, s.sourceID, "items_valid", "csv"), s.validItems)
	case config.FormatParquet:
		err = storage.WriteItemsParquet(s.layout.ItemsPath(s.runID, s.sourceID, "items_valid", "parquet"), s.validItems)
	default:
		err = s.writeValidJSONL()
	}
	if err != nil {
		logger.Error("writing items_valid failed", slog.String("err", err.Error()))
	}

	for _, w := range []*storage.JSONLWriter{s.rawListing, s.rawDetail, s.links, s.items, s.dropped} {
		if cerr := w.Close(); cerr != nil {
			logger.Error("closing artifact writer failed", slog.String("err", cerr.Error()))
		}
	}
}

func (s *storageSink) writeValidJSONL() error {
	w, err := storage.NewJSONLWriter(s.layout.ItemsPath(s.runID, s.sourceID, "items_valid", "jsonl"))
	if err != nil {
		return err
	}
	defer w.Close()
	for _, it := range s.validItems {
		if err := w.Write(it); err != nil {
			return err
		}
	}
	return nil
}
