package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// itemRow is the flat parquet schema for valid items. Only these columns and
// the item's meta map (as JSON in meta_json) are written; any other item keys
// are not.
type itemRow struct {
	URL       string `parquet:"url"`
	Title     string `parquet:"title"`
	Text      string `parquet:"text"`
	FetchedAt string `parquet:"fetched_at"`
	Status    int64  `parquet:"status"`
	Meta      string `parquet:"meta_json"`
}

// WriteItemsParquet writes items_valid in parquet. Only valid items ever take
// this path; dropped items stay JSONL so their issue lists survive verbatim.
func WriteItemsParquet(path string, items []map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := parquet.NewGenericWriter[itemRow](f)
	rows := make([]itemRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, itemRowOf(it))
	}
	if _, err := w.Write(rows); err != nil {
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	return w.Close()
}

func itemRowOf(it map[string]any) itemRow {
	row := itemRow{
		URL:       str(it["url"]),
		Title:     str(it["title"]),
		Text:      str(it["text"]),
		FetchedAt: str(it["fetched_at"]),
	}
	switch s := it["status"].(type) {
	case int:
		row.Status = int64(s)
	case int64:
		row.Status = s
	case float64:
		row.Status = int64(s)
	}
	if meta, ok := it["meta"]; ok && meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			row.Meta = string(b)
		}
	}
	return row
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
