package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// JSONLWriter appends one JSON record per line, UTF-8, newline-terminated.
// Single writer per file; the pipeline never shares one across workers.
type JSONLWriter struct {
	f   *os.File
	enc *json.Encoder
}

func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	// keep raw HTML readable instead of < soup
	enc.SetEscapeHTML(false)
	return &JSONLWriter{f: f, enc: enc}, nil
}

func (w *JSONLWriter) Write(record any) error {
	return w.enc.Encode(record)
}

func (w *JSONLWriter) Close() error {
	return w.f.Close()
}

// WriteJSON writes one pretty-printed JSON document, creating parents.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// WriteItemsCSV writes items with a stable header: the well-known columns
// first, then everything else alphabetically. Non-scalar values are embedded
// as JSON.
func WriteItemsCSV(path string, items []map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := csvHeader(items)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, it := range items {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = csvCell(it[col])
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

var preferredColumns = []string{"url", "title", "text", "fetched_at", "status"}

func csvHeader(items []map[string]any) []string {
	seen := map[string]bool{}
	for _, it := range items {
		for k := range it {
			seen[k] = true
		}
	}
	var header []string
	for _, c := range preferredColumns {
		if seen[c] {
			header = append(header, c)
			delete(seen, c)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(header, rest...)
}

func csvCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64, int, int64, bool:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
