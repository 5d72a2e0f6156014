// Package dedupe suppresses repeated items within a run and, with a
// persistent store configured, across runs. Items are keyed twice: by
// normalized URL and by a content fingerprint.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/crawlkit/crawlkit/config"
	"github.com/crawlkit/crawlkit/extract"
)

// Store is the dedupe state. A source uses exactly one store: the memory
// store lasts for the run only; sqlite and redis keep their keys across runs.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, key string) error
	Close() error
}

// New builds the store a source's discovery.dedupe asks for.
func New(cfg config.Dedupe, sourceID string) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "crawlkit_dedupe.db"
		}
		return NewSQLiteStore(path)
	case "redis":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("dedupe store redis requires addr")
		}
		return NewRedisStore(cfg.Addr, sourceID), nil
	default:
		return nil, fmt.Errorf("unknown dedupe store %q", cfg.Store)
	}
}

// URLKey keys an item by its normalized URL.
func URLKey(rawURL string) string {
	return "url:" + extract.NormalizeURL(rawURL)
}

// ContentKey keys an item by a stable hash over the configured content
// fields. Field names are folded into the hash alongside their values, so a
// field flipping between absent and empty changes nothing, while a field
// appearing in the list always does.
func ContentKey(item map[string]any, fields []string, prefixLen int) string {
	if len(fields) == 0 {
		fields = []string{"title", "text"}
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := ""
		if raw, ok := item[f]; ok && raw != nil {
			v = extract.CollapseWS(fmt.Sprint(raw))
		}
		if prefixLen > 0 && len(v) > prefixLen {
			v = v[:prefixLen]
		}
		parts = append(parts, f+"="+v)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return "content:" + hex.EncodeToString(sum[:])
}
