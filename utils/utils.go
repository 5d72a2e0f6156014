package utils

import (
	"fmt"
)

func ShortenString(s string, l int) string {
	if len(s) > l && l != 0 {
		return fmt.Sprintf("%s...", s[:l])
	}
	return s
}

// SafeName makes s safe to use as a directory name. Anything outside
// [a-zA-Z0-9._-] becomes an underscore.
func SafeName(s string) string {
	if s == "" {
		return "unknown_source"
	}
	out := make([]rune, 0, len(s))
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_', ch == '.':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	if len(out) > 120 {
		out = out[:120]
	}
	return string(out)
}
