package pipeline

import (
	"fmt"
	"net/url"

	"github.com/crawlkit/crawlkit/config"
)

// ValidateItem checks required fields and length constraints. The returned
// messages go verbatim into the item's _validation_errors.
func ValidateItem(item Item, rules config.Validation) []string {
	var errs []string

	rawURL, _ := item["url"].(string)
	if rawURL == "" {
		errs = append(errs, "missing url")
	} else if u, err := url.Parse(rawURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("url is not valid: %s", rawURL))
	}

	title, _ := item["title"].(string)
	if rules.RequireTitle && title == "" {
		errs = append(errs, "missing title")
	}

	text, _ := item["text"].(string)
	if rules.RequireText && text == "" {
		errs = append(errs, "missing text")
	}
	if rules.MinTextLen > 0 && len(text) < rules.MinTextLen {
		errs = append(errs, fmt.Sprintf("text length %d < min_text_len %d", len(text), rules.MinTextLen))
	}

	return errs
}
