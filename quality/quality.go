package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crawlkit/crawlkit/config"
)

// Issue is one failed quality gate. Items with issues are routed to
// items_dropped, never to items_valid.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Gate holds the compiled quality rules of one source.
type Gate struct {
	rules    config.Quality
	patterns []*regexp.Regexp
}

func NewGate(rules config.Quality) (*Gate, error) {
	g := &Gate{rules: rules}
	for _, p := range rules.BlockPatterns {
		rx, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("block pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, rx)
	}
	return g, nil
}

// Check evaluates one fetched item. body is the raw response body (block
// patterns run against it), text is the extracted item text (length and
// boilerplate gates run against it).
func (g *Gate) Check(body, text string) []Issue {
	var issues []Issue

	for _, rx := range g.patterns {
		if rx.MatchString(body) {
			issues = append(issues, Issue{Code: "blocked", Message: fmt.Sprintf("matched block pattern %q", rx.String())})
			break
		}
	}

	if g.rules.MinTextLen > 0 && len(text) < g.rules.MinTextLen {
		issues = append(issues, Issue{Code: "short_text", Message: fmt.Sprintf("text length %d < min_text_len %d", len(text), g.rules.MinTextLen)})
	}

	if g.rules.MaxBoilerplateRatio != nil {
		if ratio := BoilerplateRatio(text); ratio > *g.rules.MaxBoilerplateRatio {
			issues = append(issues, Issue{Code: "boilerplate", Message: fmt.Sprintf("boilerplate ratio %.3f > %.3f", ratio, *g.rules.MaxBoilerplateRatio)})
		}
	}

	return issues
}

// IsBlocked reports whether issues contain the block gate, which the
// pipeline counts separately from other quality drops.
func IsBlocked(issues []Issue) bool {
	for _, i := range issues {
		if i.Code == "blocked" {
			return true
		}
	}
	return false
}

var tokenSplit = regexp.MustCompile(`\W+`)

// BoilerplateRatio estimates how navigational/repetitive a text is, in
// [0, 1]. The blend of lexical variety and repeated-token share flags menu
// and footer dumps without needing a rendered DOM.
func BoilerplateRatio(text string) float64 {
	if text == "" {
		return 1.0
	}
	var tokens []string
	for _, t := range tokenSplit.Split(strings.ToLower(text), -1) {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) < 30 {
		// short texts are handled by the length gate
		return 0.0
	}

	counts := map[string]int{}
	for _, t := range tokens {
		counts[t]++
	}
	variety := float64(len(counts)) / float64(len(tokens))

	repeats := 0
	for _, c := range counts {
		if c >= 5 {
			repeats++
		}
	}
	repeatShare := float64(repeats) / float64(len(counts))

	score := (1.0-variety)*0.65 + repeatShare*0.35
	return min(1.0, max(0.0, score))
}
