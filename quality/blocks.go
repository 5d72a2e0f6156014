// Package quality classifies block pages and applies the per-source QA
// gates. Detection only: a recognized block page is surfaced and counted,
// never worked around.
package quality

import (
	"regexp"
	"strings"
)

// BlockSignal classifies a response as some flavor of access denial.
type BlockSignal string

const (
	SignalNone          BlockSignal = "none"
	SignalLikelyBlocked BlockSignal = "likely_blocked"
	SignalCaptcha       BlockSignal = "captcha_present"
	SignalLoginRequired BlockSignal = "login_required"
	SignalUnknown       BlockSignal = "unknown"
)

// Known body shapes, checked in order of specificity. Captcha beats login
// beats generic blocking when several match.
var (
	captchaPatterns = compileAll(
		`\bcaptcha\b`,
		`\bverify you are human\b`,
		`\bcloudflare\b.*\bchecking your browser\b`,
	)
	loginPatterns = compileAll(
		`\blogin required\b`,
		`\bplease (log|sign) ?in\b`,
		`\bsession has expired\b`,
	)
	blockedPatterns = compileAll(
		`\baccess denied\b`,
		`\bforbidden\b`,
		`\bunusual traffic\b`,
		`\brequest blocked\b`,
		`\benable javascript\b`,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// ClassifyBlock inspects status and body and returns the strongest matching
// signal. It runs on every engine response.
func ClassifyBlock(status int, body string) BlockSignal {
	lower := strings.ToLower(body)
	if matchAny(captchaPatterns, lower) {
		return SignalCaptcha
	}
	if matchAny(loginPatterns, lower) {
		return SignalLoginRequired
	}
	if matchAny(blockedPatterns, lower) {
		return SignalLikelyBlocked
	}
	switch status {
	case 401, 407:
		return SignalLoginRequired
	case 403:
		return SignalLikelyBlocked
	case 429:
		return SignalLikelyBlocked
	}
	return SignalNone
}

func matchAny(rxs []*regexp.Regexp, s string) bool {
	for _, rx := range rxs {
		if rx.MatchString(s) {
			return true
		}
	}
	return false
}
