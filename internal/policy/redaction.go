package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// DefaultLogTextLimit bounds transcript and reply text written to logs.
const DefaultLogTextLimit = 160

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range []struct {
		pattern *regexp.Regexp
		mask    string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		// Cards before phones, or long card numbers match the phone pattern.
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.pattern.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogText prepares user speech or model output for a log line: PII is masked,
// whitespace collapsed and the result cut to limit runes.
func LogText(input string, limit int) string {
	out, _ := RedactPII(input)
	out = strings.Join(strings.Fields(out), " ")
	if limit <= 0 || utf8.RuneCountInString(out) <= limit {
		return out
	}
	runes := []rune(out)
	return string(runes[:limit]) + "..."
}
