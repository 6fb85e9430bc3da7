// Package policy scrubs personal data from audience commentary and user
// messages before they reach the language model or the transcript store.
package policy

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	redditPattern = regexp.MustCompile(`(^|[^A-Za-z0-9_/])/?u/[A-Za-z0-9_\-]{3,20}\b`)
	handlePattern = regexp.MustCompile(`(^|\s)@[A-Za-z0-9_]{2,30}\b`)
)

// RedactPII masks emails, card numbers, phone numbers and user handles.
// Years and short numbers ("1999", "7/10") are left alone.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	replace := func(re *regexp.Regexp, repl string) {
		next := re.ReplaceAllString(out, repl)
		changed = changed || next != out
		out = next
	}

	replace(emailPattern, "[REDACTED_EMAIL]")
	// Cards before phones, or long card numbers read as phone numbers.
	replace(cardPattern, "[REDACTED_CARD]")
	replace(phonePattern, "[REDACTED_PHONE]")
	replace(redditPattern, "${1}[REDACTED_USER]")
	replace(handlePattern, "${1}[REDACTED_USER]")

	return out, changed
}

// RedactAll redacts each text and reports how many were changed.
func RedactAll(texts []string) ([]string, int) {
	out := make([]string, len(texts))
	changed := 0
	for i, t := range texts {
		var c bool
		out[i], c = RedactPII(t)
		if c {
			changed++
		}
	}
	return out, changed
}
