// Package sanitize neutralizes command-injection payloads in agent text
// before it is relayed into a shared tmux session. Sanitization never fails;
// when in doubt it strips more. Both profiles are idempotent so callers can
// re-validate output before relay without mangling it further.
package sanitize

import (
	"strings"
	"unicode"
)

// Profile selects the strictness of sanitization.
type Profile string

const (
	// Standard neutralizes quoting and substitution syntax while keeping
	// the rest of the text intact, including non-ASCII content.
	Standard Profile = "standard"

	// Strict additionally deletes pipe, semicolon, ampersand, and
	// redirection characters outright.
	Strict Profile = "strict"
)

// dangerous lists the substrings the detector flags. All matches are
// reported, not just the first.
var dangerous = []string{"`", "$(", "${", "||", "&&", "|", ";", ">", "<"}

// Detect reports whether text contains shell-injection constructs and which
// ones triggered. It never mutates its input; callers decide whether to
// warn, sanitize, or refuse.
func Detect(text string) (bool, []string) {
	var hits []string
	for _, pattern := range dangerous {
		if strings.Contains(text, pattern) {
			// "||" implies "|"; report the longest form only once.
			if pattern == "|" && contains(hits, "||") {
				continue
			}
			hits = append(hits, pattern)
		}
	}
	return len(hits) > 0, hits
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Sanitize returns text with injection syntax neutralized according to the
// profile. It never returns an error; the worst case is an aggressively
// stripped string.
//
// Standard escapes embedded double quotes (so the result stays one literal
// token when the caller later quotes it), deletes backticks, deletes the
// dollar of "$(" and "${" substitutions, and strips control characters
// except newline, carriage return, and tab. Strict additionally deletes
// '|', ';', '&', '>' and '<'.
func Sanitize(text string, profile Profile) string {
	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch r {
		case '$':
			// Drop every dollar in a run that ends at a substitution
			// bracket. Removing instead of escaping keeps the pass
			// idempotent: the output contains no "$(" or "${" left to
			// re-trigger on, even for inputs like "$$(".
			// The lookahead must skip runes this pass deletes, otherwise
			// deleting the rune between "$" and "(" splices a live
			// substitution into the output (e.g. "$`(").
			j := i
			for j < len(runes) && (runes[j] == '$' || deletes(runes[j], profile)) {
				j++
			}
			if j < len(runes) && (runes[j] == '(' || runes[j] == '{') {
				continue
			}

		case '"':
			// Escape unless the output already ends with a backslash;
			// checking emitted output rather than input keeps repeated
			// passes stable.
			out := b.String()
			if !strings.HasSuffix(out, `\`) {
				b.WriteString(`\"`)
				continue
			}
		}

		if deletes(r, profile) {
			continue
		}

		b.WriteRune(r)
	}
	return b.String()
}

// deletes reports whether Sanitize removes the rune outright under the
// profile: backticks, non-printable control characters (newline, carriage
// return, and tab survive for message structure), and under Strict the
// pipe, separator, and redirection characters.
func deletes(r rune, profile Profile) bool {
	if r == '`' {
		return true
	}
	if profile == Strict {
		switch r {
		case '|', ';', '&', '>', '<':
			return true
		}
	}
	return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
}
