package rules

import (
	"fmt"
	"strings"

	"agentgate/internal/domain"
)

// ErrInvalidPattern is returned when a rule pattern is empty or does not
// follow the Category(prefix[*]) grammar.
var ErrInvalidPattern = fmt.Errorf("invalid rule pattern")

// Pattern is one parsed rule pattern. The on-disk form is
// Category(prefix) or Category(prefix*); parsing happens once at load time
// so matching is a plain prefix comparison.
type Pattern struct {
	Category domain.ActionCategory
	Prefix   string
	Wildcard bool
}

// categoryTags maps the document syntax to action categories.
var categoryTags = map[string]domain.ActionCategory{
	"Bash":  domain.CategoryCommand,
	"Read":  domain.CategoryRead,
	"Write": domain.CategoryWrite,
	"Edit":  domain.CategoryEdit,
}

// tagForCategory is the inverse of categoryTags, used when serializing.
func tagForCategory(c domain.ActionCategory) string {
	for tag, cat := range categoryTags {
		if cat == c {
			return tag
		}
	}
	return ""
}

// ParsePattern parses a document pattern string such as "Bash(git status)"
// or "Write(queue/*)".
func ParsePattern(raw string) (Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	open := strings.Index(raw, "(")
	if open <= 0 || !strings.HasSuffix(raw, ")") {
		return Pattern{}, fmt.Errorf("%w: %q must look like Category(pattern)", ErrInvalidPattern, raw)
	}

	cat, ok := categoryTags[raw[:open]]
	if !ok {
		return Pattern{}, fmt.Errorf("%w: unknown category %q", ErrInvalidPattern, raw[:open])
	}

	inner := raw[open+1 : len(raw)-1]
	if inner == "" {
		return Pattern{}, fmt.Errorf("%w: %q has an empty body", ErrInvalidPattern, raw)
	}

	p := Pattern{Category: cat, Prefix: inner}
	// Only a trailing star is a wildcard; the prefix itself is literal.
	if strings.HasSuffix(inner, "*") {
		p.Wildcard = true
		p.Prefix = inner[:len(inner)-1]
	}
	if strings.Contains(p.Prefix, "*") {
		return Pattern{}, fmt.Errorf("%w: %q may only use a trailing wildcard", ErrInvalidPattern, raw)
	}
	return p, nil
}

// NewLiteral builds a pattern matching exactly one action string. Used when
// a human "always" choice promotes a literal action into a rule.
func NewLiteral(category domain.ActionCategory, action string) (Pattern, error) {
	if strings.TrimSpace(action) == "" {
		return Pattern{}, fmt.Errorf("%w: empty action", ErrInvalidPattern)
	}
	if tagForCategory(category) == "" {
		return Pattern{}, fmt.Errorf("%w: unknown category %q", ErrInvalidPattern, category)
	}
	return Pattern{Category: category, Prefix: action}, nil
}

// Matches reports whether the action string matches this pattern. Matching
// is literal and case-sensitive: no shell-word splitting is performed, so
// "git  status" does not match Bash(git status).
func (p Pattern) Matches(action string) bool {
	if p.Wildcard {
		return strings.HasPrefix(action, p.Prefix)
	}
	return action == p.Prefix
}

// String returns the document form of the pattern.
func (p Pattern) String() string {
	inner := p.Prefix
	if p.Wildcard {
		inner += "*"
	}
	return tagForCategory(p.Category) + "(" + inner + ")"
}
