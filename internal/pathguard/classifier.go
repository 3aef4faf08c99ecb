// Package pathguard classifies file paths against a fixed set of denial
// patterns and per-operation allow-lists. The bias is toward over-blocking:
// some denial patterns match anywhere in a path on purpose, because a false
// denial only costs a confirmation prompt while a false allow leaks data.
package pathguard

import (
	"regexp"
	"strings"

	"agentgate/internal/domain"
	"agentgate/internal/rules"
)

// Result is the outcome of classifying one path.
type Result struct {
	Verdict domain.Verdict
	Path    string // normalized path the verdict applies to
	Reason  string
	Rule    string // denial pattern name or allow-list entry that matched
}

// denialRule pairs a named pattern with its compiled form. Order matters:
// the first match wins and becomes the recorded reason.
type denialRule struct {
	name     string
	re       *regexp.Regexp
	anchored bool // prefix-anchored rules (absolute/home) that external grants bypass
}

var denialRules = []denialRule{
	{name: "absolute path", re: regexp.MustCompile(`^/`), anchored: true},
	{name: "home-relative path", re: regexp.MustCompile(`^~`), anchored: true},
	{name: "path traversal", re: regexp.MustCompile(`\.\.`)},
	{name: "environment file", re: regexp.MustCompile(`(^|/)\.env`)},
	{name: "credential file", re: regexp.MustCompile(`credentials`)},
	{name: "secret file", re: regexp.MustCompile(`secret`)},
	{name: "ssh directory", re: regexp.MustCompile(`\.ssh(/|$)`)},
	{name: "aws directory", re: regexp.MustCompile(`\.aws(/|$)`)},
	{name: "gpg directory", re: regexp.MustCompile(`\.gnupg(/|$)`)},
	{name: "npm credentials", re: regexp.MustCompile(`(^|/)\.npmrc`)},
	{name: "pypi credentials", re: regexp.MustCompile(`(^|/)\.pypirc`)},
	{name: "netrc credentials", re: regexp.MustCompile(`(^|/)\.netrc`)},
	{name: "key material", re: regexp.MustCompile(`\.(pem|key|p12|pfx)$`)},
}

// readOnlyExtraDirs and readOnlyExtraFiles widen the read allow-lists
// relative to write/edit; writes stay scoped to the configured set.
var (
	readOnlyExtraDirs  = []string{"logs", "docs"}
	readOnlyExtraFiles = []string{"README.md", "AGENTS.md"}
)

// Classifier decides whether a file operation on a path is allowed, denied,
// or needs human confirmation.
type Classifier struct {
	projectRoot  string
	restrictions rules.DirectoryRestrictions
}

// New creates a classifier. projectRoot, when non-empty, is stripped from
// incoming paths so both absolute-in-project and relative forms classify
// identically.
func New(projectRoot string, restrictions rules.DirectoryRestrictions) *Classifier {
	return &Classifier{projectRoot: projectRoot, restrictions: restrictions}
}

// Classify runs the fixed decision pipeline; the first decisive step wins.
func (c *Classifier) Classify(rawPath string, op domain.ActionCategory) Result {
	path := c.normalize(rawPath)

	// Empty input is never ambiguous.
	if path == "" {
		return Result{Verdict: domain.VerdictDeny, Path: path, Reason: "empty path", Rule: "empty path"}
	}

	// External access grants only exempt the prefix-anchored denial rules;
	// traversal and credential patterns stay in force, so a granted prefix
	// cannot be escaped with ".." segments.
	if c.restrictions.Enabled {
		for _, prefix := range c.restrictions.ExternalAccess.AllowedPatterns {
			if prefix != "" && strings.HasPrefix(path, prefix) {
				if r, ok := matchDenial(path, true); ok {
					return Result{Verdict: domain.VerdictDeny, Path: path, Reason: "denial pattern: " + r.name, Rule: r.name}
				}
				return Result{Verdict: domain.VerdictAllow, Path: path, Reason: "external access grant: " + prefix, Rule: prefix}
			}
		}
	}

	// Denial patterns run unconditionally, restrictions enabled or not.
	if r, ok := matchDenial(path, false); ok {
		return Result{Verdict: domain.VerdictDeny, Path: path, Reason: "denial pattern: " + r.name, Rule: r.name}
	}

	// Defense in depth: anything still absolute is outside the project.
	if strings.HasPrefix(path, "/") {
		return Result{Verdict: domain.VerdictDeny, Path: path, Reason: "path outside project root", Rule: "absolute path"}
	}

	if !c.restrictions.Enabled {
		return Result{Verdict: domain.VerdictConfirm, Path: path, Reason: "directory restrictions disabled"}
	}

	// Root-level file: check the per-operation filename allow-list.
	if !strings.Contains(path, "/") {
		for _, f := range c.allowedFiles(op) {
			if path == f {
				return Result{Verdict: domain.VerdictAllow, Path: path, Reason: "allowed root file: " + f, Rule: f}
			}
		}
		return Result{Verdict: domain.VerdictConfirm, Path: path, Reason: "root file not in allow-list"}
	}

	// Otherwise classify by the first path segment.
	first := path[:strings.Index(path, "/")]
	for _, d := range c.allowedDirs(op) {
		if first == d {
			return Result{Verdict: domain.VerdictAllow, Path: path, Reason: "allowed directory: " + d, Rule: d + "/"}
		}
	}
	return Result{Verdict: domain.VerdictConfirm, Path: path, Reason: "directory not in allow-list: " + first}
}

// normalize strips superficial prefixes only. It deliberately does not
// resolve ".." segments; collapsing them here would mask traversal from the
// denial patterns.
func (c *Classifier) normalize(rawPath string) string {
	path := strings.TrimSpace(rawPath)
	if c.projectRoot != "" {
		root := strings.TrimSuffix(c.projectRoot, "/")
		if path == root {
			return ""
		}
		path = strings.TrimPrefix(path, root+"/")
	}
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	return path
}

func matchDenial(path string, skipAnchored bool) (denialRule, bool) {
	for _, r := range denialRules {
		if skipAnchored && r.anchored {
			continue
		}
		if r.re.MatchString(path) {
			return r, true
		}
	}
	return denialRule{}, false
}

func (c *Classifier) allowedDirs(op domain.ActionCategory) []string {
	dirs := append([]string(nil), c.restrictions.AllowedDirectories...)
	if op == domain.CategoryRead {
		dirs = append(dirs, readOnlyExtraDirs...)
	}
	return dirs
}

func (c *Classifier) allowedFiles(op domain.ActionCategory) []string {
	files := append([]string(nil), c.restrictions.AllowedFiles...)
	if op == domain.CategoryRead {
		files = append(files, readOnlyExtraFiles...)
	}
	return files
}
