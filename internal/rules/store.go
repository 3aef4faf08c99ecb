package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"agentgate/internal/domain"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigMissing is returned by Load when no rule document exists yet.
	ErrConfigMissing = errors.New("rule document not found")

	// ErrPersistence is returned when the document cannot be written. The
	// previous on-disk document is left untouched.
	ErrPersistence = errors.New("cannot persist rule document")
)

// Document is the on-disk schema of the rule store.
type Document struct {
	Permissions           Permissions            `yaml:"permissions"`
	DirectoryRestrictions *DirectoryRestrictions `yaml:"directoryRestrictions,omitempty"`
}

// Permissions holds the flat allow/deny pattern lists. The category of each
// pattern is carried by its own prefix syntax (Bash/Read/Write/Edit).
type Permissions struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// DirectoryRestrictions scopes file operations to an allow-listed set of
// directories and root filenames. When disabled the path classifier skips
// the allow-lists entirely and falls through to confirmation.
type DirectoryRestrictions struct {
	Enabled            bool           `yaml:"enabled"`
	AllowedDirectories []string       `yaml:"allowedDirectories"`
	AllowedFiles       []string       `yaml:"allowedFiles"`
	ExternalAccess     ExternalAccess `yaml:"externalAccess"`
}

// ExternalAccess lists absolute-path prefixes granted as exceptions to the
// absolute-path denial rule.
type ExternalAccess struct {
	AllowedPatterns []string `yaml:"allowedPatterns"`
}

// ruleSet is one category's ordered allow and deny lists.
type ruleSet struct {
	allow []Pattern
	deny  []Pattern
}

// Store is the in-memory rule store backed by a YAML document. Mutations are
// read-entire / modify / write-entire; Save replaces the file atomically.
type Store struct {
	path   string
	doc    Document
	lists  map[domain.ActionCategory]*ruleSet
	logger *slog.Logger
}

// Load reads and parses the rule document at path. A missing file yields
// ErrConfigMissing so the caller can decide to fall back to defaults.
func Load(path string, logger *slog.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read rule document %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse rule document %s: %w", path, err)
	}
	return fromDocument(path, doc, logger)
}

// LoadOrInit loads the document at path, creating and persisting the
// hard-coded default document when none exists.
func LoadOrInit(path string, logger *slog.Logger) (*Store, error) {
	s, err := Load(path, logger)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrConfigMissing) {
		return nil, err
	}

	logger.Info("no rule document found, writing defaults", "path", path)
	s, err = fromDocument(path, DefaultDocument(), logger)
	if err != nil {
		return nil, err
	}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// fromDocument parses every pattern in the document. A malformed pattern is
// an error, not a warning: silently dropping a deny rule would fail open.
func fromDocument(path string, doc Document, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		doc:    doc,
		lists:  make(map[domain.ActionCategory]*ruleSet),
		logger: logger,
	}
	for _, raw := range doc.Permissions.Allow {
		p, err := ParsePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("allow list: %w", err)
		}
		s.set(p.Category).allow = append(s.set(p.Category).allow, p)
	}
	for _, raw := range doc.Permissions.Deny {
		p, err := ParsePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("deny list: %w", err)
		}
		s.set(p.Category).deny = append(s.set(p.Category).deny, p)
	}
	return s, nil
}

func (s *Store) set(c domain.ActionCategory) *ruleSet {
	rs, ok := s.lists[c]
	if !ok {
		rs = &ruleSet{}
		s.lists[c] = rs
	}
	return rs
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Restrictions returns the directory-restriction configuration. A document
// without the section behaves as restrictions disabled.
func (s *Store) Restrictions() DirectoryRestrictions {
	if s.doc.DirectoryRestrictions == nil {
		return DirectoryRestrictions{}
	}
	return *s.doc.DirectoryRestrictions
}

// MatchDeny returns the first deny pattern matching the action, if any.
func (s *Store) MatchDeny(category domain.ActionCategory, action string) (Pattern, bool) {
	return match(s.set(category).deny, action)
}

// MatchAllow returns the first allow pattern matching the action, if any.
func (s *Store) MatchAllow(category domain.ActionCategory, action string) (Pattern, bool) {
	return match(s.set(category).allow, action)
}

func match(patterns []Pattern, action string) (Pattern, bool) {
	for _, p := range patterns {
		if p.Matches(action) {
			return p, true
		}
	}
	return Pattern{}, false
}

// Add inserts a pattern into the given polarity list. Adding a pattern that
// is already present is a no-op, not an error.
func (s *Store) Add(polarity domain.Polarity, p Pattern) {
	rs := s.set(p.Category)
	list := &rs.allow
	if polarity == domain.PolarityDeny {
		list = &rs.deny
	}
	for _, existing := range *list {
		if existing == p {
			return
		}
	}
	*list = append(*list, p)
	s.rebuildDocument()
}

// Remove deletes a pattern from the given polarity list; absent patterns
// are a no-op.
func (s *Store) Remove(polarity domain.Polarity, p Pattern) {
	rs := s.set(p.Category)
	list := &rs.allow
	if polarity == domain.PolarityDeny {
		list = &rs.deny
	}
	for i, existing := range *list {
		if existing == p {
			*list = append((*list)[:i], (*list)[i+1:]...)
			break
		}
	}
	s.rebuildDocument()
}

// Reset replaces the in-memory store with the hard-coded default document.
// Call Save to persist it.
func (s *Store) Reset() error {
	fresh, err := fromDocument(s.path, DefaultDocument(), s.logger)
	if err != nil {
		return err
	}
	s.doc = fresh.doc
	s.lists = fresh.lists
	return nil
}

// Rules returns the document-form pattern strings for one polarity, in
// document order across all categories.
func (s *Store) Rules(polarity domain.Polarity) []string {
	if polarity == domain.PolarityDeny {
		return append([]string(nil), s.doc.Permissions.Deny...)
	}
	return append([]string(nil), s.doc.Permissions.Allow...)
}

// rebuildDocument re-serializes the parsed lists back into the flat
// document form, preserving category grouping order.
func (s *Store) rebuildDocument() {
	var allow, deny []string
	for _, c := range []domain.ActionCategory{
		domain.CategoryCommand, domain.CategoryRead, domain.CategoryWrite, domain.CategoryEdit,
	} {
		rs, ok := s.lists[c]
		if !ok {
			continue
		}
		for _, p := range rs.allow {
			allow = append(allow, p.String())
		}
		for _, p := range rs.deny {
			deny = append(deny, p.String())
		}
	}
	s.doc.Permissions.Allow = allow
	s.doc.Permissions.Deny = deny
}

// Save writes the whole document atomically: marshal, write to a temp file
// in the same directory, then rename over the previous document. Any
// failure leaves the prior document intact.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: cannot create directory %s: %v", ErrPersistence, dir, err)
	}

	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("%w: cannot marshal: %v", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// DefaultRulesPath returns the default rule document location
// (~/.agentgate/rules.yaml).
func DefaultRulesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".agentgate", "rules.yaml")
	}
	return filepath.Join(home, ".agentgate", "rules.yaml")
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
