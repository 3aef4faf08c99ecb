package rules

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"agentgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	s, err := LoadOrInit(path, testLogger())
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	return s
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("err = %v, want ErrConfigMissing", err)
	}
}

func TestLoadOrInit_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	s, err := LoadOrInit(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not persisted: %v", err)
	}
	if len(s.Rules(domain.PolarityAllow)) == 0 || len(s.Rules(domain.PolarityDeny)) == 0 {
		t.Fatal("default document must carry allow and deny rules")
	}
	if !s.Restrictions().Enabled {
		t.Fatal("default directory restrictions should be enabled")
	}
}

func TestLoad_MalformedPatternFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "permissions:\n  allow:\n    - NotACategory(ls)\n  deny: []\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, testLogger()); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("err = %v, want ErrInvalidPattern", err)
	}
}

func TestStore_AddIdempotent(t *testing.T) {
	s := tempStore(t)
	p, _ := ParsePattern("Bash(go test*)")

	before := len(s.Rules(domain.PolarityAllow))
	s.Add(domain.PolarityAllow, p)
	s.Add(domain.PolarityAllow, p)

	count := 0
	for _, r := range s.Rules(domain.PolarityAllow) {
		if r == "Bash(go test*)" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("pattern appears %d times, want exactly once", count)
	}
	if got := len(s.Rules(domain.PolarityAllow)); got != before+1 {
		t.Fatalf("allow list grew to %d, want %d", got, before+1)
	}
}

func TestStore_RemoveAbsentIsNoop(t *testing.T) {
	s := tempStore(t)
	p, _ := ParsePattern("Bash(never added)")
	before := s.Rules(domain.PolarityDeny)
	s.Remove(domain.PolarityDeny, p)
	if !reflect.DeepEqual(before, s.Rules(domain.PolarityDeny)) {
		t.Fatal("removing an absent pattern must not change the list")
	}
}

func TestStore_AddRemoveRoundTrip(t *testing.T) {
	s := tempStore(t)
	p, _ := ParsePattern("Bash(terraform apply*)")

	s.Add(domain.PolarityDeny, p)
	if _, ok := s.MatchDeny(domain.CategoryCommand, "terraform apply -auto-approve"); !ok {
		t.Fatal("added deny rule should match")
	}

	s.Remove(domain.PolarityDeny, p)
	if _, ok := s.MatchDeny(domain.CategoryCommand, "terraform apply -auto-approve"); ok {
		t.Fatal("removed deny rule must no longer match")
	}
}

func TestStore_SavePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	s, err := LoadOrInit(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	p, _ := ParsePattern("Bash(make lint)")
	s.Add(domain.PolarityAllow, p)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.MatchAllow(domain.CategoryCommand, "make lint"); !ok {
		t.Fatal("saved rule missing after reload")
	}
}

func TestStore_ResetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	s, err := LoadOrInit(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Drift away from the defaults, then reset.
	p, _ := ParsePattern("Bash(drifted rule*)")
	s.Add(domain.PolarityAllow, p)
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	def := DefaultDocument()
	if !reflect.DeepEqual(reloaded.Rules(domain.PolarityAllow), def.Permissions.Allow) {
		t.Fatalf("allow list after reset+reload = %v, want defaults", reloaded.Rules(domain.PolarityAllow))
	}
	if !reflect.DeepEqual(reloaded.Rules(domain.PolarityDeny), def.Permissions.Deny) {
		t.Fatalf("deny list after reset+reload = %v, want defaults", reloaded.Rules(domain.PolarityDeny))
	}
	if !reflect.DeepEqual(reloaded.Restrictions(), *def.DirectoryRestrictions) {
		t.Fatalf("restrictions after reset+reload = %+v, want defaults", reloaded.Restrictions())
	}
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadOrInit(filepath.Join(dir, "rules.yaml"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "rules.yaml" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("directory contains %v, want only rules.yaml", names)
	}
}

func TestStore_DenyPrecedenceData(t *testing.T) {
	// The store itself keeps both matches available; precedence is the
	// orchestrator's job. Verify both sides report the overlap.
	s := tempStore(t)
	allow, _ := ParsePattern("Bash(git *)")
	deny, _ := ParsePattern("Bash(git push*)")
	s.Add(domain.PolarityAllow, allow)
	s.Add(domain.PolarityDeny, deny)

	if _, ok := s.MatchAllow(domain.CategoryCommand, "git push origin main"); !ok {
		t.Fatal("allow side should match")
	}
	if _, ok := s.MatchDeny(domain.CategoryCommand, "git push origin main"); !ok {
		t.Fatal("deny side should match")
	}
}

func TestStore_CategoryIsolation(t *testing.T) {
	s := tempStore(t)
	p, _ := ParsePattern("Write(scratch/*)")
	s.Add(domain.PolarityAllow, p)

	if _, ok := s.MatchAllow(domain.CategoryRead, "scratch/notes.md"); ok {
		t.Fatal("a Write rule must not match read actions")
	}
	if _, ok := s.MatchAllow(domain.CategoryWrite, "scratch/notes.md"); !ok {
		t.Fatal("the Write rule should match write actions")
	}
}
