package guard

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"agentgate/internal/domain"
	"agentgate/internal/rules"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEngine(t *testing.T, confirm ConfirmFunc) (*Engine, *rules.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	store, err := rules.LoadOrInit(path, testLogger())
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	return NewEngine(store, "", confirm, nil, testLogger()), store
}

// memAudit records entries in memory for assertions.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) LogAudit(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func TestDecide_AllowedCommand(t *testing.T) {
	e, _ := testEngine(t, nil)
	d, err := e.Decide(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "git status",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictAllow {
		t.Fatalf("verdict = %v (%s), want allow", d.Verdict, d.Reason)
	}
}

func TestDecide_DenyBeatsAllow(t *testing.T) {
	e, store := testEngine(t, nil)
	allow, _ := rules.ParsePattern("Bash(git *)")
	deny, _ := rules.ParsePattern("Bash(git push --force*)")
	store.Add(domain.PolarityAllow, allow)
	store.Add(domain.PolarityDeny, deny)

	d, err := e.Decide(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "git push --force origin main",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictDeny {
		t.Fatalf("verdict = %v, want deny", d.Verdict)
	}
	if d.Rule != "Bash(git push --force*)" {
		t.Fatalf("rule = %q, want the deny pattern", d.Rule)
	}
}

func TestDecide_UnmatchedCommandConfirms(t *testing.T) {
	e, _ := testEngine(t, nil)
	d, err := e.Decide(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "terraform apply",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictConfirm {
		t.Fatalf("verdict = %v, want confirm", d.Verdict)
	}
}

func TestDecide_WhitespaceTrimmed(t *testing.T) {
	e, _ := testEngine(t, nil)
	d, err := e.Decide(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "  git status  ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictAllow {
		t.Fatalf("verdict = %v, want allow", d.Verdict)
	}
}

func TestDecide_PathCategories(t *testing.T) {
	e, _ := testEngine(t, nil)
	tests := []struct {
		category domain.ActionCategory
		action   string
		want     domain.Verdict
	}{
		{domain.CategoryWrite, "queue/tasks/task.yaml", domain.VerdictAllow},
		{domain.CategoryRead, "../outside.txt", domain.VerdictDeny},
		{domain.CategoryEdit, "unlisted/file.go", domain.VerdictConfirm},
		{domain.CategoryWrite, "~/.ssh/authorized_keys", domain.VerdictDeny},
	}
	for _, tt := range tests {
		d, err := e.Decide(context.Background(), domain.ActionDescriptor{Category: tt.category, Action: tt.action})
		if err != nil {
			t.Fatalf("Decide(%v, %q): %v", tt.category, tt.action, err)
		}
		if d.Verdict != tt.want {
			t.Errorf("Decide(%v, %q) = %v, want %v", tt.category, tt.action, d.Verdict, tt.want)
		}
	}
}

func TestDecide_UnknownCategory(t *testing.T) {
	e, _ := testEngine(t, nil)
	_, err := e.Decide(context.Background(), domain.ActionDescriptor{
		Category: domain.ActionCategory("Browse"),
		Action:   "https://example.com",
	})
	if err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestDecide_WritesAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	store, err := rules.LoadOrInit(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	audit := &memAudit{}
	e := NewEngine(store, "", nil, audit, testLogger())

	if _, err := e.Decide(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "git status",
	}); err != nil {
		t.Fatal(err)
	}

	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Action != "git status" || entry.Verdict != string(domain.VerdictAllow) {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestRequestConfirmation_NoHandlerDenies(t *testing.T) {
	e, _ := testEngine(t, nil)
	d, err := e.RequestConfirmation(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "terraform apply",
	}, "no matching rule")
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictDeny {
		t.Fatalf("verdict = %v, want deny", d.Verdict)
	}
}

func TestRequestConfirmation_HandlerError(t *testing.T) {
	wantErr := errors.New("stdin closed")
	e, _ := testEngine(t, func(context.Context, domain.ActionDescriptor, string) (domain.Choice, error) {
		return "", wantErr
	})
	d, err := e.RequestConfirmation(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "terraform apply",
	}, "no matching rule")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if d.Verdict != domain.VerdictDeny {
		t.Fatalf("verdict = %v, want deny on handler error", d.Verdict)
	}
}

func TestResolve_OnceChoicesDoNotPersist(t *testing.T) {
	e, store := testEngine(t, nil)
	desc := domain.ActionDescriptor{Category: domain.CategoryCommand, Action: "terraform apply"}

	d, err := e.Resolve(context.Background(), desc, domain.ChoiceAllowOnce)
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictAllow {
		t.Fatalf("allow once verdict = %v", d.Verdict)
	}

	d, err = e.Resolve(context.Background(), desc, domain.ChoiceDenyOnce)
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictDeny {
		t.Fatalf("deny once verdict = %v", d.Verdict)
	}

	// Neither choice mutates the rule lists.
	if _, ok := store.MatchAllow(domain.CategoryCommand, "terraform apply"); ok {
		t.Fatal("allow once must not create a rule")
	}
	if _, ok := store.MatchDeny(domain.CategoryCommand, "terraform apply"); ok {
		t.Fatal("deny once must not create a rule")
	}
}

func TestResolve_AlwaysAllowPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	store, err := rules.LoadOrInit(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(store, "", nil, nil, testLogger())
	desc := domain.ActionDescriptor{Category: domain.CategoryCommand, Action: "terraform plan"}

	d, err := e.Resolve(context.Background(), desc, domain.ChoiceAlwaysAllow)
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictAllow {
		t.Fatalf("verdict = %v, want allow", d.Verdict)
	}

	// The rule is a literal match for exactly this action, with no
	// wildcard widening, and survives a reload from disk.
	reloaded, err := rules.Load(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reloaded.MatchAllow(domain.CategoryCommand, "terraform plan"); !ok {
		t.Fatal("persisted rule missing after reload")
	}
	if _, ok := reloaded.MatchAllow(domain.CategoryCommand, "terraform plan -out=tf.plan"); ok {
		t.Fatal("literal rule must not match a longer command")
	}
}

func TestResolve_AlwaysDenyPersists(t *testing.T) {
	e, store := testEngine(t, nil)
	desc := domain.ActionDescriptor{Category: domain.CategoryCommand, Action: "curl http://evil.example"}

	d, err := e.Resolve(context.Background(), desc, domain.ChoiceAlwaysDeny)
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != domain.VerdictDeny {
		t.Fatalf("verdict = %v, want deny", d.Verdict)
	}
	if _, ok := store.MatchDeny(domain.CategoryCommand, "curl http://evil.example"); !ok {
		t.Fatal("always deny should create a deny rule")
	}
}

func TestResolve_UnknownChoice(t *testing.T) {
	e, _ := testEngine(t, nil)
	_, err := e.Resolve(context.Background(), domain.ActionDescriptor{
		Category: domain.CategoryCommand,
		Action:   "ls",
	}, domain.Choice("maybe"))
	if err == nil {
		t.Fatal("expected error for unknown choice")
	}
}
