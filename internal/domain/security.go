package domain

import "context"

// Verdict is the tri-state outcome of an authorization decision.
type Verdict string

const (
	VerdictAllow   Verdict = "allow"
	VerdictDeny    Verdict = "deny"
	VerdictConfirm Verdict = "confirm"
)

// ActionCategory identifies what kind of action is being authorized.
type ActionCategory string

const (
	CategoryCommand ActionCategory = "command"
	CategoryRead    ActionCategory = "read"
	CategoryWrite   ActionCategory = "write"
	CategoryEdit    ActionCategory = "edit"
)

// IsPathCategory reports whether the category describes a file operation.
func (c ActionCategory) IsPathCategory() bool {
	return c == CategoryRead || c == CategoryWrite || c == CategoryEdit
}

// ActionDescriptor is the unit being classified: a category plus the literal
// action string (a command line for CategoryCommand, a path otherwise).
type ActionDescriptor struct {
	Category ActionCategory
	Action   string
}

// Decision is a verdict plus the attribution required for audit and for
// confirmation prompts. Reason is always set for deny/confirm outcomes.
type Decision struct {
	Verdict Verdict
	Reason  string
	Rule    string // the pattern or denial rule that produced the verdict, if any
}

// Polarity is the allow/deny classification of a rule.
type Polarity string

const (
	PolarityAllow Polarity = "allow"
	PolarityDeny  Polarity = "deny"
)

// Choice is a human resolution of a confirm verdict.
type Choice string

const (
	ChoiceAllowOnce   Choice = "allow_once"
	ChoiceDenyOnce    Choice = "deny_once"
	ChoiceAlwaysAllow Choice = "always_allow"
	ChoiceAlwaysDeny  Choice = "always_deny"
)

// Authorizer evaluates action descriptors against the configured policy.
type Authorizer interface {
	Decide(ctx context.Context, desc ActionDescriptor) (Decision, error)
	Resolve(ctx context.Context, desc ActionDescriptor, choice Choice) (Decision, error)
}

// AuditLogger is the interface for writing audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}

// AuditEntry records one authorization decision for later inspection.
type AuditEntry struct {
	Category string // command | read | write | edit | relay
	Action   string // the literal action string
	Verdict  string // allow | deny | confirm | resolved verdicts
	Reason   string
	Rule     string
}

// Sender injects literal text into a named interactive session pane.
// Implementations must only be handed sanitized text.
type Sender interface {
	Send(ctx context.Context, target string, text string, pressEnter bool) error
}
