package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"agentgate/internal/domain"
	"agentgate/internal/pathguard"
	"agentgate/internal/rules"
)

// ConfirmFunc is a callback that resolves a confirm verdict into one of the
// four human choices. The engine never prompts by itself; the front-end
// owns the interaction and calls back with the result.
type ConfirmFunc func(ctx context.Context, desc domain.ActionDescriptor, reason string) (domain.Choice, error)

// Engine is the decision orchestrator: command descriptors go through the
// rule store's pattern lists (deny before allow), path descriptors through
// the path classifier.
type Engine struct {
	store     *rules.Store
	paths     *pathguard.Classifier
	confirmFn ConfirmFunc
	audit     domain.AuditLogger
	logger    *slog.Logger
}

// NewEngine builds an engine around a loaded rule store. projectRoot is
// handed to the path classifier so absolute in-project paths normalize to
// their relative form.
func NewEngine(store *rules.Store, projectRoot string, confirmFn ConfirmFunc, audit domain.AuditLogger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		paths:     pathguard.New(projectRoot, store.Restrictions()),
		confirmFn: confirmFn,
		audit:     audit,
		logger:    logger,
	}
}

// Decide classifies one action descriptor. It is a pure, bounded
// computation: no user interaction, no rule mutation.
func (e *Engine) Decide(ctx context.Context, desc domain.ActionDescriptor) (domain.Decision, error) {
	action := strings.TrimSpace(desc.Action)

	var d domain.Decision
	switch {
	case desc.Category == domain.CategoryCommand:
		d = e.decideCommand(action)
	case desc.Category.IsPathCategory():
		r := e.paths.Classify(action, desc.Category)
		d = domain.Decision{Verdict: r.Verdict, Reason: r.Reason, Rule: r.Rule}
	default:
		return domain.Decision{}, fmt.Errorf("unknown action category: %q", desc.Category)
	}

	switch d.Verdict {
	case domain.VerdictDeny:
		e.logger.Warn("action DENIED",
			"category", desc.Category,
			"action", action,
			"rule", d.Rule,
		)
	case domain.VerdictConfirm:
		e.logger.Info("action requires confirmation",
			"category", desc.Category,
			"action", action,
			"reason", d.Reason,
		)
	}
	e.logAudit(ctx, desc, d)
	return d, nil
}

// decideCommand checks the deny list first and short-circuits; an action
// matching both lists is denied.
func (e *Engine) decideCommand(action string) domain.Decision {
	if p, ok := e.store.MatchDeny(domain.CategoryCommand, action); ok {
		return domain.Decision{
			Verdict: domain.VerdictDeny,
			Reason:  "deny rule: " + p.String(),
			Rule:    p.String(),
		}
	}
	if p, ok := e.store.MatchAllow(domain.CategoryCommand, action); ok {
		return domain.Decision{
			Verdict: domain.VerdictAllow,
			Reason:  "allow rule: " + p.String(),
			Rule:    p.String(),
		}
	}
	return domain.Decision{Verdict: domain.VerdictConfirm, Reason: "no matching rule"}
}

// RequestConfirmation runs the confirmation callback for a confirm verdict
// and applies the returned choice. With no handler registered the action is
// denied once.
func (e *Engine) RequestConfirmation(ctx context.Context, desc domain.ActionDescriptor, reason string) (domain.Decision, error) {
	if e.confirmFn == nil {
		d := domain.Decision{Verdict: domain.VerdictDeny, Reason: "no confirmation handler"}
		e.logAudit(ctx, desc, d)
		return d, nil
	}

	choice, err := e.confirmFn(ctx, desc, reason)
	if err != nil {
		d := domain.Decision{Verdict: domain.VerdictDeny, Reason: "confirmation error: " + err.Error()}
		e.logAudit(ctx, desc, d)
		return d, err
	}
	return e.Resolve(ctx, desc, choice)
}

// Resolve applies a human choice to a previously confirmed action. "Always"
// choices persist the literal action string as a new rule, with no wildcard
// inference.
func (e *Engine) Resolve(ctx context.Context, desc domain.ActionDescriptor, choice domain.Choice) (domain.Decision, error) {
	action := strings.TrimSpace(desc.Action)

	var d domain.Decision
	switch choice {
	case domain.ChoiceAllowOnce:
		d = domain.Decision{Verdict: domain.VerdictAllow, Reason: "user allowed once"}
	case domain.ChoiceDenyOnce:
		d = domain.Decision{Verdict: domain.VerdictDeny, Reason: "user denied once"}
	case domain.ChoiceAlwaysAllow, domain.ChoiceAlwaysDeny:
		polarity := domain.PolarityAllow
		verdict := domain.VerdictAllow
		if choice == domain.ChoiceAlwaysDeny {
			polarity = domain.PolarityDeny
			verdict = domain.VerdictDeny
		}
		p, err := rules.NewLiteral(desc.Category, action)
		if err != nil {
			return domain.Decision{}, err
		}
		e.store.Add(polarity, p)
		if err := e.store.Save(); err != nil {
			return domain.Decision{}, err
		}
		e.logger.Info("persisted rule from user choice",
			"polarity", polarity,
			"pattern", p.String(),
		)
		d = domain.Decision{Verdict: verdict, Reason: "user choice: " + string(choice), Rule: p.String()}
	default:
		return domain.Decision{}, fmt.Errorf("unknown choice: %q", choice)
	}

	e.logAudit(ctx, desc, d)
	return d, nil
}

func (e *Engine) logAudit(ctx context.Context, desc domain.ActionDescriptor, d domain.Decision) {
	if e.audit == nil {
		return
	}
	err := e.audit.LogAudit(ctx, domain.AuditEntry{
		Category: string(desc.Category),
		Action:   strings.TrimSpace(desc.Action),
		Verdict:  string(d.Verdict),
		Reason:   d.Reason,
		Rule:     d.Rule,
	})
	if err != nil {
		e.logger.Warn("cannot write audit entry", "err", err)
	}
}
