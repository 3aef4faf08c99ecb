// Package relay wraps the tmux send primitive used for inter-agent
// messaging. Text is always sanitized before it reaches tmux; the relay is
// the trust boundary between agent output and the shared session.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"agentgate/internal/sanitize"
)

const defaultSendTimeout = 10 * time.Second

// targetPattern accepts tmux targets such as "agents", "agents:2" and
// "agents:2.1". Anything else is rejected before tmux ever sees it.
var targetPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(:[0-9]+(\.[0-9]+)?)?$`)

// TmuxSender sends literal text into a tmux pane via `tmux send-keys`.
type TmuxSender struct {
	binary  string
	profile sanitize.Profile
	timeout time.Duration
	logger  *slog.Logger
}

// Config configures the sender; zero values fall back to tmux on PATH, the
// standard sanitization profile, and a 10 second timeout.
type Config struct {
	Binary  string
	Profile sanitize.Profile
	Timeout time.Duration
}

func NewTmuxSender(cfg Config, logger *slog.Logger) *TmuxSender {
	if cfg.Binary == "" {
		cfg.Binary = "tmux"
	}
	if cfg.Profile == "" {
		cfg.Profile = sanitize.Standard
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TmuxSender{
		binary:  cfg.Binary,
		profile: cfg.Profile,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Send sanitizes text and injects it into the target pane, optionally
// following it with an Enter keystroke so the receiving agent submits the
// message.
func (s *TmuxSender) Send(ctx context.Context, target string, text string, pressEnter bool) error {
	if !targetPattern.MatchString(target) {
		return fmt.Errorf("invalid tmux target: %q", target)
	}

	if dangerous, hits := sanitize.Detect(text); dangerous {
		s.logger.Warn("dangerous constructs in relay text, sanitizing",
			"target", target,
			"patterns", strings.Join(hits, " "),
		)
	}
	clean := sanitize.Sanitize(text, s.profile)
	if strings.TrimSpace(clean) == "" {
		return fmt.Errorf("nothing to send after sanitization")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.run(ctx, "send-keys", "-t", target, "--", clean); err != nil {
		return fmt.Errorf("tmux send: %w", err)
	}

	if pressEnter {
		// Give the pane a moment to ingest the literal text before the
		// submit keystroke; sending both in one call merges them.
		select {
		case <-time.After(300 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := s.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
			return fmt.Errorf("tmux submit: %w", err)
		}
	}
	return nil
}

// HasSession reports whether the named tmux session exists.
func (s *TmuxSender) HasSession(ctx context.Context, session string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.run(ctx, "has-session", "-t", session) == nil
}

func (s *TmuxSender) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, s.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("timed out or cancelled")
		}
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
