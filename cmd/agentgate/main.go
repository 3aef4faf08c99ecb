package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"agentgate/internal/audit"
	"agentgate/internal/config"
	"agentgate/internal/domain"
	"agentgate/internal/guard"
	"agentgate/internal/relay"
	"agentgate/internal/rules"
	"agentgate/internal/sanitize"

	"github.com/spf13/cobra"
)

// Exit codes surfaced to scripts wrapping the CLI.
const (
	exitOK          = 0
	exitError       = 1
	exitDenied      = 2
	exitConfirm     = 3
	exitConfigMiss  = 4
	exitPersistence = 5
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	exitCode   = exitOK
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "agentgate",
		Version:       version,
		Short:         "agentgate: action authorization for tmux-coordinated agents",
		Long:          "agentgate decides whether agent-initiated commands, file operations, and relay messages are allowed, denied, or need a human decision.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.agentgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(sanitizeCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(configCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		switch {
		case errors.Is(err, rules.ErrConfigMissing):
			exitCode = exitConfigMiss
		case errors.Is(err, rules.ErrPersistence):
			exitCode = exitPersistence
		default:
			exitCode = exitError
		}
	}
	os.Exit(exitCode)
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the app config, falling back to defaults when missing.
func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.Rules.Path = config.ExpandPath(cfg.Rules.Path)
		cfg.Audit.DBPath = config.ExpandPath(cfg.Audit.DBPath)
	}
	return cfg
}

// openAudit returns the audit logger, or nil when auditing is disabled.
func openAudit(cfg *config.Config) (*audit.SQLiteStore, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	return audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, rule document, and working directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			store, err := rules.LoadOrInit(config.ExpandPath(cfg.Rules.Path), logger)
			if err != nil {
				return err
			}

			// The directories agents coordinate through.
			for _, dir := range store.Restrictions().AllowedDirectories {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "rules", store.Path())
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "check <command|read|write|edit> <action>",
		Short: "Classify one action and exit with its verdict",
		Long: `Classifies an action descriptor against the rule document.
Exit codes: 0 allowed, 2 denied, 3 needs confirmation.
With --interactive, a confirmation prompt resolves the verdict instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := parseDescriptor(args[0], args[1])
			if err != nil {
				return err
			}

			cfg := loadConfig()
			store, err := rules.LoadOrInit(cfg.Rules.Path, logger)
			if err != nil {
				return err
			}
			auditStore, err := openAudit(cfg)
			if err != nil {
				return fmt.Errorf("audit store: %w", err)
			}
			var auditLogger domain.AuditLogger
			if auditStore != nil {
				auditLogger = auditStore
				defer auditStore.Close()
			}

			var confirmFn guard.ConfirmFunc
			if interactive {
				confirmFn = promptChoice
			}
			engine := guard.NewEngine(store, cfg.General.ProjectRoot, confirmFn, auditLogger, logger)

			ctx := cmd.Context()
			decision, err := engine.Decide(ctx, desc)
			if err != nil {
				return err
			}

			if decision.Verdict == domain.VerdictConfirm && interactive {
				decision, err = engine.RequestConfirmation(ctx, desc, decision.Reason)
				if err != nil {
					return err
				}
			}

			printDecision(desc, decision)
			switch decision.Verdict {
			case domain.VerdictDeny:
				exitCode = exitDenied
			case domain.VerdictConfirm:
				exitCode = exitConfirm
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for a decision on confirm verdicts")
	return cmd
}

func parseDescriptor(category, action string) (domain.ActionDescriptor, error) {
	switch domain.ActionCategory(category) {
	case domain.CategoryCommand, domain.CategoryRead, domain.CategoryWrite, domain.CategoryEdit:
		return domain.ActionDescriptor{Category: domain.ActionCategory(category), Action: action}, nil
	}
	return domain.ActionDescriptor{}, fmt.Errorf("unknown category %q (want command, read, write, or edit)", category)
}

func printDecision(desc domain.ActionDescriptor, d domain.Decision) {
	fmt.Printf("%-8s %s\n", strings.ToUpper(string(d.Verdict)), desc.Action)
	if d.Reason != "" {
		fmt.Printf("         %s\n", d.Reason)
	}
}

// promptChoice is the interactive confirmation handler: the core returns a
// confirm verdict and this front-end resolves it into one of four choices.
func promptChoice(ctx context.Context, desc domain.ActionDescriptor, reason string) (domain.Choice, error) {
	fmt.Printf("\nConfirmation needed\n  category: %s\n  action:   %s\n  reason:   %s\n", desc.Category, desc.Action, reason)
	fmt.Print("[a]llow once, [d]eny once, always [A]llow, always [D]eny? ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	switch strings.TrimSpace(line) {
	case "a":
		return domain.ChoiceAllowOnce, nil
	case "d":
		return domain.ChoiceDenyOnce, nil
	case "A":
		return domain.ChoiceAlwaysAllow, nil
	case "D":
		return domain.ChoiceAlwaysDeny, nil
	}
	// Anything unrecognized is the safe answer.
	return domain.ChoiceDenyOnce, nil
}

func sendCmd() *cobra.Command {
	var target string
	var noEnter bool

	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Sanitize text and relay it into the shared tmux session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if target == "" {
				target = cfg.Relay.DefaultTarget
			}

			sender := relay.NewTmuxSender(relay.Config{
				Binary:  cfg.Relay.TmuxBinary,
				Profile: sanitize.Profile(cfg.Sanitizer.Profile),
			}, logger)

			text := strings.Join(args, " ")
			if err := sender.Send(cmd.Context(), target, text, cfg.Relay.PressEnter && !noEnter); err != nil {
				return err
			}
			logger.Info("message relayed", "target", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "tmux target pane (default: relay.defaultTarget)")
	cmd.Flags().BoolVar(&noEnter, "no-enter", false, "do not press Enter after the text")
	return cmd
}

func sanitizeCmd() *cobra.Command {
	var profile string
	var detectOnly bool

	cmd := &cobra.Command{
		Use:   "sanitize <text>...",
		Short: "Sanitize text without sending it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			if detectOnly {
				dangerous, hits := sanitize.Detect(text)
				if dangerous {
					fmt.Printf("DANGEROUS: %s\n", strings.Join(hits, " "))
					exitCode = exitDenied
				} else {
					fmt.Println("SAFE")
				}
				return nil
			}

			switch sanitize.Profile(profile) {
			case sanitize.Standard, sanitize.Strict:
			default:
				return fmt.Errorf("unknown profile %q (want standard or strict)", profile)
			}
			fmt.Println(sanitize.Sanitize(text, sanitize.Profile(profile)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "standard", "sanitization profile: standard or strict")
	cmd.Flags().BoolVar(&detectOnly, "detect", false, "only report dangerous constructs, do not sanitize")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit the rule document",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List allow and deny rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := rules.LoadOrInit(cfg.Rules.Path, logger)
			if err != nil {
				return err
			}
			fmt.Println("allow:")
			for _, r := range store.Rules(domain.PolarityAllow) {
				fmt.Println("  " + r)
			}
			fmt.Println("deny:")
			for _, r := range store.Rules(domain.PolarityDeny) {
				fmt.Println("  " + r)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <allow|deny> <pattern>",
		Short: "Add a rule pattern, e.g. 'agentgate rules add allow \"Bash(git push*)\"'",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			polarity, err := parsePolarity(args[0])
			if err != nil {
				return err
			}
			p, err := rules.ParsePattern(args[1])
			if err != nil {
				return err
			}
			cfg := loadConfig()
			store, err := rules.LoadOrInit(cfg.Rules.Path, logger)
			if err != nil {
				return err
			}
			store.Add(polarity, p)
			if err := store.Save(); err != nil {
				return err
			}
			logger.Info("rule added", "polarity", polarity, "pattern", p.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <allow|deny> <pattern>",
		Short: "Remove a rule pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			polarity, err := parsePolarity(args[0])
			if err != nil {
				return err
			}
			p, err := rules.ParsePattern(args[1])
			if err != nil {
				return err
			}
			cfg := loadConfig()
			store, err := rules.Load(cfg.Rules.Path, logger)
			if err != nil {
				return err
			}
			store.Remove(polarity, p)
			if err := store.Save(); err != nil {
				return err
			}
			logger.Info("rule removed", "polarity", polarity, "pattern", p.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Overwrite the rule document with the built-in defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := rules.LoadOrInit(cfg.Rules.Path, logger)
			if err != nil {
				return err
			}
			if err := store.Reset(); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			logger.Info("rule document reset", "path", store.Path())
			return nil
		},
	})

	return cmd
}

func parsePolarity(s string) (domain.Polarity, error) {
	switch s {
	case "allow":
		return domain.PolarityAllow, nil
	case "deny":
		return domain.PolarityDeny, nil
	}
	return "", fmt.Errorf("unknown polarity %q (want allow or deny)", s)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set configuration values",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Get a config value by dot-notation path (e.g. relay.session)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.Marshal(val)
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value and save",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent authorization decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled in config")
			}
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Printf("%s  %-8s %-7s %-40s %s\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					r.Verdict, r.Category, truncate(r.Action, 40), r.Reason)
			}

			counts, err := store.CountByVerdict(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("\ntotals: allow=%d deny=%d confirm=%d\n",
				counts["allow"], counts["deny"], counts["confirm"])
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
