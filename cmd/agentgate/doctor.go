package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"agentgate/internal/config"
	"agentgate/internal/domain"
	"agentgate/internal/rules"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your agentgate installation",
		Long: `Verifies that agentgate's configuration, rule document, audit database,
and tmux are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("agentgate Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'agentgate init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Rule document loads
			store, err := rules.Load(cfg.Rules.Path, logger)
			if err != nil {
				printFail("Rule document", err.Error())
				failed++
			} else {
				allow := len(store.Rules(domain.PolarityAllow))
				deny := len(store.Rules(domain.PolarityDeny))
				printPass("Rule document", fmt.Sprintf("%s (%d allow, %d deny)", store.Path(), allow, deny))
				passed++
				if deny == 0 {
					printWarn("Deny rules", "deny list is empty")
					warned++
				}
				if !store.Restrictions().Enabled {
					printWarn("Directory restrictions", "disabled; file paths fall through to confirmation")
					warned++
				}
			}

			// 4. Audit database writable
			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					printFail("Audit database", err.Error())
					failed++
				} else {
					printPass("Audit database", cfg.Audit.DBPath)
					passed++
				}
			} else {
				printWarn("Audit database", "auditing disabled")
				warned++
			}

			// 5. tmux binary on PATH
			tmuxBin := cfg.Relay.TmuxBinary
			if tmuxBin == "" {
				tmuxBin = "tmux"
			}
			if path, err := exec.LookPath(tmuxBin); err != nil {
				printFail("tmux binary", fmt.Sprintf("%s not found on PATH", tmuxBin))
				failed++
			} else {
				printPass("tmux binary", path)
				passed++
			}

			// 6. Working directories from the rule document
			if store != nil {
				for _, dir := range store.Restrictions().AllowedDirectories {
					if info, err := os.Stat(dir); err != nil || !info.IsDir() {
						printWarn("Directory: "+dir, "missing (run 'agentgate init')")
						warned++
					} else {
						printPass("Directory: "+dir, "exists")
						passed++
					}
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running agentgate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nagentgate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! agentgate is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
