package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for agentgate.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Rules     RulesConfig     `json:"rules"`
	Audit     AuditConfig     `json:"audit"`
	Sanitizer SanitizerConfig `json:"sanitizer"`
	Relay     RelayConfig     `json:"relay"`
}

type GeneralConfig struct {
	// ProjectRoot is stripped from incoming paths before classification so
	// absolute in-project paths and relative paths classify identically.
	ProjectRoot string `json:"projectRoot"`
	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile,omitempty"` // optional log file path
}

type RulesConfig struct {
	// Path locates the persisted rule document (YAML).
	Path string `json:"path"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type SanitizerConfig struct {
	Profile string `json:"profile"` // "standard" | "strict"
}

type RelayConfig struct {
	Session        string `json:"session"`        // tmux session agents message through
	DefaultTarget  string `json:"defaultTarget"`  // default send-keys target
	TmuxBinary     string `json:"tmuxBinary,omitempty"`
	PressEnter     bool   `json:"pressEnter"` // follow text with an Enter keystroke
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// DefaultConfigDir returns the default config directory (~/.agentgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentgate"
	}
	return filepath.Join(home, ".agentgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Rules.Path = ExpandPath(cfg.Rules.Path)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Rules.Path == "" {
		errs = append(errs, "rules.path must not be empty")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}

	switch cfg.Sanitizer.Profile {
	case "standard", "strict":
		// valid
	default:
		errs = append(errs, "sanitizer.profile must be one of: standard, strict")
	}

	if cfg.Relay.Session == "" {
		errs = append(errs, "relay.session must not be empty")
	}
	if cfg.Relay.TimeoutSeconds < 1 {
		errs = append(errs, "relay.timeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
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
