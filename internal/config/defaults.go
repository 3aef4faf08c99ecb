package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			ProjectRoot: "",
			LogLevel:    "info",
		},
		Rules: RulesConfig{
			Path: "~/.agentgate/rules.yaml",
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "~/.agentgate/audit.db",
		},
		Sanitizer: SanitizerConfig{
			Profile: "standard",
		},
		Relay: RelayConfig{
			Session:        "agents",
			DefaultTarget:  "agents:0",
			PressEnter:     true,
			TimeoutSeconds: 10,
		},
	}
}
