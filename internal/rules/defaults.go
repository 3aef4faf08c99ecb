package rules

// DefaultDocument returns the hard-coded rule document written on first use
// and by reset. The allow list covers read-only inspection commands, tmux
// messaging, directory creation, and the fixed working directories agents
// coordinate through; the deny list blocks the classic foot-guns.
func DefaultDocument() Document {
	return Document{
		Permissions: Permissions{
			Allow: defaultAllow(),
			Deny:  defaultDeny(),
		},
		DirectoryRestrictions: &DirectoryRestrictions{
			Enabled:            true,
			AllowedDirectories: []string{"queue", "status", "config", "memory"},
			AllowedFiles:       []string{"dashboard.md"},
			ExternalAccess: ExternalAccess{
				AllowedPatterns: []string{"/tmp/agentgate/"},
			},
		},
	}
}

func defaultAllow() []string {
	return []string{
		"Bash(ls*)",
		"Bash(cat *)",
		"Bash(pwd)",
		"Bash(grep *)",
		"Bash(find *)",
		"Bash(git status)",
		"Bash(git log*)",
		"Bash(git diff*)",
		"Bash(git branch)",
		"Bash(tmux send-keys*)",
		"Bash(tmux list-*)",
		"Bash(tmux capture-pane*)",
		"Bash(mkdir *)",
		"Read(queue/*)",
		"Read(status/*)",
		"Read(config/*)",
		"Read(memory/*)",
		"Read(dashboard.md)",
		"Write(queue/*)",
		"Write(status/*)",
		"Write(memory/*)",
		"Write(dashboard.md)",
		"Edit(queue/*)",
		"Edit(status/*)",
		"Edit(dashboard.md)",
	}
}

func defaultDeny() []string {
	return []string{
		"Bash(rm -rf /*)",
		"Bash(sudo *)",
		"Bash(su *)",
		"Write(~/.ssh/*)",
		"Write(~/.aws/*)",
		"Write(~/.bashrc*)",
		"Write(~/.zshrc*)",
		"Write(~/.profile*)",
	}
}
