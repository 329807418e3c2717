package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "odin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
audit_db: /var/lib/odin/audit.db
log_level: info
jobs:
  docs:
    kind: manifest
    root: /home/me/docs
    exclude: ["*.tmp", ".git"]
    artifact: /backups/docs-manifest.yaml
    state_file: /backups/docs.state.json
  notes:
    kind: command
    root: /home/me/notes
    artifact: /backups/notes.tar.gz
    state_file: /backups/notes.state.json
    upstream_state: /backups/docs.state.json
    command: ["tar", "czf", "/backups/notes.tar.gz", "/home/me/notes"]
backup_order: [docs, notes]
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/odin/audit.db", cfg.AuditDB)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"docs", "notes"}, cfg.BackupOrder)
	require.Len(t, cfg.Jobs, 2)

	docs := cfg.Jobs["docs"]
	assert.Equal(t, "manifest", docs.Kind)
	assert.Equal(t, "/home/me/docs", docs.Root)
	assert.Equal(t, []string{"*.tmp", ".git"}, docs.Exclude)

	notes := cfg.Jobs["notes"]
	assert.Equal(t, "command", notes.Kind)
	assert.Equal(t, "/backups/docs.state.json", notes.UpstreamState)
	assert.Equal(t, []string{"tar", "czf", "/backups/notes.tar.gz", "/home/me/notes"}, notes.Command)
}

func TestLoad_SchemaRejections(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			"unknown kind",
			`
audit_db: /tmp/audit.db
jobs:
  docs:
    kind: rsync
    root: /home/me/docs
    artifact: /backups/docs.tar.gz
    state_file: /backups/docs.state.json
`,
		},
		{
			"missing audit_db",
			`
jobs:
  docs:
    kind: manifest
    root: /home/me/docs
    artifact: /backups/docs.tar.gz
    state_file: /backups/docs.state.json
`,
		},
		{
			"missing state_file",
			`
audit_db: /tmp/audit.db
jobs:
  docs:
    kind: manifest
    root: /home/me/docs
    artifact: /backups/docs.tar.gz
`,
		},
		{
			"command job without command",
			`
audit_db: /tmp/audit.db
jobs:
  notes:
    kind: command
    root: /home/me/notes
    artifact: /backups/notes.tar.gz
    state_file: /backups/notes.state.json
`,
		},
		{
			"bad log_level",
			`
audit_db: /tmp/audit.db
log_level: loud
jobs: {}
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			assert.Error(t, err)
		})
	}
}

func TestLoad_UnknownJobInBackupOrder(t *testing.T) {
	config := `
audit_db: /tmp/audit.db
jobs:
  docs:
    kind: manifest
    root: /home/me/docs
    artifact: /backups/docs.tar.gz
    state_file: /backups/docs.state.json
backup_order: [docs, ghost]
`
	_, err := Load(writeConfig(t, config))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ExpandsHomePaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	config := `
audit_db: ~/state/audit.db
jobs:
  docs:
    kind: manifest
    root: ~/docs
    artifact: ~/backups/docs-manifest.yaml
    state_file: ~/backups/docs.state.json
`
	cfg, err := Load(writeConfig(t, config))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "state/audit.db"), cfg.AuditDB)
	docs := cfg.Jobs["docs"]
	assert.Equal(t, filepath.Join(home, "docs"), docs.Root)
	assert.Equal(t, filepath.Join(home, "backups/docs-manifest.yaml"), docs.Artifact)
	assert.Equal(t, filepath.Join(home, "backups/docs.state.json"), docs.StateFile)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/x/y")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x/y"), got)

	got, err = ExpandHome("/absolute/path")
	require.NoError(t, err)
	assert.Equal(t, "/absolute/path", got)

	// "~user" expansion is not supported; the path passes through.
	got, err = ExpandHome("~other/x")
	require.NoError(t, err)
	assert.Equal(t, "~other/x", got)
}
