package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupCommand(t *testing.T) {
	configPath, dir := writeTestConfig(t)

	out, err := execute(t, "backup", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "success")
	assert.FileExists(t, filepath.Join(dir, "manifest.yaml"))

	// Nothing changed: the whole pipeline skips.
	out, err = execute(t, "backup", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
}

func TestBackupCommand_NoBackupOrder(t *testing.T) {
	dir := t.TempDir()
	cfg := fmt.Sprintf(`audit_db: %s
jobs: {}
`, filepath.Join(dir, "audit.db"))
	configPath := filepath.Join(dir, "odin.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	_, err := execute(t, "backup", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
