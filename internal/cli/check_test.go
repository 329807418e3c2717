package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCommand(t *testing.T) {
	configPath, dir := writeTestConfig(t)

	out, err := execute(t, "check", "docs", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "rebuild")

	// A dry run leaves no trace: no artifact, no state, and the audit
	// database is never opened, so it is not even created.
	assert.NoFileExists(t, filepath.Join(dir, "manifest.yaml"))
	assert.NoFileExists(t, filepath.Join(dir, "docs.state.json"))
	assert.NoFileExists(t, filepath.Join(dir, "audit.db"))

	// After a real run the same check reports skip.
	_, err = execute(t, "run", "docs", "--config", configPath)
	require.NoError(t, err)

	out, err = execute(t, "check", "docs", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "skip")
}

func TestCheckCommand_UnknownJob(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	_, err := execute(t, "check", "ghost", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
