// Package atomicfile publishes files without ever exposing a partially
// written file. Content is written to a temporary file in the target's
// directory, fsynced, then renamed into place. A concurrent reader sees
// either the previous complete file or the new complete file, never a
// truncated one.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Publish atomically writes content to path. The temporary file is
// created in the same directory as path so the final rename stays on one
// filesystem. On any failure before the rename the temporary file is
// removed and the target is left untouched.
func Publish(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return fmt.Errorf("publish %s: write: %w", path, err)
	}
	// Durability before visibility: the bytes must be on disk before the
	// rename makes them observable under the target name.
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("publish %s: fsync: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish %s: close: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish %s: rename: %w", path, err)
	}
	return nil
}
