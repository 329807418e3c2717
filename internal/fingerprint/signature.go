package fingerprint

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// Signature is a cheap structural fingerprint of a file tree.
//
// Equality is defined by Hash alone. The structural fields record what the
// hash was derived from and exist for diagnostics only; they must never be
// compared directly.
type Signature struct {
	Hash          string   `json:"hash"`
	Root          string   `json:"root"`
	Exclude       []string `json:"exclude"`
	FileCount     int64    `json:"file_count"`
	LatestMtimeNS int64    `json:"latest_mtime_ns"`
	TotalBytes    int64    `json:"total_bytes"`
}

// Equal reports whether two signatures denote the same tree state.
func (s Signature) Equal(other Signature) bool {
	return s.Hash == other.Hash
}

// QuickSignature walks the tree under root once and aggregates file count,
// latest modification time (nanoseconds), and total bytes into a single
// hash. Any path matching an exclude pattern is skipped; excluded
// directories are pruned before descent, so their contents are never
// visited.
//
// Unreadable files and dangling symlinks inside the tree are skipped.
// An unreadable root is fatal.
func QuickSignature(root string, exclude []string) (Signature, error) {
	var (
		fileCount     int64
		totalBytes    int64
		latestMtimeNS int64
	)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return fmt.Errorf("quick signature: root %s unreadable: %w", root, walkErr)
			}
			// Permission or race errors on individual entries are not fatal.
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if Excluded(rel, exclude) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// File vanished between readdir and stat.
			return nil
		}
		fileCount++
		totalBytes += info.Size()
		if ns := info.ModTime().UnixNano(); ns > latestMtimeNS {
			latestMtimeNS = ns
		}
		return nil
	})
	if err != nil {
		return Signature{}, err
	}

	canonical, err := MarshalCanonical(map[string]any{
		"file_count":      fileCount,
		"latest_mtime_ns": latestMtimeNS,
		"total_bytes":     totalBytes,
	})
	if err != nil {
		return Signature{}, fmt.Errorf("quick signature: %w", err)
	}

	return Signature{
		Hash:          sha256Hex(canonical),
		Root:          root,
		Exclude:       exclude,
		FileCount:     fileCount,
		LatestMtimeNS: latestMtimeNS,
		TotalBytes:    totalBytes,
	}, nil
}

// Excluded reports whether the slash-separated relative path matches any
// glob pattern. Patterns are tried against the full relative path and
// against the basename, so "*.log" excludes logs at any depth and
// ".git" excludes the top-level directory of that name.
func Excluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// FileExists reports whether path exists and is a regular file. Callers
// use this for the artifact-existence input to the decision rules.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
