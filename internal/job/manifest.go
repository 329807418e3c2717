package job

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/odin/internal/atomicfile"
	"github.com/roach88/odin/internal/fingerprint"
)

// Manifest is the YAML document a manifest job publishes: every included
// file with its content checksum.
type Manifest struct {
	Version           int             `yaml:"version"`
	ChecksumAlgorithm string          `yaml:"checksum_algorithm"`
	GeneratedAt       string          `yaml:"generated_at"`
	OriginRoot        string          `yaml:"origin_root"`
	Files             []ManifestEntry `yaml:"files"`
}

// ManifestEntry describes one file in the manifest.
type ManifestEntry struct {
	Path      string `yaml:"path"`
	Checksum  string `yaml:"checksum"`
	ModTime   string `yaml:"mod_time"`
	SizeBytes int64  `yaml:"size_bytes"`
}

// WriteManifest scans root (skipping excluded paths), hashes every file,
// and atomically publishes the manifest to manifestPath. Entries are
// sorted by path so identical trees produce identical manifests.
func WriteManifest(root, manifestPath string, exclude []string) error {
	entries, err := buildFileList(root, exclude)
	if err != nil {
		return err
	}

	m := Manifest{
		Version:           1,
		ChecksumAlgorithm: "sha256",
		GeneratedAt:       time.Now().UTC().Format(time.RFC3339),
		OriginRoot:        root,
		Files:             entries,
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return atomicfile.Publish(manifestPath, data)
}

func buildFileList(root string, exclude []string) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return fmt.Errorf("manifest scan: root %s unreadable: %w", root, walkErr)
			}
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
		if fingerprint.Excluded(rel, exclude) {
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
			return nil
		}
		checksum, err := fingerprint.ContentHash(p)
		if err != nil {
			// Skip files that vanish or become unreadable mid-scan.
			return nil
		}
		entries = append(entries, ManifestEntry{
			Path:      rel,
			Checksum:  checksum,
			ModTime:   info.ModTime().UTC().Format(time.RFC3339),
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
