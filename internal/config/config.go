// Package config loads the odin YAML configuration and validates it
// against an embedded CUE schema before decoding.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// DefaultPath is where the config lives unless --config overrides it.
const DefaultPath = "~/.config/odin/odin.yaml"

// Config is the decoded configuration for one odin installation.
type Config struct {
	AuditDB     string               `yaml:"audit_db"`
	LogLevel    string               `yaml:"log_level"`
	Jobs        map[string]JobConfig `yaml:"jobs"`
	BackupOrder []string             `yaml:"backup_order"`
}

// JobConfig defines one pipeline job.
type JobConfig struct {
	// Kind selects the builder: "manifest" (walk root, write a YAML
	// manifest), "git-pull" (pull root, stamp HEAD), or "command" (run
	// argv, expect artifact).
	Kind string `yaml:"kind"`

	// Root is the input tree the quick signature is computed over.
	Root string `yaml:"root"`

	// Exclude holds glob patterns skipped during the signature scan and
	// manifest walk.
	Exclude []string `yaml:"exclude"`

	// Artifact is the file the job publishes.
	Artifact string `yaml:"artifact"`

	// StateFile is the per-job idempotency record, kept beside the
	// artifact.
	StateFile string `yaml:"state_file"`

	// UpstreamState optionally points at the upstream job's state file;
	// its output hash is folded into this job's input signature.
	UpstreamState string `yaml:"upstream_state"`

	// Command is the argv for kind "command".
	Command []string `yaml:"command"`
}

// Load reads, validates, and decodes the config at path. "~/" prefixes
// in every path field are expanded against the user's home directory.
func Load(path string) (*Config, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	for _, name := range cfg.BackupOrder {
		if _, ok := cfg.Jobs[name]; !ok {
			return nil, fmt.Errorf("config %s: backup_order references unknown job %q", path, name)
		}
	}
	return &cfg, nil
}

// validate unifies the raw document with the embedded CUE schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.Unify(doc)
	// Concrete validation also catches missing required fields, which
	// unification alone leaves as incomplete rather than invalid.
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return errors.New(cueerrors.Details(err, nil))
	}
	return nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.AuditDB, err = ExpandHome(c.AuditDB); err != nil {
		return err
	}
	for name, job := range c.Jobs {
		if job.Root, err = ExpandHome(job.Root); err != nil {
			return err
		}
		if job.Artifact, err = ExpandHome(job.Artifact); err != nil {
			return err
		}
		if job.StateFile, err = ExpandHome(job.StateFile); err != nil {
			return err
		}
		if job.UpstreamState, err = ExpandHome(job.UpstreamState); err != nil {
			return err
		}
		c.Jobs[name] = job
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
