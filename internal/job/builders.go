package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/roach88/odin/internal/atomicfile"
	"github.com/roach88/odin/internal/audit"
	"github.com/roach88/odin/internal/config"
	"github.com/roach88/odin/internal/fingerprint"
	"github.com/roach88/odin/internal/gitsig"
)

// FromConfig turns a job definition into a runnable Job. The kind
// selects the input signature scheme and the builder.
func FromConfig(name string, jc config.JobConfig) (Job, error) {
	j := Job{
		Name:          name,
		StatePath:     jc.StateFile,
		Artifact:      jc.Artifact,
		UpstreamState: jc.UpstreamState,
	}

	switch jc.Kind {
	case "manifest":
		j.Signature = treeSignature(jc.Root, jc.Exclude)
		j.Build = func(ctx context.Context, res *audit.StepResult) error {
			return WriteManifest(jc.Root, jc.Artifact, jc.Exclude)
		}
	case "git-pull":
		j.Signature = headSignature(jc.Root)
		j.Build = pullBuilder(jc.Root, jc.Artifact)
	case "command":
		if len(jc.Command) == 0 {
			return Job{}, fmt.Errorf("job %s: kind command requires a command", name)
		}
		j.Signature = treeSignature(jc.Root, jc.Exclude)
		j.Build = commandBuilder(jc.Command)
	default:
		return Job{}, fmt.Errorf("job %s: unknown kind %q", name, jc.Kind)
	}
	return j, nil
}

// treeSignature fingerprints a directory tree with the quick scan.
func treeSignature(root string, exclude []string) func(context.Context) (string, map[string]any, error) {
	return func(ctx context.Context) (string, map[string]any, error) {
		sig, err := fingerprint.QuickSignature(root, exclude)
		if err != nil {
			return "", nil, err
		}
		meta := map[string]any{
			"root":            root,
			"file_count":      sig.FileCount,
			"latest_mtime_ns": sig.LatestMtimeNS,
			"total_bytes":     sig.TotalBytes,
		}
		return sig.Hash, meta, nil
	}
}

// headSignature fingerprints a git repository by its HEAD commit.
func headSignature(repo string) func(context.Context) (string, map[string]any, error) {
	return func(ctx context.Context) (string, map[string]any, error) {
		head, err := gitsig.HeadHash(ctx, repo)
		if err != nil {
			return "", nil, err
		}
		canonical, err := fingerprint.MarshalCanonical(map[string]any{
			"repo": repo,
			"head": head,
		})
		if err != nil {
			return "", nil, err
		}
		hash, err := fingerprint.HashDocument(canonical)
		if err != nil {
			return "", nil, err
		}
		return hash, map[string]any{"repo": repo, "head": head}, nil
	}
}

// pullBuilder pulls the repository and publishes a stamp artifact
// recording the resulting HEAD, so the decision rules can verify the
// pull outcome like any other artifact.
func pullBuilder(repo, artifact string) func(context.Context, *audit.StepResult) error {
	return func(ctx context.Context, res *audit.StepResult) error {
		sum, err := gitsig.Pull(ctx, repo)
		if err != nil {
			return err
		}
		if sum.Result == gitsig.ResultNoUpstream {
			return errors.New("repository has no upstream configured")
		}
		res.Message = string(sum.Result)

		stamp, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return err
		}
		return atomicfile.Publish(artifact, append(stamp, '\n'))
	}
}

// commandBuilder runs a configured argv such as tar, gpg, rsync, or
// restic. The command is opaque to the core: exit 0 and
// an artifact on disk is success, anything else is failure with the
// output tail as the message.
func commandBuilder(argv []string) func(context.Context, *audit.StepResult) error {
	return func(ctx context.Context, res *audit.StepResult) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", argv[0], err, tail(string(out), 500))
		}
		res.Message = fmt.Sprintf("%s exited 0", argv[0])
		return nil
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
