package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odin/internal/audit"
	"github.com/roach88/odin/internal/decision"
	"github.com/roach88/odin/internal/state"
)

// fixture wires a runner, its tracker, and a scratch dir together.
type fixture struct {
	runner  *Runner
	tracker *audit.Tracker
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	tracker, err := audit.Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })

	runner := New(tracker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	seq := 0
	runner.newRunID = func(job string) string {
		seq++
		return fmt.Sprintf("%s-%d", job, seq)
	}
	return &fixture{runner: runner, tracker: tracker, dir: dir}
}

// job returns a Job whose signature is the given constant and whose
// builder writes content to the artifact, counting invocations.
func (f *fixture) job(sigHash, content string, builds *int) Job {
	return Job{
		Name:      "docs",
		StatePath: filepath.Join(f.dir, "docs.state.json"),
		Artifact:  filepath.Join(f.dir, "docs.tar.gz"),
		Signature: func(ctx context.Context) (string, map[string]any, error) {
			return sigHash, map[string]any{"root": "/tmp/docs"}, nil
		},
		Build: func(ctx context.Context, res *audit.StepResult) error {
			if builds != nil {
				*builds++
			}
			return os.WriteFile(filepath.Join(f.dir, "docs.tar.gz"), []byte(content), 0o644)
		},
	}
}

func TestRun_FreshJobRebuildsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	builds := 0
	j := f.job("sig-1", "archive-v1", &builds)

	report, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)

	assert.Equal(t, decision.NoPriorState, report.Outcome)
	assert.Equal(t, audit.StatusSuccess, report.Status)
	assert.Equal(t, 1, builds)
	assert.NotEmpty(t, report.OutputHash)

	// State record carries the signature pair.
	rec, err := state.Load(j.StatePath)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "sig-1", rec.InputSigHash)
	assert.Equal(t, report.OutputHash, rec.OutputSigHash)
	assert.False(t, rec.Timestamp.IsZero())

	// Checksum sidecar sits beside the artifact.
	assert.FileExists(t, j.Artifact+".sha256")

	// Audit trail: run success with both hashes, steps all terminal.
	run, err := f.tracker.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSuccess, run.Status)
	assert.Equal(t, "sig-1", run.InputSigHash)
	assert.Equal(t, report.OutputHash, run.OutputSigHash)

	steps, err := f.tracker.StepsFor(ctx, report.RunID)
	require.NoError(t, err)
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
		assert.True(t, s.Status.Terminal())
	}
	assert.Equal(t, []string{"compute signature", "check signature", "rebuild", "publish state"}, names)
}

func TestRun_UnchangedSkipsWithoutBuilding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	builds := 0
	j := f.job("sig-1", "archive-v1", &builds)

	_, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)
	require.Equal(t, 1, builds)

	report, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)

	assert.Equal(t, decision.UpToDate, report.Outcome)
	assert.Equal(t, audit.StatusSkipped, report.Status)
	assert.Equal(t, 1, builds, "builder must not run on a skip")
	assert.NotEmpty(t, report.OutputHash)

	run, err := f.tracker.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSkipped, run.Status)

	// A skipped run records only the signature steps, no rebuild.
	steps, err := f.tracker.StepsFor(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "compute signature", steps[0].Name)
	assert.Equal(t, audit.StatusSuccess, steps[0].Status)
	assert.Equal(t, "check signature", steps[1].Name)
	assert.Equal(t, audit.StatusSkipped, steps[1].Status)
}

func TestRun_InputChangeTriggersRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	builds := 0
	_, err := f.runner.Run(ctx, f.job("sig-1", "archive-v1", &builds), "")
	require.NoError(t, err)

	report, err := f.runner.Run(ctx, f.job("sig-2", "archive-v2", &builds), "")
	require.NoError(t, err)

	assert.Equal(t, decision.InputChanged, report.Outcome)
	assert.Equal(t, audit.StatusSuccess, report.Status)
	assert.Equal(t, 2, builds)
}

func TestRun_TamperedArtifactTriggersRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	builds := 0
	j := f.job("sig-1", "archive-v1", &builds)
	_, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(j.Artifact, []byte("tampered"), 0o644))

	report, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)
	assert.Equal(t, decision.OutputMissingOrTampered, report.Outcome)
	assert.Equal(t, 2, builds)

	// The rebuild restores the artifact and the pipeline converges: the
	// next run skips again.
	report, err = f.runner.Run(ctx, j, "")
	require.NoError(t, err)
	assert.Equal(t, decision.UpToDate, report.Outcome)
	assert.Equal(t, 2, builds)
}

func TestRun_MissingArtifactTriggersRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("sig-1", "archive-v1", nil)
	_, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(j.Artifact))

	report, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)
	assert.Equal(t, decision.OutputMissingOrTampered, report.Outcome)
	assert.FileExists(t, j.Artifact)
}

func TestRun_CorruptStateTriggersRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("sig-1", "archive-v1", nil)
	_, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(j.StatePath, []byte("not json"), 0o644))

	report, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)
	assert.Equal(t, decision.StateUnreadable, report.Outcome)
	assert.Equal(t, audit.StatusSuccess, report.Status)

	// The rebuild repaired the state file.
	rec, err := state.Load(j.StatePath)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "sig-1", rec.InputSigHash)
}

func TestRun_BuildFailureFailsRunAndKeepsOldState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := f.job("sig-1", "archive-v1", nil)
	_, err := f.runner.Run(ctx, good, "")
	require.NoError(t, err)
	before, err := state.Load(good.StatePath)
	require.NoError(t, err)

	bad := f.job("sig-2", "", nil)
	bad.Build = func(ctx context.Context, res *audit.StepResult) error {
		return errors.New("tar exited 2")
	}

	report, err := f.runner.Run(ctx, bad, "")
	require.Error(t, err)
	assert.Equal(t, audit.StatusFailed, report.Status)

	// Prior state survives a failed rebuild untouched.
	after, err := state.Load(good.StatePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	run, err := f.tracker.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, run.Status)

	steps, err := f.tracker.StepsFor(ctx, report.RunID)
	require.NoError(t, err)
	for _, s := range steps {
		assert.True(t, s.Status.Terminal(), "step %q left running", s.Name)
	}
}

// An input that cannot be observed (unreadable root, missing upstream
// state) must still leave a failed run in the trail, not vanish.
func TestRun_SignatureFaultRecordsFailedRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("", "", nil)
	j.Signature = func(ctx context.Context) (string, map[string]any, error) {
		return "", nil, errors.New("root unreadable")
	}

	report, err := f.runner.Run(ctx, j, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root unreadable")
	assert.Equal(t, audit.StatusFailed, report.Status)

	run, err := f.tracker.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, run.Status)
	assert.Empty(t, run.InputSigHash)
	require.NotNil(t, run.FinishedAt)

	steps, err := f.tracker.StepsFor(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "compute signature", steps[0].Name)
	assert.Equal(t, audit.StatusFailed, steps[0].Status)
	assert.Equal(t, "root unreadable", steps[0].Message)
}

func TestRun_BuilderLeavesNoArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("sig-1", "", nil)
	j.Build = func(ctx context.Context, res *audit.StepResult) error {
		return nil // claims success without producing the artifact
	}

	_, err := f.runner.Run(ctx, j, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact")
	assert.NoFileExists(t, j.StatePath)
}

func TestRun_RebuildFailsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("sig-1", "archive-v1", nil)
	lock, err := state.Acquire(j.StatePath)
	require.NoError(t, err)
	defer lock.Release()

	report, err := f.runner.Run(ctx, j, "")
	require.ErrorIs(t, err, state.ErrLocked)
	assert.Equal(t, audit.StatusFailed, report.Status)
}

func TestRun_ReleasesLockAfterRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("sig-1", "archive-v1", nil)
	_, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)

	assert.NoFileExists(t, j.StatePath+".lock")
}

func TestCheck_DryRunRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("sig-1", "archive-v1", nil)
	outcome, sigHash, err := Check(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, decision.NoPriorState, outcome)
	assert.Equal(t, "sig-1", sigHash)

	runs, err := f.tracker.LastRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoFileExists(t, j.Artifact)
}

func TestRun_UpstreamChaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	upstream := f.job("up-sig-1", "upstream-v1", nil)
	upstream.Name = "notes"
	upstream.StatePath = filepath.Join(f.dir, "notes.state.json")
	upstream.Artifact = filepath.Join(f.dir, "notes.tar.gz")
	upstream.Build = func(ctx context.Context, res *audit.StepResult) error {
		return os.WriteFile(upstream.Artifact, []byte("upstream-v1"), 0o644)
	}

	downBuilds := 0
	down := f.job("down-sig", "down-v1", &downBuilds)
	down.UpstreamState = upstream.StatePath

	// Downstream cannot run before its upstream has state.
	_, err := f.runner.Run(ctx, down, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream")

	_, err = f.runner.Run(ctx, upstream, "")
	require.NoError(t, err)

	report, err := f.runner.Run(ctx, down, "")
	require.NoError(t, err)
	assert.Equal(t, decision.NoPriorState, report.Outcome)
	require.Equal(t, 1, downBuilds)

	// Stable upstream: downstream skips.
	report, err = f.runner.Run(ctx, down, "")
	require.NoError(t, err)
	assert.Equal(t, decision.UpToDate, report.Outcome)

	// Upstream rebuild changes its output hash, which cascades into the
	// downstream input signature.
	changed := upstream
	changed.Signature = func(ctx context.Context) (string, map[string]any, error) {
		return "up-sig-2", nil, nil
	}
	changed.Build = func(ctx context.Context, res *audit.StepResult) error {
		return os.WriteFile(changed.Artifact, []byte("upstream-v2"), 0o644)
	}
	_, err = f.runner.Run(ctx, changed, "")
	require.NoError(t, err)

	report, err = f.runner.Run(ctx, down, "")
	require.NoError(t, err)
	assert.Equal(t, decision.InputChanged, report.Outcome)
	assert.Equal(t, 2, downBuilds)
}

func TestRunComposite_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.job("sig-a", "a-v1", nil)
	a.Name = "alpha"
	a.StatePath = filepath.Join(f.dir, "alpha.state.json")
	a.Artifact = filepath.Join(f.dir, "alpha.tar.gz")
	a.Build = func(ctx context.Context, res *audit.StepResult) error {
		return os.WriteFile(a.Artifact, []byte("a-v1"), 0o644)
	}
	b := f.job("sig-b", "b-v1", nil)
	b.Name = "beta"
	b.StatePath = filepath.Join(f.dir, "beta.state.json")
	b.Artifact = filepath.Join(f.dir, "beta.tar.gz")
	b.Build = func(ctx context.Context, res *audit.StepResult) error {
		return os.WriteFile(b.Artifact, []byte("b-v1"), 0o644)
	}

	report, err := f.runner.RunComposite(ctx, "backup", []Job{a, b})
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSuccess, report.Status)
	require.Len(t, report.Children, 2)

	children, err := f.tracker.ChildRuns(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, child := range children {
		assert.Equal(t, report.RunID, child.ParentRunID)
	}
}

func TestRunComposite_AllSkippedFinishesSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j := f.job("sig-1", "archive-v1", nil)
	_, err := f.runner.Run(ctx, j, "")
	require.NoError(t, err)

	report, err := f.runner.RunComposite(ctx, "backup", []Job{j})
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSkipped, report.Status)

	run, err := f.tracker.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSkipped, run.Status)
}

func TestRunComposite_FirstFailureStopsSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := f.job("sig-x", "", nil)
	broken.Name = "broken"
	broken.StatePath = filepath.Join(f.dir, "broken.state.json")
	broken.Artifact = filepath.Join(f.dir, "broken.tar.gz")
	broken.Build = func(ctx context.Context, res *audit.StepResult) error {
		return errors.New("disk full")
	}

	neverBuilds := 0
	after := f.job("sig-y", "y-v1", &neverBuilds)
	after.Name = "after"
	after.StatePath = filepath.Join(f.dir, "after.state.json")
	after.Artifact = filepath.Join(f.dir, "after.tar.gz")

	report, err := f.runner.RunComposite(ctx, "backup", []Job{broken, after})
	require.Error(t, err)
	assert.Equal(t, audit.StatusFailed, report.Status)
	require.Len(t, report.Children, 1)
	assert.Equal(t, 0, neverBuilds, "jobs after a failure must not run")

	run, err := f.tracker.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, run.Status)
}
