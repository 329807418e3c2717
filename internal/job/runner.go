package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/odin/internal/atomicfile"
	"github.com/roach88/odin/internal/audit"
	"github.com/roach88/odin/internal/decision"
	"github.com/roach88/odin/internal/fingerprint"
	"github.com/roach88/odin/internal/state"
)

// Job is one unit of backup work the runner can drive.
type Job struct {
	Name string

	// StatePath is the per-job idempotency record, kept beside the
	// artifact.
	StatePath string

	// Artifact is the file the builder publishes.
	Artifact string

	// UpstreamState optionally points at an upstream job's state file.
	// When set, the upstream output hash is folded into this job's
	// input signature, so an upstream rebuild cascades downstream.
	UpstreamState string

	// Signature observes the input and returns the quick-signature hash
	// plus diagnostic meta recorded on the run.
	Signature func(ctx context.Context) (string, map[string]any, error)

	// Build performs the expensive work and must leave Artifact on disk.
	// It runs inside an audit step; the result slot can adjust the step's
	// terminal status and message.
	Build func(ctx context.Context, res *audit.StepResult) error
}

// Report summarizes one driven run.
type Report struct {
	RunID      string           `json:"run_id"`
	Job        string           `json:"job"`
	Outcome    decision.Outcome `json:"outcome"`
	Status     audit.Status     `json:"status"`
	OutputHash string           `json:"output_hash,omitempty"`
}

// Runner executes jobs against one audit tracker. Construct with New;
// one runner per process invocation.
type Runner struct {
	tracker *audit.Tracker
	log     *slog.Logger
	now     func() time.Time

	// newRunID is swappable in tests for stable ids.
	newRunID func(job string) string
}

// New returns a runner bound to the given tracker and logger.
func New(tracker *audit.Tracker, log *slog.Logger) *Runner {
	return &Runner{
		tracker: tracker,
		log:     log,
		now:     time.Now,
		newRunID: func(job string) string {
			return job + "-" + uuid.NewString()
		},
	}
}

// Check computes the job's decision without starting a run, taking the
// lock, or touching the audit store. Used for dry-run inspection; it
// needs no Runner so the audit database can stay closed.
func Check(ctx context.Context, j Job) (decision.Outcome, string, error) {
	sigHash, _, err := inputSignature(ctx, j)
	if err != nil {
		return "", "", err
	}
	outcome, _ := decide(sigHash, j)
	return outcome, sigHash, nil
}

// Run drives one invocation of the job: fingerprint, decide, rebuild if
// needed, publish, and audit. parentRunID is empty for standalone runs.
//
// The returned error is non-nil only for failures; a skipped run returns
// a Report with status "skipped" and a nil error. The run row is created
// before any work, fingerprinting included, so even an invocation whose
// input cannot be observed reaches a terminal "failed" in the trail.
func (r *Runner) Run(ctx context.Context, j Job, parentRunID string) (Report, error) {
	runID := r.newRunID(j.Name)
	log := r.log.With("run_id", runID, "job", j.Name)

	err := r.tracker.StartRun(ctx, runID, j.Name, audit.RunOptions{ParentRunID: parentRunID})
	if err != nil {
		return Report{}, err
	}

	report, err := r.execute(ctx, j, runID, log)
	if err != nil {
		if finishErr := r.tracker.FinishRun(ctx, runID, audit.StatusFailed, ""); finishErr != nil {
			log.Error("failed to record run failure", "error", finishErr)
		}
		return Report{RunID: runID, Job: j.Name, Status: audit.StatusFailed}, err
	}
	return report, nil
}

// execute is the post-StartRun body; any error it returns makes the
// caller finish the run as failed.
func (r *Runner) execute(ctx context.Context, j Job, runID string, log *slog.Logger) (Report, error) {
	var sigHash string
	err := r.tracker.WithStep(ctx, runID, "compute signature", func(res *audit.StepResult) error {
		var (
			meta map[string]any
			err  error
		)
		sigHash, meta, err = inputSignature(ctx, j)
		if err != nil {
			return err
		}
		res.Message = sigHash
		return r.tracker.RecordInputSignature(ctx, runID, sigHash, meta)
	})
	if err != nil {
		return Report{}, fmt.Errorf("job %s: input signature: %w", j.Name, err)
	}
	log.Info("computed input signature", "hash", sigHash)

	var (
		outcome decision.Outcome
		outHash string
	)
	err = r.tracker.WithStep(ctx, runID, "check signature", func(res *audit.StepResult) error {
		var cur string
		outcome, cur = decide(sigHash, j)
		if outcome == decision.UpToDate {
			outHash = cur
			res.Skip("input and artifact unchanged")
		} else {
			res.Message = string(outcome)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	log.Info("decision", "outcome", outcome)

	if !outcome.Rebuild() {
		if err := r.tracker.FinishRun(ctx, runID, audit.StatusSkipped, outHash); err != nil {
			return Report{}, err
		}
		return Report{RunID: runID, Job: j.Name, Outcome: outcome, Status: audit.StatusSkipped, OutputHash: outHash}, nil
	}

	// Rebuilds of the same job must not race on the state file.
	lock, err := state.Acquire(j.StatePath)
	if err != nil {
		return Report{}, err
	}
	defer lock.Release()

	err = r.tracker.WithStep(ctx, runID, "rebuild", func(res *audit.StepResult) error {
		return j.Build(ctx, res)
	})
	if err != nil {
		return Report{}, err
	}

	err = r.tracker.WithStep(ctx, runID, "publish state", func(res *audit.StepResult) error {
		var err error
		outHash, err = r.publishState(ctx, j, sigHash)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	if err := r.tracker.FinishRun(ctx, runID, audit.StatusSuccess, outHash); err != nil {
		return Report{}, err
	}
	log.Info("rebuild complete", "output_hash", outHash)
	return Report{RunID: runID, Job: j.Name, Outcome: outcome, Status: audit.StatusSuccess, OutputHash: outHash}, nil
}

// decide loads the prior record and evaluates the decision rules. Load
// faults are folded into the outcome (StateUnreadable), never raised.
func decide(sigHash string, j Job) (decision.Outcome, string) {
	prior, priorErr := state.Load(j.StatePath)
	var dp *decision.Prior
	if prior != nil {
		dp = &decision.Prior{
			InputSigHash:  prior.InputSigHash,
			OutputSigHash: prior.OutputSigHash,
		}
	}

	exists := fingerprint.FileExists(j.Artifact)
	var cur string
	if exists {
		var err error
		cur, err = fingerprint.ContentHash(j.Artifact)
		if err != nil {
			// Unreadable artifact is indistinguishable from a missing one.
			exists = false
			cur = ""
		}
	}
	return decision.Decide(sigHash, exists, cur, dp, priorErr), cur
}

// publishState hashes the freshly built artifact, writes its checksum
// sidecar, and atomically replaces the state record.
func (r *Runner) publishState(ctx context.Context, j Job, sigHash string) (string, error) {
	if !fingerprint.FileExists(j.Artifact) {
		return "", fmt.Errorf("job %s: builder finished but artifact %s is missing", j.Name, j.Artifact)
	}

	_, outHash, err := atomicfile.WriteSidecar(j.Artifact)
	if err != nil {
		return "", err
	}

	upstreamHash := ""
	if j.UpstreamState != "" {
		if upstreamHash, err = upstreamOutputHash(j.UpstreamState); err != nil {
			return "", err
		}
	}

	rec := state.Record{
		InputSigHash:  sigHash,
		OutputSigHash: outHash,
		UpstreamHash:  upstreamHash,
		Timestamp:     r.now().UTC(),
	}
	if err := state.Save(j.StatePath, rec); err != nil {
		return "", err
	}
	return outHash, nil
}

// inputSignature computes the job's own quick signature and, for chained
// jobs, folds the upstream output hash into it so upstream changes
// propagate.
func inputSignature(ctx context.Context, j Job) (string, map[string]any, error) {
	sigHash, meta, err := j.Signature(ctx)
	if err != nil {
		return "", nil, err
	}
	if j.UpstreamState == "" {
		return sigHash, meta, nil
	}

	upstreamHash, err := upstreamOutputHash(j.UpstreamState)
	if err != nil {
		return "", nil, err
	}

	canonical, err := fingerprint.MarshalCanonical(map[string]any{
		"input_signature_hash": sigHash,
		"upstream_hash":        upstreamHash,
	})
	if err != nil {
		return "", nil, err
	}
	combined, err := fingerprint.HashDocument(canonical)
	if err != nil {
		return "", nil, err
	}

	if meta == nil {
		meta = map[string]any{}
	}
	meta["upstream_hash"] = upstreamHash
	return combined, meta, nil
}

// upstreamOutputHash reads the upstream job's state file and returns its
// output hash. A chained job cannot run before its upstream has state.
func upstreamOutputHash(upstreamStatePath string) (string, error) {
	rec, err := state.Load(upstreamStatePath)
	if err != nil {
		return "", fmt.Errorf("upstream state: %w", err)
	}
	if rec == nil {
		return "", fmt.Errorf("upstream state %s does not exist; run the upstream job first", upstreamStatePath)
	}
	if rec.OutputSigHash == "" {
		return "", errors.New("upstream state has no output hash")
	}
	return rec.OutputSigHash, nil
}
