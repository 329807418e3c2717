package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/odin/internal/job"
)

// NewCheckCommand creates the check command: a decision dry-run.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <job>",
		Short: "Show what a job run would decide, without doing anything",
		Long: `Compute the job's current input signature and evaluate the decision
rules against its state record. No run is recorded, no lock is taken,
no work is performed, and the audit database is never opened.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkJob(cmd, rootOpts, args[0])
		},
	}
}

func checkJob(cmd *cobra.Command, opts *RootOptions, name string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	j, err := configuredJob(cfg, name)
	if err != nil {
		return err
	}

	outcome, sigHash, err := job.Check(cmd.Context(), j)
	if err != nil {
		return WrapExitError(ExitCommandError, "check failed", err)
	}

	out := formatter(cmd, opts)
	action := "skip"
	if outcome.Rebuild() {
		action = "rebuild"
	}
	out.Printf("%s: %s -> %s\n", name, outcome, action)
	return out.Emit(map[string]any{
		"job":        name,
		"outcome":    outcome,
		"rebuild":    outcome.Rebuild(),
		"input_hash": sigHash,
	})
}
