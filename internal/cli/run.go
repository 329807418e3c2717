package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/odin/internal/config"
	"github.com/roach88/odin/internal/job"
)

// NewRunCommand creates the run command: one standalone job invocation.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Run a single pipeline job",
		Long: `Run one configured job through the idempotency cycle.

The job's input is fingerprinted and compared against its state record;
unchanged inputs with an intact artifact skip the rebuild entirely. The
run and its steps are recorded in the audit database either way.

Example:
  odin run manifest
  odin run tarball --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, rootOpts, args[0])
		},
	}
}

func runJob(cmd *cobra.Command, opts *RootOptions, name string) error {
	cfg, tracker, err := setup(opts)
	if err != nil {
		return err
	}
	defer tracker.Close()

	j, err := configuredJob(cfg, name)
	if err != nil {
		return err
	}

	runner := job.New(tracker, newLogger(opts))
	report, err := runner.Run(cmd.Context(), j, "")
	if err != nil {
		return WrapExitError(ExitFailure, "job "+name+" failed", err)
	}

	out := formatter(cmd, opts)
	out.Printf("run %s: %s (%s)\n", report.RunID, report.Status, report.Outcome)
	return out.Emit(report)
}

func configuredJob(cfg *config.Config, name string) (job.Job, error) {
	jc, ok := cfg.Jobs[name]
	if !ok {
		return job.Job{}, NewExitError(ExitCommandError, "unknown job "+name)
	}
	j, err := job.FromConfig(name, jc)
	if err != nil {
		return job.Job{}, WrapExitError(ExitCommandError, "bad job definition", err)
	}
	return j, nil
}
