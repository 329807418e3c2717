package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/odin/internal/job"
)

// NewBackupCommand creates the backup command: the composite pipeline
// run, children executed in backup_order under one parent run.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Run the full backup pipeline",
		Long: `Run every job in backup_order as children of one parent run.

Jobs run sequentially; the first failure stops the pipeline and fails
the parent run. Jobs whose inputs are unchanged skip their work but are
still recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, rootOpts)
		},
	}
}

func runBackup(cmd *cobra.Command, opts *RootOptions) error {
	cfg, tracker, err := setup(opts)
	if err != nil {
		return err
	}
	defer tracker.Close()

	if len(cfg.BackupOrder) == 0 {
		return NewExitError(ExitCommandError, "config has no backup_order")
	}

	jobs := make([]job.Job, 0, len(cfg.BackupOrder))
	for _, name := range cfg.BackupOrder {
		j, err := configuredJob(cfg, name)
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
	}

	runner := job.New(tracker, newLogger(opts))
	report, err := runner.RunComposite(cmd.Context(), "full-backup", jobs)

	out := formatter(cmd, opts)
	for _, child := range report.Children {
		out.Printf("  %-20s %-8s %s\n", child.Job, child.Status, child.Outcome)
	}
	out.Printf("backup %s: %s\n", report.RunID, report.Status)
	if emitErr := out.Emit(report); emitErr != nil {
		return emitErr
	}

	if err != nil {
		return WrapExitError(ExitFailure, "backup failed", err)
	}
	return nil
}
