package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/odin/internal/audit"
)

// NewRunsCommand creates the runs command: recent run history.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd, rootOpts, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to show")
	return cmd
}

func listRuns(cmd *cobra.Command, opts *RootOptions, limit int) error {
	_, tracker, err := setup(opts)
	if err != nil {
		return err
	}
	defer tracker.Close()

	runs, err := tracker.LastRuns(cmd.Context(), limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	out := formatter(cmd, opts)
	for _, r := range runs {
		out.Printf("%-42s %-22s %-8s %s\n",
			r.RunID, r.Name, r.Status, r.StartedAt.Format(time.RFC3339))
	}
	if len(runs) == 0 {
		out.Printf("no runs recorded\n")
	}
	return out.Emit(runs)
}

// NewStepsCommand creates the steps command: the audit replay of one run.
func NewStepsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "steps <run-id>",
		Short: "Show a run's steps in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSteps(cmd, rootOpts, args[0])
		},
	}
}

func listSteps(cmd *cobra.Command, opts *RootOptions, runID string) error {
	_, tracker, err := setup(opts)
	if err != nil {
		return err
	}
	defer tracker.Close()

	run, err := tracker.GetRun(cmd.Context(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	steps, err := tracker.StepsFor(cmd.Context(), runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list steps", err)
	}

	out := formatter(cmd, opts)
	out.Printf("%s  %s (%s)\n", run.RunID, run.Name, run.Status)
	for _, s := range steps {
		msg := s.Message
		if msg != "" {
			msg = "  " + msg
		}
		out.Printf("  %-28s %-8s%s\n", s.Name, s.Status, msg)
	}
	return out.Emit(struct {
		Run   audit.Run    `json:"run"`
		Steps []audit.Step `json:"steps"`
	}{run, steps})
}
