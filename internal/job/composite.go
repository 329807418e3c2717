package job

import (
	"context"

	"github.com/roach88/odin/internal/audit"
)

// CompositeReport summarizes a parent run and its children.
type CompositeReport struct {
	RunID    string       `json:"run_id"`
	Name     string       `json:"name"`
	Status   audit.Status `json:"status"`
	Children []Report     `json:"children"`
}

// RunComposite drives a sequence of jobs under one parent run, the shape
// of a full-backup invocation. Children run in order; the first failure
// stops the sequence and fails the parent. A parent whose children all
// skipped finishes as skipped.
func (r *Runner) RunComposite(ctx context.Context, name string, jobs []Job) (CompositeReport, error) {
	runID := r.newRunID(name)
	log := r.log.With("run_id", runID, "composite", name)

	names := make([]any, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	err := r.tracker.StartRun(ctx, runID, name, audit.RunOptions{
		Meta: map[string]any{"jobs": names},
	})
	if err != nil {
		return CompositeReport{}, err
	}
	log.Info("composite run started", "jobs", len(jobs))

	report := CompositeReport{RunID: runID, Name: name}
	allSkipped := true
	for _, j := range jobs {
		child, err := r.Run(ctx, j, runID)
		report.Children = append(report.Children, child)
		if err != nil {
			report.Status = audit.StatusFailed
			if finishErr := r.tracker.FinishRun(ctx, runID, audit.StatusFailed, ""); finishErr != nil {
				log.Error("failed to record composite failure", "error", finishErr)
			}
			return report, err
		}
		if child.Status != audit.StatusSkipped {
			allSkipped = false
		}
	}

	status := audit.StatusSuccess
	if allSkipped && len(jobs) > 0 {
		status = audit.StatusSkipped
	}
	report.Status = status
	if err := r.tracker.FinishRun(ctx, runID, status, ""); err != nil {
		return report, err
	}
	log.Info("composite run finished", "status", status)
	return report, nil
}
