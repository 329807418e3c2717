package audit

import (
	"context"
	"fmt"
)

// StepResult is the explicit slot a step body fills in to report how it
// went. An untouched result finishes the step as success with no
// message.
type StepResult struct {
	Status  Status
	Message string
}

// Skip marks the step (and, by the caller's choice, the run) as skipped.
func (r *StepResult) Skip(message string) {
	r.Status = StatusSkipped
	r.Message = message
}

// WithStep starts a step, runs body, and guarantees the step is finished
// on every exit path:
//
//   - body returns nil: finished with the result's status (default
//     success) and message
//   - body returns an error: finished as failed with the error text, and
//     the error is returned to the caller
//   - body panics: finished as failed with the panic value, then the
//     panic is re-raised
//
// No step can be left in "running" status because of an unhandled
// failure inside body.
func (t *Tracker) WithStep(ctx context.Context, runID, name string, body func(*StepResult) error) error {
	step, err := t.StartStep(ctx, runID, name)
	if err != nil {
		return err
	}

	var res StepResult
	defer func() {
		if p := recover(); p != nil {
			_ = t.FinishStep(ctx, step, StatusFailed, fmt.Sprintf("panic: %v", p))
			panic(p)
		}
	}()

	if err := body(&res); err != nil {
		if finishErr := t.FinishStep(ctx, step, StatusFailed, err.Error()); finishErr != nil {
			return fmt.Errorf("%w (additionally failed to record step: %v)", err, finishErr)
		}
		return err
	}

	status := res.Status
	if status == "" {
		status = StatusSuccess
	}
	return t.FinishStep(ctx, step, status, res.Message)
}
