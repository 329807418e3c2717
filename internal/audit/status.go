package audit

import "fmt"

// Status is the lifecycle state of a run or step.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status ends a lifecycle. "running" is the
// only non-terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

func validateTerminal(s Status) error {
	if !s.Terminal() {
		return fmt.Errorf("status %q is not terminal", s)
	}
	return nil
}
