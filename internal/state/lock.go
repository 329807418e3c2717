package state

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked reports that another process holds the rebuild lock for a
// state path.
var ErrLocked = errors.New("state path locked by another process")

// Lock is an advisory file lock guarding a rebuild. The core assumes a
// single writer per artifact path; the lock makes a concurrent rebuild of
// the same job fail fast instead of racing on the state file.
type Lock struct {
	path string
}

// Acquire takes the advisory lock for the state file at statePath by
// creating "<statePath>.lock" exclusively. The lock file records the
// holder's PID for diagnostics. Returns ErrLocked (wrapped) if the lock
// is already held.
func Acquire(statePath string) (*Lock, error) {
	lockPath := statePath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, errors.Join(werr, cerr))
	}
	return &Lock{path: lockPath}, nil
}

// Release removes the lock file. Safe to call once on every exit path.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
