package audit

import "errors"

var (
	// ErrAlreadyStarted reports a run_id collision on StartRun. A
	// duplicate id means the same invocation started twice; this is a
	// programmer error and always fatal.
	ErrAlreadyStarted = errors.New("run already started")

	// ErrNotRunning reports an attempt to finish a run or step that is
	// not in "running" status. The running -> terminal transition is
	// one-way; a second finish is a logic error, surfaced loudly rather
	// than silently overwriting the first terminal status.
	ErrNotRunning = errors.New("not in running status")

	// ErrNotFound reports a run or step id that does not exist.
	ErrNotFound = errors.New("not found")
)
