// Package audit provides the SQLite-backed trail of job runs and steps.
//
// Every job invocation is one Run, created with status "running" and
// moved exactly once to a terminal status. Discrete operations inside a
// run are Steps, owned by their run and ordered by insertion. Composite
// jobs link child runs to a parent run through parent_run_id, forming a
// tree.
//
// The store enforces two lifecycle contracts:
//
//   - starting a run with an existing run_id fails with ErrAlreadyStarted
//     (accidental double-invocation must surface immediately)
//   - finishing a run or step that is not in "running" status fails with
//     ErrNotRunning (the running -> terminal transition is one-way)
//
// Each mutating call runs in its own transaction, so concurrent job
// processes sharing one audit database interleave safely at call
// granularity.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: steps must reference an existing run
package audit
