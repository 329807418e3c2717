// Package job drives one backup job through the idempotency cycle:
// fingerprint the input, decide skip or rebuild against the persisted
// state record, run the builder on rebuild, publish the artifact's state
// and checksum sidecar atomically, and record every stage in the audit
// trail.
//
// A Runner is constructed per process invocation with an explicit
// tracker and logger; nothing in this package holds global state. The
// control flow matches the contract in the audit package: a run is never
// left in "running" status, whether the job succeeds, skips, or fails.
package job
