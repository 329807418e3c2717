// Package state persists one idempotency record per job: the input and
// output signature hashes of the last successful rebuild. The record
// lives beside the artifact it describes, not in the audit store, so a
// job can make its skip/rebuild decision without the audit database
// being available.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/roach88/odin/internal/atomicfile"
	"github.com/roach88/odin/internal/fingerprint"
)

// ErrCorrupt reports that a state file exists but could not be parsed.
// Callers must treat this as "no valid prior state" and rebuild; it is
// never fatal.
var ErrCorrupt = errors.New("state file corrupt")

// Record is the last-known-good signature pair for a job. One record per
// job, overwritten on every successful rebuild, owned exclusively by the
// job that writes it.
type Record struct {
	// InputSigHash is the quick-signature hash of the job's input tree
	// at the time of the last successful rebuild.
	InputSigHash string

	// OutputSigHash is the content hash of the artifact the rebuild
	// produced. If set, an artifact with this hash must exist on disk;
	// a mismatch is a rebuild trigger, not a corruption error.
	OutputSigHash string

	// UpstreamHash is the upstream job's output hash folded into this
	// job's input, when the job is chained. Empty when unchained.
	UpstreamHash string

	// Timestamp records when the rebuild completed.
	Timestamp time.Time
}

// recordDoc is the on-disk JSON shape. Legacy spellings of the signature
// fields (init_sig_hex, output_sig_hex) are accepted on read and
// normalized into the current names.
type recordDoc struct {
	InitialSignatureHash string  `json:"initial_signature_hash"`
	OutputSignatureHash  string  `json:"output_signature_hash"`
	UpstreamHash         *string `json:"upstream_hash"`
	Datetime             string  `json:"datetime"`

	// Legacy field names, read-only.
	LegacyInitSigHex   string `json:"init_sig_hex,omitempty"`
	LegacyOutputSigHex string `json:"output_sig_hex,omitempty"`
	LegacyTimestamp    string `json:"timestamp,omitempty"`
}

// Load reads the record at path. Returns (nil, nil) if the file is
// absent. Returns an error wrapping ErrCorrupt if the file exists but
// cannot be parsed.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state %s: %w", path, err)
	}

	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	rec := &Record{
		InputSigHash:  doc.InitialSignatureHash,
		OutputSigHash: doc.OutputSignatureHash,
	}
	if rec.InputSigHash == "" {
		rec.InputSigHash = doc.LegacyInitSigHex
	}
	if rec.OutputSigHash == "" {
		rec.OutputSigHash = doc.LegacyOutputSigHex
	}
	if doc.UpstreamHash != nil {
		rec.UpstreamHash = *doc.UpstreamHash
	}

	ts := doc.Datetime
	if ts == "" {
		ts = doc.LegacyTimestamp
	}
	if ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad datetime %q", ErrCorrupt, path, ts)
		}
		rec.Timestamp = parsed
	}

	if rec.InputSigHash == "" {
		return nil, fmt.Errorf("%w: %s: no input signature field", ErrCorrupt, path)
	}
	return rec, nil
}

// Save serializes the record canonically and publishes it atomically.
func Save(path string, rec Record) error {
	var upstream any
	if rec.UpstreamHash != "" {
		upstream = rec.UpstreamHash
	}
	doc := map[string]any{
		"initial_signature_hash": rec.InputSigHash,
		"output_signature_hash":  rec.OutputSigHash,
		"upstream_hash":          upstream,
		"datetime":               rec.Timestamp.Format(time.RFC3339),
	}

	data, err := fingerprint.MarshalCanonical(doc)
	if err != nil {
		return fmt.Errorf("save state %s: %w", path, err)
	}
	return atomicfile.Publish(path, data)
}
