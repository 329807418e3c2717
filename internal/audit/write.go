package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// isUniqueViolation reports whether err is a SQLite primary-key or
// unique-constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// RunOptions carries the optional fields recorded when a run starts.
type RunOptions struct {
	// Meta is free-form context stored as JSON (job name, paths, host).
	Meta map[string]any

	// ParentRunID links this run as a child of a composite run. The
	// parent must already exist; children always reference an existing
	// parent, so the run tree cannot contain cycles.
	ParentRunID string

	// InputSigHash is the input quick-signature hash observed at
	// invocation start, when the job has computed one.
	InputSigHash string
}

// StartRun inserts a run with status "running". Fails with
// ErrAlreadyStarted if the run_id exists; idempotent start is explicitly
// disallowed so an accidental double-invocation surfaces immediately.
func (t *Tracker) StartRun(ctx context.Context, runID, name string, opts RunOptions) error {
	meta := opts.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("start run %s: marshal meta: %w", runID, err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start run %s: begin tx: %w", runID, err)
	}
	defer tx.Rollback() // No-op if committed

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, runID)
	}

	var parent any
	if opts.ParentRunID != "" {
		parent = opts.ParentRunID
	}
	var inputSig any
	if opts.InputSigHash != "" {
		inputSig = opts.InputSigHash
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, name, started_at, status, meta_json, input_sig_hash, parent_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, name, t.now().Unix(), StatusRunning, string(metaJSON), inputSig, parent)
	if err != nil {
		// Another process can insert the same run_id between the COUNT
		// and the INSERT; the primary key catches what the check missed.
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyStarted, runID)
		}
		return fmt.Errorf("start run %s: insert: %w", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("start run %s: commit: %w", runID, err)
	}
	return nil
}

// RecordInputSignature attaches the observed input signature and run
// meta to a run that is still running. The run row is created before the
// input is fingerprinted, so the signature arrives in a second write.
// Fails with ErrNotRunning once the run is terminal, ErrNotFound for an
// unknown run_id.
func (t *Tracker) RecordInputSignature(ctx context.Context, runID, sigHash string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("record signature for run %s: marshal meta: %w", runID, err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record signature for run %s: begin tx: %w", runID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET input_sig_hash = ?, meta_json = ?
		WHERE run_id = ? AND status = ?
	`, sigHash, string(metaJSON), runID, StatusRunning)
	if err != nil {
		return fmt.Errorf("record signature for run %s: update: %w", runID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record signature for run %s: rows affected: %w", runID, err)
	}
	if affected == 0 {
		var current Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record signature: %w: %s", ErrNotFound, runID)
		}
		if err != nil {
			return fmt.Errorf("record signature for run %s: %w", runID, err)
		}
		return fmt.Errorf("record signature for run %s: %w (status %q)", runID, ErrNotRunning, current)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record signature for run %s: commit: %w", runID, err)
	}
	return nil
}

// FinishRun moves a run from "running" to a terminal status, recording
// the output hash when the run produced one. A run that is already
// terminal fails with ErrNotRunning; an unknown run_id fails with
// ErrNotFound.
func (t *Tracker) FinishRun(ctx context.Context, runID string, status Status, outputSigHash string) error {
	if err := validateTerminal(status); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run %s: begin tx: %w", runID, err)
	}
	defer tx.Rollback()

	var outputSig any
	if outputSigHash != "" {
		outputSig = outputSigHash
	}

	// The status guard in the WHERE clause makes the transition one-way.
	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, output_sig_hash = ?
		WHERE run_id = ? AND status = ?
	`, t.now().Unix(), status, outputSig, runID, StatusRunning)
	if err != nil {
		return fmt.Errorf("finish run %s: update: %w", runID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: rows affected: %w", runID, err)
	}
	if affected == 0 {
		var current Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finish run: %w: %s", ErrNotFound, runID)
		}
		if err != nil {
			return fmt.Errorf("finish run %s: %w", runID, err)
		}
		return fmt.Errorf("finish run %s: %w (status %q)", runID, ErrNotRunning, current)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish run %s: commit: %w", runID, err)
	}
	return nil
}

// StepHandle identifies an in-flight step between StartStep and
// FinishStep.
type StepHandle struct {
	ID    int64
	RunID string
	Name  string
}

// StartStep inserts a step with status "running" under the given run.
// The run must exist (foreign key).
func (t *Tracker) StartStep(ctx context.Context, runID, name string) (StepHandle, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return StepHandle{}, fmt.Errorf("start step %q: begin tx: %w", name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO steps (run_id, name, started_at, status)
		VALUES (?, ?, ?, ?)
	`, runID, name, t.now().Unix(), StatusRunning)
	if err != nil {
		return StepHandle{}, fmt.Errorf("start step %q in run %s: %w", name, runID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return StepHandle{}, fmt.Errorf("start step %q: last insert id: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return StepHandle{}, fmt.Errorf("start step %q: commit: %w", name, err)
	}
	return StepHandle{ID: id, RunID: runID, Name: name}, nil
}

// FinishStep moves a step from "running" to a terminal status. Same
// one-way transition contract as FinishRun.
func (t *Tracker) FinishStep(ctx context.Context, step StepHandle, status Status, message string) error {
	if err := validateTerminal(status); err != nil {
		return fmt.Errorf("finish step %q: %w", step.Name, err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish step %q: begin tx: %w", step.Name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE steps SET finished_at = ?, status = ?, message = ?
		WHERE id = ? AND status = ?
	`, t.now().Unix(), status, message, step.ID, StatusRunning)
	if err != nil {
		return fmt.Errorf("finish step %q: update: %w", step.Name, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish step %q: rows affected: %w", step.Name, err)
	}
	if affected == 0 {
		var current Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM steps WHERE id = ?`, step.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finish step: %w: id %d", ErrNotFound, step.ID)
		}
		if err != nil {
			return fmt.Errorf("finish step %q: %w", step.Name, err)
		}
		return fmt.Errorf("finish step %q: %w (status %q)", step.Name, ErrNotRunning, current)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish step %q: commit: %w", step.Name, err)
	}
	return nil
}
