package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run is one end-to-end invocation of a job as recorded in the trail.
type Run struct {
	RunID         string         `json:"run_id"`
	Name          string         `json:"name"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Status        Status         `json:"status"`
	Meta          map[string]any `json:"meta,omitempty"`
	InputSigHash  string         `json:"input_sig_hash,omitempty"`
	OutputSigHash string         `json:"output_sig_hash,omitempty"`
	ParentRunID   string         `json:"parent_run_id,omitempty"`
}

// Step is one recorded sub-operation of a run.
type Step struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	Name       string     `json:"name"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     Status     `json:"status"`
	Message    string     `json:"message,omitempty"`
}

const runColumns = `run_id, name, started_at, finished_at, status, meta_json, input_sig_hash, output_sig_hash, parent_run_id`

// LastRuns returns the most recent runs, newest first. Ties on
// started_at break on run_id so the ordering is deterministic.
func (t *Tracker) LastRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a single run by id, or ErrNotFound.
func (t *Tracker) GetRun(ctx context.Context, runID string) (Run, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs WHERE run_id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run: %w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// StepsFor returns a run's steps in insertion order, the order they must
// replay in.
func (t *Tracker) StepsFor(ctx context.Context, runID string) ([]Step, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, run_id, name, started_at, finished_at, status, message
		FROM steps
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []Step{}
	for rows.Next() {
		var (
			step       Step
			startedAt  int64
			finishedAt sql.NullInt64
			message    sql.NullString
		)
		err := rows.Scan(&step.ID, &step.RunID, &step.Name, &startedAt, &finishedAt, &step.Status, &message)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt.Valid {
			ts := time.Unix(finishedAt.Int64, 0).UTC()
			step.FinishedAt = &ts
		}
		step.Message = message.String
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// ChildRuns returns the direct children of a composite run, oldest
// first.
func (t *Tracker) ChildRuns(ctx context.Context, parentRunID string) ([]Run, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE parent_run_id = ?
		ORDER BY started_at ASC, run_id ASC
	`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("query child runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child runs: %w", err)
	}
	return runs, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run        Run
		startedAt  int64
		finishedAt sql.NullInt64
		metaJSON   string
		inputSig   sql.NullString
		outputSig  sql.NullString
		parent     sql.NullString
	)
	err := s.Scan(&run.RunID, &run.Name, &startedAt, &finishedAt, &run.Status,
		&metaJSON, &inputSig, &outputSig, &parent)
	if err != nil {
		return Run{}, err
	}

	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		ts := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &ts
	}
	run.InputSigHash = inputSig.String
	run.OutputSigHash = outputSig.String
	run.ParentRunID = parent.String

	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &run.Meta); err != nil {
			return Run{}, fmt.Errorf("parse meta for run %s: %w", run.RunID, err)
		}
	}
	return run, nil
}
