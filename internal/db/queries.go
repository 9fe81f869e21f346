package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Run represents a row in the runs table.
type Run struct {
	ID             string
	TargetDir      string
	MaxIterations  int
	Threshold      float64
	StartedAt      string
	FinishedAt     string
	Finished       bool
	Success        bool
	Reason         string
	IterationsUsed int
	FilesProcessed int
	BugsFixed      int
	TestsPassed    int
	TestsTotal     int
}

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Phase     string
	Event     string
	Iteration int
	Detail    string
	Timestamp string
}

// AttemptRow represents a row in the attempts table.
type AttemptRow struct {
	ID         int
	RunID      string
	Iteration  int
	RetryIndex int
	File       string
	Accepted   bool
	FailedGate string
	Violations string
	Timestamp  string
}

// CheckRun represents a row in the check_runs table.
type CheckRun struct {
	ID         int
	RunID      string
	Iteration  int
	CheckName  string
	Target     string
	Passed     bool
	ExitCode   int
	DurationMs int
	Summary    string
	Timestamp  string
}

// RunSummary carries the final numbers written by FinishRun.
type RunSummary struct {
	Success        bool
	Reason         string
	IterationsUsed int
	FilesProcessed int
	BugsFixed      int
	TestsPassed    int
	TestsTotal     int
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// StartRun inserts a new run row.
func (d *DB) StartRun(id, targetDir string, maxIterations int, threshold float64) error {
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO runs (id, target_dir, max_iterations, threshold, started_at) VALUES (?, ?, ?, ?, ?)`),
		id, targetDir, maxIterations, threshold, now(),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (d *DB) FinishRun(id string, s RunSummary) error {
	_, err := d.conn.Exec(
		d.Rebind(`UPDATE runs SET finished_at = ?, success = ?, reason = ?, iterations_used = ?,
		 files_processed = ?, bugs_fixed = ?, tests_passed = ?, tests_total = ? WHERE id = ?`),
		now(), s.Success, s.Reason, s.IterationsUsed, s.FilesProcessed, s.BugsFixed, s.TestsPassed, s.TestsTotal, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun returns a run by ID, or nil if it does not exist.
func (d *DB) GetRun(id string) (*Run, error) {
	row := d.conn.QueryRow(d.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(d.Rebind(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

const runColumns = `id, target_dir, max_iterations, threshold, started_at, finished_at, success, reason,
 iterations_used, files_processed, bugs_fixed, tests_passed, tests_total`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var finishedAt, reason sql.NullString
	var success sql.NullBool
	var iters, files, bugs, passed, total sql.NullInt64
	err := s.Scan(&r.ID, &r.TargetDir, &r.MaxIterations, &r.Threshold, &r.StartedAt, &finishedAt, &success, &reason,
		&iters, &files, &bugs, &passed, &total)
	if err != nil {
		return nil, err
	}
	r.FinishedAt = finishedAt.String
	r.Finished = finishedAt.Valid
	r.Success = success.Bool
	r.Reason = reason.String
	r.IterationsUsed = int(iters.Int64)
	r.FilesProcessed = int(files.Int64)
	r.BugsFixed = int(bugs.Int64)
	r.TestsPassed = int(passed.Int64)
	r.TestsTotal = int(total.Int64)
	return &r, nil
}

// LogRunEvent inserts a phase event for a run.
func (d *DB) LogRunEvent(runID, phase, event string, iteration int, detail string) error {
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO run_events (run_id, phase, event, iteration, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`),
		runID, phase, event, iteration, detail, now(),
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// GetRunEvents returns all events for a run in insertion order.
func (d *DB) GetRunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, phase, event, iteration, detail, timestamp FROM run_events WHERE run_id = ? ORDER BY id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Phase, &e.Event, &e.Iteration, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogAttempt records one candidate attempt.
func (d *DB) LogAttempt(runID string, iteration, retryIndex int, file string, accepted bool, failedGate string, violations []string) error {
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO attempts (run_id, iteration, retry_index, file, accepted, failed_gate, violations, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, iteration, retryIndex, file, accepted, failedGate, strings.Join(violations, "\n"), now(),
	)
	if err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	return nil
}

// GetAttempts returns all attempts of a run ordered by iteration, file and retry.
func (d *DB) GetAttempts(runID string) ([]AttemptRow, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, iteration, retry_index, file, accepted, failed_gate, violations, timestamp
		 FROM attempts WHERE run_id = ? ORDER BY iteration, id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var a AttemptRow
		var gate, violations sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Iteration, &a.RetryIndex, &a.File, &a.Accepted, &gate, &violations, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.FailedGate = gate.String
		a.Violations = violations.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// LogCheckRun inserts a check run result.
func (d *DB) LogCheckRun(runID string, iteration int, checkName, target string, passed bool, exitCode, durationMs int, summary string) error {
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO check_runs (run_id, iteration, check_name, target, passed, exit_code, duration_ms, summary, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, iteration, checkName, target, passed, exitCode, durationMs, summary, now(),
	)
	if err != nil {
		return fmt.Errorf("log check run: %w", err)
	}
	return nil
}

// GetCheckRuns returns the check runs of one iteration of a run.
func (d *DB) GetCheckRuns(runID string, iteration int) ([]CheckRun, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, iteration, check_name, target, passed, exit_code, duration_ms, summary, timestamp
		 FROM check_runs WHERE run_id = ? AND iteration = ? ORDER BY id`),
		runID, iteration,
	)
	if err != nil {
		return nil, fmt.Errorf("get check runs: %w", err)
	}
	defer rows.Close()

	var out []CheckRun
	for rows.Next() {
		var c CheckRun
		var target, summary sql.NullString
		var exitCode, duration sql.NullInt64
		if err := rows.Scan(&c.ID, &c.RunID, &c.Iteration, &c.CheckName, &target, &c.Passed, &exitCode, &duration, &summary, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		c.Target = target.String
		c.ExitCode = int(exitCode.Int64)
		c.DurationMs = int(duration.Int64)
		c.Summary = summary.String
		out = append(out, c)
	}
	return out, rows.Err()
}
