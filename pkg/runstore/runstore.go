// Package runstore is the local SQLite ledger of test runs and of every
// pytest invocation (module attempt) made by a run.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/sqlite"
)

const schemaVersion = "v0_1_0"

var (
	tableRuns     = "jaxci_runs_" + schemaVersion
	tableAttempts = "jaxci_module_attempts_" + schemaVersion
)

const (
	columnRunID       = "run_id"
	columnKind        = "kind"
	columnStarted     = "started"
	columnFinished    = "finished"
	columnExitCode    = "exit_code"
	columnHost        = "host"
	columnParallelism = "parallelism"

	columnTimestamp     = "timestamp"
	columnModule        = "module"
	columnAttempt       = "attempt"
	columnGPUs          = "gpus"
	columnCrashedNodeID = "crashed_nodeid"
	columnDuration      = "duration_seconds"
)

// Kind is the runner that produced a run.
type Kind string

const (
	KindSingle Kind = "single"
	KindMulti  Kind = "multi"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of run-single or run-multi.
type Run struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Host        string    `json:"host"`
	Parallelism int       `json:"parallelism"`
}

// Attempt is one pytest invocation of a module.
// Attempt 0 is the first run, N>0 are crash-recovery reruns.
type Attempt struct {
	RunID         string        `json:"run_id"`
	Time          time.Time     `json:"time"`
	Module        string        `json:"module"`
	Attempt       int           `json:"attempt"`
	GPUs          string        `json:"gpus"`
	ExitCode      int           `json:"exit_code"`
	CrashedNodeID string        `json:"crashed_nodeid,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Store records runs and attempts. Safe for concurrent use.
type Store struct {
	dbRW *sql.DB
	dbRO *sql.DB

	closeDBs bool
}

// Open opens (creating if needed) the ledger database file.
func Open(ctx context.Context, file string) (*Store, error) {
	dbRW, err := sqlite.Open(file)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, dbRW, dbRW)
	if err != nil {
		_ = dbRW.Close()
		return nil, err
	}
	dbRO, err := sqlite.Open(file, sqlite.WithReadOnly(true))
	if err != nil {
		_ = dbRW.Close()
		return nil, err
	}
	s.dbRO = dbRO
	s.closeDBs = true
	return s, nil
}

// New wraps existing handles and creates the tables.
func New(ctx context.Context, dbRW *sql.DB, dbRO *sql.DB) (*Store, error) {
	if err := createTables(ctx, dbRW); err != nil {
		return nil, fmt.Errorf("failed to create run tables: %w", err)
	}
	return &Store{dbRW: dbRW, dbRO: dbRO}, nil
}

// Close closes the handles opened by Open.
func (s *Store) Close() error {
	if s == nil || !s.closeDBs {
		return nil
	}
	return errors.Join(s.dbRO.Close(), s.dbRW.Close())
}

func createTables(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	%s TEXT PRIMARY KEY,
	%s TEXT NOT NULL,
	%s INTEGER NOT NULL,
	%s INTEGER,
	%s INTEGER,
	%s TEXT,
	%s INTEGER NOT NULL
);`, tableRuns,
			columnRunID,
			columnKind,
			columnStarted,
			columnFinished,
			columnExitCode,
			columnHost,
			columnParallelism,
		),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);`,
			tableRuns, columnStarted, tableRuns, columnStarted),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL,
	%s INTEGER NOT NULL,
	%s TEXT NOT NULL,
	%s INTEGER NOT NULL,
	%s TEXT,
	%s INTEGER NOT NULL,
	%s TEXT,
	%s REAL NOT NULL
);`, tableAttempts,
			columnRunID,
			columnTimestamp,
			columnModule,
			columnAttempt,
			columnGPUs,
			columnExitCode,
			columnCrashedNodeID,
			columnDuration,
		),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);`,
			tableAttempts, columnRunID, tableAttempts, columnRunID),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// StartRun inserts a new run and returns its id.
func (s *Store) StartRun(ctx context.Context, kind Kind, parallelism int) (string, error) {
	id := uuid.New().String()
	host, err := os.Hostname()
	if err != nil {
		log.Logger.Warnw("failed to read hostname", "error", err)
	}

	start := time.Now()
	_, err = s.dbRW.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?)",
		tableRuns,
		columnRunID,
		columnKind,
		columnStarted,
		columnHost,
		columnParallelism,
	), id, string(kind), start.UTC().Unix(), host, parallelism)
	sqlite.RecordInsertUpdate(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun stamps the run with its end time and exit code.
func (s *Store) FinishRun(ctx context.Context, runID string, exitCode int) error {
	start := time.Now()
	res, err := s.dbRW.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ?",
		tableRuns,
		columnFinished,
		columnExitCode,
		columnRunID,
	), start.UTC().Unix(), exitCode, runID)
	sqlite.RecordInsertUpdate(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordAttempt inserts one module attempt.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	start := time.Now()
	_, err := s.dbRW.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), ?)",
		tableAttempts,
		columnRunID,
		columnTimestamp,
		columnModule,
		columnAttempt,
		columnGPUs,
		columnExitCode,
		columnCrashedNodeID,
		columnDuration,
	), a.RunID, a.Time.UTC().Unix(), a.Module, a.Attempt, a.GPUs, a.ExitCode, a.CrashedNodeID, a.Duration.Seconds())
	sqlite.RecordInsertUpdate(time.Since(start).Seconds())
	return err
}

// ListRuns returns the latest runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s, %s FROM %s ORDER BY %s DESC, rowid DESC",
		columnRunID,
		columnKind,
		columnStarted,
		columnFinished,
		columnExitCode,
		columnHost,
		columnParallelism,
		tableRuns,
		columnStarted,
	)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := s.dbRO.QueryContext(ctx, query, args...)
	sqlite.RecordSelect(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			kind     string
			started  int64
			finished sql.NullInt64
			exitCode sql.NullInt64
			host     sql.NullString
		)
		if err := rows.Scan(&r.ID, &kind, &started, &finished, &exitCode, &host, &r.Parallelism); err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		r.Started = time.Unix(started, 0).UTC()
		if finished.Valid {
			r.Finished = time.Unix(finished.Int64, 0).UTC()
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		r.Host = host.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Attempts returns the attempts of a run in insertion order.
func (s *Store) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	start := time.Now()
	rows, err := s.dbRO.QueryContext(ctx, fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = ? ORDER BY rowid ASC",
		columnTimestamp,
		columnModule,
		columnAttempt,
		columnGPUs,
		columnExitCode,
		columnCrashedNodeID,
		columnDuration,
		tableAttempts,
		columnRunID,
	), runID)
	sqlite.RecordSelect(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a       Attempt
			ts      int64
			gpus    sql.NullString
			crashed sql.NullString
			secs    float64
		)
		if err := rows.Scan(&ts, &a.Module, &a.Attempt, &gpus, &a.ExitCode, &crashed, &secs); err != nil {
			return nil, err
		}
		a.RunID = runID
		a.Time = time.Unix(ts, 0).UTC()
		a.GPUs = gpus.String
		a.CrashedNodeID = crashed.String
		a.Duration = time.Duration(secs * float64(time.Second))
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
