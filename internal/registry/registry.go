package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

var (
	// ErrSchemaMismatch indicates the database was created by an incompatible version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	ErrRunNotFound    = errors.New("training run not found")
)

// Run is a recorded training run.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	DatasetPath   string
	RawRows       int
	CleanedRows   int
	Cap           float64 // NaN when nothing survived cleaning
	Contamination float64
	F1            *float64
	Degraded      bool
	ArtifactPath  string
	Candidates    []Candidate
}

// Candidate is one swept contamination value of a run.
type Candidate struct {
	Position      int
	Contamination float64
	F1            *float64
}

// Store persists training runs in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the registry database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// RecordRun stores run and its candidates atomically.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO training_runs (
            id, started_at, finished_at, dataset_path, raw_rows, cleaned_rows,
            cap, contamination, f1, degraded, artifact_path
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.DatasetPath,
		run.RawRows,
		run.CleanedRows,
		nullableFloat(run.Cap),
		run.Contamination,
		nullableF1(run.F1),
		run.Degraded,
		run.ArtifactPath,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, c := range run.Candidates {
		_, err := tx.ExecContext(
			ctx,
			"INSERT INTO run_candidates (run_id, position, contamination, f1) VALUES (?, ?, ?, ?)",
			run.ID, c.Position, c.Contamination, nullableF1(c.F1),
		)
		if err != nil {
			return fmt.Errorf("insert candidate %d: %w", c.Position, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, started_at, finished_at, dataset_path, raw_rows, cleaned_rows,
    cap, contamination, f1, degraded, artifact_path`

// ListRuns returns up to limit runs, newest first. Candidates are not loaded.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM training_runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the run with the given id including its candidates.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM training_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	} else if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT position, contamination, f1 FROM run_candidates WHERE run_id = ? ORDER BY position", id)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Candidate
		var f1 sql.NullFloat64
		if err := rows.Scan(&c.Position, &c.Contamination, &f1); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.F1 = fromNullable(f1)
		run.Candidates = append(run.Candidates, c)
	}
	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                 Run
		startedAt, finished string
		capValue, f1        sql.NullFloat64
	)
	err := row.Scan(
		&run.ID, &startedAt, &finished, &run.DatasetPath, &run.RawRows, &run.CleanedRows,
		&capValue, &run.Contamination, &f1, &run.Degraded, &run.ArtifactPath,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	run.Cap = math.NaN()
	if capValue.Valid {
		run.Cap = capValue.Float64
	}
	run.F1 = fromNullable(f1)
	return &run, nil
}

func nullableFloat(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func nullableF1(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
