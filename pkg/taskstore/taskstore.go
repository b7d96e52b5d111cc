// ///////////////////////////////////////////////////////////////////////////
//
// # TSYNC - Table Sync Engine
//
// Copyright (C) 2024 - 2026, the TSYNC authors
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

// Package taskstore persists per-run records in a local sqlite database so
// past comparisons can be inspected after the fact.
package taskstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const (
	TaskTypeTableDiff     = "TABLE_DIFF"
	TaskTypeScheduledDiff = "SCHEDULED_DIFF"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS tsync_runs (
    task_id        TEXT PRIMARY KEY,
    task_type      TEXT NOT NULL,
    task_status    TEXT NOT NULL,
    source_db      TEXT NOT NULL,
    target_db      TEXT NOT NULL,
    schema         TEXT,
    tables         TEXT,
    diff_file_path TEXT,
    task_context   TEXT,
    started_at     TEXT,
    finished_at    TEXT,
    time_taken     REAL
);`

var ErrNotFound = errors.New("run not found")

// Store wraps the sqlite database holding run records.
type Store struct {
	db *sql.DB
}

// Record is one comparison run.
type Record struct {
	TaskID       string
	TaskType     string
	Status       string
	SourceDB     string
	TargetDB     string
	SchemaName   string
	Tables       []string
	DiffFilePath string
	StartedAt    time.Time
	FinishedAt   time.Time
	TimeTaken    float64
	TaskContext  map[string]any
}

// New opens (and if necessary creates) the run store at path. An empty path
// falls back to the TSYNC_TASKS_DB environment variable, then to
// ./tsync_tasks.db.
func New(path string) (*Store, error) {
	sqlitePath := resolvePath(path)
	if err := ensureDir(sqlitePath); err != nil {
		return nil, fmt.Errorf("creating sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if _, err := s.db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring tsync_runs schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Create(rec Record) error {
	if err := rec.validateForCreate(); err != nil {
		return err
	}
	ctxVal, err := jsonOrNil(rec.TaskContext)
	if err != nil {
		return fmt.Errorf("marshalling task context: %w", err)
	}
	tablesVal, err := jsonOrNil(rec.Tables)
	if err != nil {
		return fmt.Errorf("marshalling table list: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO tsync_runs (
            task_id, task_type, task_status, source_db, target_db,
            schema, tables, diff_file_path, task_context,
            started_at, finished_at, time_taken
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID,
		rec.TaskType,
		rec.Status,
		rec.SourceDB,
		rec.TargetDB,
		nullableString(rec.SchemaName),
		tablesVal,
		nullableString(rec.DiffFilePath),
		ctxVal,
		timeOrNil(rec.StartedAt),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *Store) Update(rec Record) error {
	if strings.TrimSpace(rec.TaskID) == "" {
		return errors.New("task id is required")
	}
	ctxVal, err := jsonOrNil(rec.TaskContext)
	if err != nil {
		return fmt.Errorf("marshalling task context: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE tsync_runs SET
            task_status = ?,
            diff_file_path = ?,
            task_context = ?,
            finished_at = ?,
            time_taken = ?
        WHERE task_id = ?`,
		rec.Status,
		nullableString(rec.DiffFilePath),
		ctxVal,
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
		rec.TaskID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Get(taskID string) (Record, error) {
	if strings.TrimSpace(taskID) == "" {
		return Record{}, errors.New("task id is required")
	}

	row := s.db.QueryRow(
		`SELECT task_id, task_type, task_status, source_db, target_db,
                schema, tables, diff_file_path, task_context,
                started_at, finished_at, time_taken
         FROM tsync_runs WHERE task_id = ?`, taskID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("fetching run %s: %w", taskID, err)
	}
	return rec, nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT task_id, task_type, task_status, source_db, target_db,
                schema, tables, diff_file_path, task_context,
                started_at, finished_at, time_taken
         FROM tsync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		schemaName sql.NullString
		tables     sql.NullString
		diffFile   sql.NullString
		ctxVal     sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
	)

	if err := row.Scan(
		&rec.TaskID,
		&rec.TaskType,
		&rec.Status,
		&rec.SourceDB,
		&rec.TargetDB,
		&schemaName,
		&tables,
		&diffFile,
		&ctxVal,
		&startedAt,
		&finishedAt,
		&rec.TimeTaken,
	); err != nil {
		return Record{}, err
	}

	rec.SchemaName = schemaName.String
	rec.DiffFilePath = diffFile.String
	if tables.Valid && tables.String != "" {
		_ = json.Unmarshal([]byte(tables.String), &rec.Tables)
	}
	if ctxVal.Valid && strings.TrimSpace(ctxVal.String) != "" {
		_ = json.Unmarshal([]byte(ctxVal.String), &rec.TaskContext)
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = t
		}
	}
	return rec, nil
}

func (r Record) validateForCreate() error {
	if strings.TrimSpace(r.TaskID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(r.TaskType) == "" {
		return errors.New("task type is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("task status is required")
	}
	if strings.TrimSpace(r.SourceDB) == "" || strings.TrimSpace(r.TargetDB) == "" {
		return errors.New("source and target database names are required")
	}
	return nil
}

func resolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("TSYNC_TASKS_DB"); strings.TrimSpace(env) != "" {
		return env
	}
	return filepath.Join(".", "tsync_tasks.db")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func jsonOrNil(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(blob), nil
}

func nullableString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
