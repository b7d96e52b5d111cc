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

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tsync-io/tsync/internal/auth"
	"github.com/tsync-io/tsync/internal/catalog"
	"github.com/tsync-io/tsync/pkg/config"
	"github.com/tsync-io/tsync/pkg/logger"
	"github.com/tsync-io/tsync/pkg/taskstore"
	"github.com/tsync-io/tsync/pkg/types"
)

// DiffTask is one end-to-end comparison run: connect, load the catalog,
// compare, report, and record the run in the task store.
type DiffTask struct {
	types.Task

	Schema string
	Tables []string

	EnsurePgcrypto bool
	QuietMode      bool

	Cfg      *config.Config
	Recorder *taskstore.Recorder
}

// NewDiffTask returns a pending task with a fresh ID over the given
// configuration.
func NewDiffTask(cfg *config.Config) *DiffTask {
	return &DiffTask{
		Task: types.Task{
			TaskID:     uuid.NewString(),
			TaskType:   taskstore.TaskTypeTableDiff,
			TaskStatus: taskstore.StatusPending,
		},
		Schema: "public",
		Cfg:    cfg,
	}
}

func (t *DiffTask) Validate() error {
	if t.Cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}
	if strings.TrimSpace(t.Schema) == "" {
		return fmt.Errorf("schema name is required")
	}
	if t.Cfg.Source.DBName == "" || t.Cfg.Target.DBName == "" {
		return fmt.Errorf("source and target databases must be configured")
	}
	return t.Cfg.Validate()
}

// Clone returns a pending copy with a fresh task ID, for scheduled re-runs.
func (t *DiffTask) Clone() *DiffTask {
	c := *t
	c.TaskID = uuid.NewString()
	c.TaskStatus = taskstore.StatusPending
	c.StartedAt = time.Time{}
	c.FinishedAt = time.Time{}
	c.TimeTaken = 0
	c.Tables = append([]string(nil), t.Tables...)
	return &c
}

// Execute runs the comparison and records its lifecycle in the task store.
func (t *DiffTask) Execute(ctx context.Context) error {
	t.TaskStatus = taskstore.StatusRunning
	t.StartedAt = time.Now()

	rec := taskstore.Record{
		TaskID:     t.TaskID,
		TaskType:   t.TaskType,
		Status:     t.TaskStatus,
		SourceDB:   t.Cfg.Source.DBName,
		TargetDB:   t.Cfg.Target.DBName,
		SchemaName: t.Schema,
		Tables:     t.Tables,
		StartedAt:  t.StartedAt,
	}
	if err := t.Recorder.Create(rec); err != nil {
		logger.Warn("could not record run %s: %v", t.TaskID, err)
	}

	err := t.run(ctx, &rec)

	t.FinishedAt = time.Now()
	t.TimeTaken = t.FinishedAt.Sub(t.StartedAt).Seconds()
	if err != nil {
		t.TaskStatus = taskstore.StatusFailed
	} else {
		t.TaskStatus = taskstore.StatusCompleted
	}
	rec.Status = t.TaskStatus
	rec.FinishedAt = t.FinishedAt
	rec.TimeTaken = t.TimeTaken
	if updateErr := t.Recorder.Update(rec); updateErr != nil {
		logger.Warn("could not update run %s: %v", t.TaskID, updateErr)
	}

	return err
}

func (t *DiffTask) run(ctx context.Context, rec *taskstore.Record) error {
	source, err := auth.Connect(ctx, t.Cfg.Source, t.Cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to source: %w", err)
	}
	defer source.Close()

	target, err := auth.Connect(ctx, t.Cfg.Target, t.Cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to target: %w", err)
	}
	defer target.Close()

	tables, err := catalog.LoadTables(ctx, source, t.Schema, t.Tables)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := catalog.SchemasMatch(ctx, source, target, table); err != nil {
			return err
		}
	}
	rec.Tables = rec.Tables[:0]
	for _, table := range tables {
		rec.Tables = append(rec.Tables, table.ID())
	}

	logger.Info("comparing %d tables in schema %s (%s -> %s) with %d workers",
		len(tables), t.Schema, t.Cfg.Source.DBName, t.Cfg.Target.DBName, t.Cfg.Sync.Workers)

	e := New(t.Cfg, source, target, tables)
	e.TaskID = t.TaskID
	e.Quiet = t.QuietMode
	e.EnsurePgcrypto = t.EnsurePgcrypto

	out, err := e.Run(ctx)
	if err != nil {
		return err
	}

	fileName, err := e.WriteReport(out)
	if err != nil {
		return err
	}
	rec.DiffFilePath = fileName

	if len(out.TableDiffs) == 0 {
		logger.Info("tables match: hashed %d ranges (%d stolen), compared %d rows",
			out.Summary.RangesHashed, out.Summary.RangesStolen, out.Summary.RowsCompared)
		return nil
	}

	total := 0
	for _, n := range out.Summary.DiffRowsCount {
		total += n
	}
	logger.Warn("found %d differing rows across %d tables, diffs written to %s",
		total, len(out.TableDiffs), fileName)
	return nil
}
