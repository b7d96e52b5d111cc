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

// Package engine drives a table comparison run: it enqueues the tables,
// spins up the worker pool, and aggregates the differences the workers
// find.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/tsync-io/tsync/db/queries"
	"github.com/tsync-io/tsync/internal/queue"
	"github.com/tsync-io/tsync/pkg/config"
	"github.com/tsync-io/tsync/pkg/logger"
	"github.com/tsync-io/tsync/pkg/types"
)

var snapshotTokenRegex = regexp.MustCompile(`^[0-9A-Fa-f]+-[0-9A-Fa-f]+-[0-9A-Fa-f]+$`)

// Engine compares the configured tables between a source and a target
// database.
type Engine struct {
	Cfg    *config.Config
	Source *pgxpool.Pool
	Target *pgxpool.Pool
	TaskID string
	Quiet  bool

	// EnsurePgcrypto installs the pgcrypto extension on both databases
	// before hashing.
	EnsurePgcrypto bool

	tables    []*types.Table
	queue     *queue.SyncQueue
	blockHash map[string]string

	progress *mpb.Progress
	bar      *mpb.Bar

	mu     sync.Mutex
	report types.DiffOutput

	rangesHashed atomic.Int64
	rangesStolen atomic.Int64
	rowsCompared atomic.Int64

	snapshotConn *pgxpool.Conn
	snapshotTx   pgx.Tx
}

// New returns an engine ready to Run over the given tables.
func New(cfg *config.Config, source, target *pgxpool.Pool, tables []*types.Table) *Engine {
	return &Engine{
		Cfg:    cfg,
		Source: source,
		Target: target,
		tables: tables,
		report: types.DiffOutput{
			TableDiffs: make(map[string]types.TableDiff),
			Summary: types.DiffSummary{
				DiffRowsCount: make(map[string]int),
			},
		},
	}
}

// Queue exposes the run's dispatcher, mainly so callers can abort it.
func (e *Engine) Queue() *queue.SyncQueue {
	return e.queue
}

// Run executes the comparison and returns the aggregated diff output. It
// blocks until every table has been checked, the run is aborted, or a
// worker fails.
func (e *Engine) Run(ctx context.Context) (*types.DiffOutput, error) {
	startTime := time.Now()
	workers := e.Cfg.Sync.Workers

	if e.EnsurePgcrypto {
		for _, pool := range []*pgxpool.Pool{e.Source, e.Target} {
			if err := queries.NewQuerier(pool).EnsurePgcrypto(ctx); err != nil {
				return nil, err
			}
		}
	}

	e.blockHash = make(map[string]string, len(e.tables))
	var tableIDs []string
	for _, table := range e.tables {
		sql, err := queries.BlockHashSQL(table.Schema, table.Name, table.Key)
		if err != nil {
			return nil, fmt.Errorf("building block-hash SQL for %s: %w", table.ID(), err)
		}
		e.blockHash[table.ID()] = sql
		tableIDs = append(tableIDs, table.ID())
	}

	e.queue = queue.NewSyncQueue(workers)

	if err := e.exportSnapshot(ctx); err != nil {
		logger.Warn("running without a pinned snapshot: %v", err)
	}
	defer e.releaseSnapshot()

	e.queue.Enqueue(e.tables)

	out := io.Writer(os.Stderr)
	if e.Quiet {
		out = io.Discard
	}
	e.progress = mpb.New(mpb.WithOutput(out))
	e.bar = e.progress.AddBar(int64(len(e.tables)),
		mpb.PrependDecorators(
			decor.Name("Comparing tables: ", decor.WC{W: 18}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)

	// A cancelled context aborts the queue, which in turn releases every
	// worker from every wait point.
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.queue.Abort()
		case <-watcherDone:
		}
	}()

	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return e.worker(ctx)
		})
	}
	runErr := g.Wait()
	close(watcherDone)

	e.bar.Abort(true)
	e.progress.Wait()

	// Workers treat an abort they observed as a clean exit, so a cancelled
	// context must be surfaced here.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		return nil, runErr
	}

	endTime := time.Now()
	e.report.Summary = types.DiffSummary{
		SourceDB:        e.Cfg.Source.DBName,
		TargetDB:        e.Cfg.Target.DBName,
		Tables:          tableIDs,
		Workers:         workers,
		BlockSize:       e.Cfg.Sync.BlockSize,
		CompareUnitSize: e.Cfg.Sync.CompareUnitSize,
		Snapshot:        e.queue.Snapshot,
		StartTime:       startTime.Format(time.RFC3339),
		EndTime:         endTime.Format(time.RFC3339),
		TimeTaken:       endTime.Sub(startTime).String(),
		DiffRowsCount:   e.report.Summary.DiffRowsCount,
		RangesHashed:    e.rangesHashed.Load(),
		RangesStolen:    e.rangesStolen.Load(),
		RowsCompared:    e.rowsCompared.Load(),
	}

	return &e.report, nil
}

// WriteReport writes the diff output as JSON and returns the file name, or
// "" when there were no differences.
func (e *Engine) WriteReport(out *types.DiffOutput) (string, error) {
	if len(out.TableDiffs) == 0 {
		return "", nil
	}

	fileName := fmt.Sprintf("tsync_diffs-%s.json", time.Now().Format("20060102150405"))
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal diffs: %w", err)
	}
	if err := os.WriteFile(fileName, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write diffs file: %w", err)
	}
	return fileName, nil
}

// exportSnapshot pins a repeatable-read transaction on the source and
// publishes its snapshot token on the queue. The transaction is held open
// for the whole run; hash queries on the source attach to the token so all
// workers see one consistent view.
func (e *Engine) exportSnapshot(ctx context.Context) error {
	conn, err := e.Source.Acquire(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		conn.Release()
		return err
	}

	snapshot, err := queries.NewQuerier(tx).ExportSnapshot(ctx)
	if err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return err
	}
	if !snapshotTokenRegex.MatchString(snapshot) {
		_ = tx.Rollback(ctx)
		conn.Release()
		return fmt.Errorf("unexpected snapshot token %q", snapshot)
	}

	e.snapshotConn = conn
	e.snapshotTx = tx
	e.queue.Snapshot = snapshot
	logger.Debug("exported snapshot %s", snapshot)
	return nil
}

func (e *Engine) releaseSnapshot() {
	if e.snapshotTx != nil {
		_ = e.snapshotTx.Rollback(context.Background())
		e.snapshotTx = nil
	}
	if e.snapshotConn != nil {
		e.snapshotConn.Release()
		e.snapshotConn = nil
	}
}
