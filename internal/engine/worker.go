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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tsync-io/tsync/internal/queue"
	"github.com/tsync-io/tsync/pkg/logger"
	"github.com/tsync-io/tsync/pkg/types"
)

// worker claims work until the queue reports the run finished. Any error
// other than an abort it has observed itself is turned into an abort so the
// other workers unblock too.
func (e *Engine) worker(ctx context.Context) error {
	if err := e.queue.WaitAtBarrier(); err != nil {
		return err
	}

	for {
		job, owned, err := e.queue.Claim()
		if err != nil {
			if errors.Is(err, queue.ErrAborted) {
				return nil
			}
			return err
		}
		if job == nil {
			return nil
		}

		if owned {
			err = e.processTable(ctx, job)
		} else {
			err = e.processBorrowed(ctx, job)
		}
		if err != nil {
			e.queue.Abort()
			if errors.Is(err, queue.ErrAborted) {
				return nil
			}
			return err
		}
	}
}

// processTable drives one table to completion: it seeds the first range
// check, then alternates between retrieving mismatched ranges, hashing
// ready ranges, and waiting out ranges borrowed by other workers.
func (e *Engine) processTable(ctx context.Context, job *queue.TableJob) error {
	job.Start()
	logger.Debug("comparing table %s", job.TableID)

	if job.AddChecks(e.seedCheck(job.Table)) {
		e.queue.Share(job)
	}

	for {
		if err := e.queue.CheckAborted(); err != nil {
			return err
		}

		if kr, ok := job.NextRetrieve(); ok {
			if err := e.compareRows(ctx, job.Table, kr); err != nil {
				return err
			}
			continue
		}

		if rc, ok := job.TakeCheck(); ok {
			err := e.checkRange(ctx, job, rc)
			job.FinishCheck()
			if err != nil {
				return err
			}
			continue
		}

		if job.Drained() {
			break
		}
		job.AwaitBorrowed(e.queue.Aborted)
	}

	if err := e.queue.CheckAborted(); err != nil {
		return err
	}

	job.Finish()
	e.queue.Completed(job)
	e.bar.Increment()
	logger.Debug("finished table %s in %s", job.TableID, job.TimeFinished.Sub(job.TimeStarted))
	return nil
}

// processBorrowed steals exactly one ready range from a table owned by
// another worker.
func (e *Engine) processBorrowed(ctx context.Context, job *queue.TableJob) error {
	rc, ok := job.TakeCheck()
	if !ok {
		// The owner or another borrower got there first.
		return nil
	}
	e.rangesStolen.Add(1)
	logger.Debug("stole a range of %s (%d still ready)", job.TableID, job.PendingChecks())

	err := e.checkRange(ctx, job, rc)
	job.FinishCheck()
	return err
}

// seedCheck covers the table's whole key space with a single range check.
// One matching hash proves the table equal; a mismatch narrows from there.
func (e *Engine) seedCheck(table *types.Table) types.RangeCheck {
	estimate := types.UnknownRowCount
	if table.EstimatedRows > 0 {
		estimate = uint64(table.EstimatedRows)
	}
	return types.RangeCheck{
		Range:         types.KeyRange{},
		EstimatedRows: estimate,
		RowsToHash:    uint64(e.clampedBlockSize()),
		Priority:      0,
	}
}

// clampedBlockSize bounds the block size by the configured min/max. Command
// line overrides can push block_size outside the validated range.
func (e *Engine) clampedBlockSize() int {
	size := e.Cfg.Sync.BlockSize
	if min := e.Cfg.Sync.MinBlockSize; min > 0 && size < min {
		size = min
	}
	if max := e.Cfg.Sync.MaxBlockSize; max > 0 && size > max {
		size = max
	}
	return size
}

// checkRange hashes one range on both databases. On mismatch it either
// splits the range in two at the median key, re-queueing the halves as
// higher-priority checks, or, once the range is small enough (or the key is
// not splittable), queues it for row retrieval by the owning worker.
func (e *Engine) checkRange(ctx context.Context, job *queue.TableJob, rc types.RangeCheck) error {
	srcHash, err := e.hashRange(ctx, e.Source, job.Table, rc.Range, true)
	if err != nil {
		return err
	}
	tgtHash, err := e.hashRange(ctx, e.Target, job.Table, rc.Range, false)
	if err != nil {
		return err
	}
	e.rangesHashed.Add(1)

	if srcHash == tgtHash {
		return nil
	}

	if job.Subdividable {
		children, err := e.splitCheck(ctx, job.Table, rc)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			if job.AddChecks(children...) {
				e.queue.Share(job)
			}
			return nil
		}
	}

	job.QueueRetrieve(rc.Range)
	return nil
}

// splitCheck divides a mismatched range in two at its median key on the
// source. It returns no children when the range is already small enough to
// compare row by row, or when a usable split point cannot be found.
func (e *Engine) splitCheck(ctx context.Context, table *types.Table, rc types.RangeCheck) ([]types.RangeCheck, error) {
	count, err := e.countRange(ctx, table, rc.Range)
	if err != nil {
		return nil, err
	}
	if count <= uint64(e.Cfg.Sync.CompareUnitSize) || count < 2 {
		return nil, nil
	}

	median, err := e.medianKey(ctx, table, rc.Range, count/2)
	if err != nil {
		return nil, err
	}
	if median == nil {
		return nil, nil
	}

	half := count / 2
	budget := rc.RowsToHash / 2
	if budget == 0 {
		budget = 1
	}

	return []types.RangeCheck{
		{
			Range:         types.KeyRange{Lower: rc.Range.Lower, Upper: median},
			EstimatedRows: half,
			RowsToHash:    budget,
			Priority:      rc.Priority + 1,
		},
		{
			Range:         types.KeyRange{Lower: median, Upper: rc.Range.Upper},
			EstimatedRows: count - half,
			RowsToHash:    budget,
			Priority:      rc.Priority + 1,
		},
	}, nil
}

// hashRange computes the block hash of a range on one database. Source-side
// hashes run inside a transaction attached to the run's exported snapshot,
// so every worker sees the same source data.
func (e *Engine) hashRange(ctx context.Context, pool *pgxpool.Pool, table *types.Table, kr types.KeyRange, onSource bool) (string, error) {
	sql := e.blockHash[table.ID()]
	args := hashArgs(table.Key, kr)

	var hash string
	if onSource && e.queue.Snapshot != "" {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.RepeatableRead,
			AccessMode: pgx.ReadOnly,
		})
		if err != nil {
			return "", fmt.Errorf("beginning snapshot transaction for %s: %w", table.ID(), err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, fmt.Sprintf("SET TRANSACTION SNAPSHOT '%s'", e.queue.Snapshot)); err != nil {
			return "", fmt.Errorf("attaching to snapshot for %s: %w", table.ID(), err)
		}
		if err := tx.QueryRow(ctx, sql, args...).Scan(&hash); err != nil {
			return "", fmt.Errorf("hashing range of %s: %w", table.ID(), err)
		}
		return hash, tx.Commit(ctx)
	}

	if err := pool.QueryRow(ctx, sql, args...).Scan(&hash); err != nil {
		return "", fmt.Errorf("hashing range of %s: %w", table.ID(), err)
	}
	return hash, nil
}

func (e *Engine) countRange(ctx context.Context, table *types.Table, kr types.KeyRange) (uint64, error) {
	sql, args := countRangeSQL(table, kr)

	var count int64
	if err := e.Source.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting range of %s: %w", table.ID(), err)
	}
	return uint64(count), nil
}

// medianKey returns the primary key values offset rows into the range, or
// nil when the range runs out before the offset.
func (e *Engine) medianKey(ctx context.Context, table *types.Table, kr types.KeyRange, offset uint64) ([]any, error) {
	sql, args := medianKeySQL(table, kr, offset)

	dest := make([]any, len(table.Key))
	ptrs := make([]any, len(table.Key))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	if err := e.Source.QueryRow(ctx, sql, args...).Scan(ptrs...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding median key of %s: %w", table.ID(), err)
	}
	return dest, nil
}
