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
	"reflect"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tsync-io/tsync/pkg/types"
)

// compareRows fetches the rows of a mismatched range from both databases
// and records the differing ones. Only the owning worker calls this, so the
// per-table report section needs no coordination beyond the engine mutex.
func (e *Engine) compareRows(ctx context.Context, table *types.Table, kr types.KeyRange) error {
	srcRows, err := e.fetchRows(ctx, e.Source, table, kr)
	if err != nil {
		return err
	}
	tgtRows, err := e.fetchRows(ctx, e.Target, table, kr)
	if err != nil {
		return err
	}
	e.rowsCompared.Add(int64(len(srcRows) + len(tgtRows)))

	var sourceDiff, targetDiff []map[string]any

	for key, srcRow := range srcRows {
		tgtRow, exists := tgtRows[key]
		if !exists {
			sourceDiff = append(sourceDiff, srcRow)
			continue
		}
		if !rowsEqual(srcRow, tgtRow) {
			sourceDiff = append(sourceDiff, srcRow)
			targetDiff = append(targetDiff, tgtRow)
		}
	}
	for key, tgtRow := range tgtRows {
		if _, exists := srcRows[key]; !exists {
			targetDiff = append(targetDiff, tgtRow)
		}
	}

	if len(sourceDiff) > 0 || len(targetDiff) > 0 {
		e.recordDiffs(table.ID(), sourceDiff, targetDiff)
	}
	return nil
}

// fetchRows loads the rows of a key range keyed by stringified primary key.
func (e *Engine) fetchRows(ctx context.Context, pool *pgxpool.Pool, table *types.Table, kr types.KeyRange) (map[string]map[string]any, error) {
	sql, args := fetchRowsSQL(table, kr)

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching rows of %s: %w", table.ID(), err)
	}
	defer rows.Close()

	result := make(map[string]map[string]any)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row of %s: %w", table.ID(), err)
		}
		row := make(map[string]any, len(table.Cols))
		for i, col := range table.Cols {
			row[col] = values[i]
		}
		result[stringifyKey(row, table.Key)] = row
	}
	return result, rows.Err()
}

func rowsEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(a, b)
}

// recordDiffs merges one range's differing rows into the run report.
func (e *Engine) recordDiffs(tableID string, sourceDiff, targetDiff []map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	diff, exists := e.report.TableDiffs[tableID]
	if !exists {
		diff = types.TableDiff{Rows: map[string][]map[string]any{
			"source": nil,
			"target": nil,
		}}
	}
	diff.Rows["source"] = append(diff.Rows["source"], sourceDiff...)
	diff.Rows["target"] = append(diff.Rows["target"], targetDiff...)
	e.report.TableDiffs[tableID] = diff

	e.report.Summary.DiffRowsCount[tableID] += len(sourceDiff) + len(targetDiff)
}
