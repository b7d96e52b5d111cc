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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tsync-io/tsync/pkg/config"
	"github.com/tsync-io/tsync/pkg/taskstore"
	"github.com/tsync-io/tsync/pkg/types"
)

func testEngine() *Engine {
	return New(config.Defaults(), nil, nil, nil)
}

func TestSeedCheckCoversWholeTable(t *testing.T) {
	e := testEngine()
	table := ordersTable()
	table.EstimatedRows = 5000

	rc := e.seedCheck(table)

	require.Nil(t, rc.Range.Lower)
	require.Nil(t, rc.Range.Upper)
	require.Equal(t, uint64(5000), rc.EstimatedRows)
	require.Equal(t, uint64(e.Cfg.Sync.BlockSize), rc.RowsToHash)
	require.Equal(t, 0, rc.Priority)
}

func TestSeedCheckUnknownEstimate(t *testing.T) {
	e := testEngine()
	table := ordersTable()
	table.EstimatedRows = 0

	rc := e.seedCheck(table)

	require.Equal(t, types.UnknownRowCount, rc.EstimatedRows)
}

func TestSeedCheckClampsBlockSize(t *testing.T) {
	e := testEngine()
	table := ordersTable()

	e.Cfg.Sync.BlockSize = 10
	rc := e.seedCheck(table)
	require.Equal(t, uint64(e.Cfg.Sync.MinBlockSize), rc.RowsToHash)

	e.Cfg.Sync.BlockSize = 50000000
	rc = e.seedCheck(table)
	require.Equal(t, uint64(e.Cfg.Sync.MaxBlockSize), rc.RowsToHash)
}

func TestNewDiffTaskStartsPending(t *testing.T) {
	task := NewDiffTask(config.Defaults())

	require.NotEmpty(t, task.TaskID)
	require.Equal(t, taskstore.TaskTypeTableDiff, task.TaskType)
	require.Equal(t, taskstore.StatusPending, task.TaskStatus)
	require.Equal(t, "public", task.Schema)
}

func TestCloneResetsLifecycle(t *testing.T) {
	task := NewDiffTask(config.Defaults())
	task.Tables = []string{"orders"}
	task.TaskStatus = taskstore.StatusCompleted
	task.StartedAt = time.Now()
	task.FinishedAt = time.Now()
	task.TimeTaken = 3.5

	clone := task.Clone()

	require.NotEqual(t, task.TaskID, clone.TaskID)
	require.Equal(t, taskstore.StatusPending, clone.TaskStatus)
	require.True(t, clone.StartedAt.IsZero())
	require.True(t, clone.FinishedAt.IsZero())
	require.Zero(t, clone.TimeTaken)
	require.Equal(t, task.Tables, clone.Tables)

	// The clone's table list is its own.
	clone.Tables[0] = "users"
	require.Equal(t, "orders", task.Tables[0])
}

func TestRecordDiffsMergesAcrossRanges(t *testing.T) {
	e := testEngine()

	e.recordDiffs("public.orders",
		[]map[string]any{{"id": int64(1)}},
		nil)
	e.recordDiffs("public.orders",
		[]map[string]any{{"id": int64(2)}},
		[]map[string]any{{"id": int64(2), "amount": int64(9)}})

	diff := e.report.TableDiffs["public.orders"]
	require.Len(t, diff.Rows["source"], 2)
	require.Len(t, diff.Rows["target"], 1)
	require.Equal(t, 3, e.report.Summary.DiffRowsCount["public.orders"])
}

func TestRecordDiffsSeparatesTables(t *testing.T) {
	e := testEngine()

	e.recordDiffs("public.orders", []map[string]any{{"id": int64(1)}}, nil)
	e.recordDiffs("public.users", nil, []map[string]any{{"id": int64(8)}})

	require.Len(t, e.report.TableDiffs, 2)
	require.Equal(t, 1, e.report.Summary.DiffRowsCount["public.orders"])
	require.Equal(t, 1, e.report.Summary.DiffRowsCount["public.users"])
}

func TestRowsEqual(t *testing.T) {
	a := map[string]any{"id": int64(1), "name": "x", "tags": []any{"a", "b"}}
	b := map[string]any{"id": int64(1), "name": "x", "tags": []any{"a", "b"}}
	c := map[string]any{"id": int64(1), "name": "x", "tags": []any{"a"}}

	require.True(t, rowsEqual(a, b))
	require.False(t, rowsEqual(a, c))
}
