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

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tsync-io/tsync/pkg/types"
)

func testTable(name string) *types.Table {
	return &types.Table{
		Schema:       "public",
		Name:         name,
		Key:          []string{"id"},
		Cols:         []string{"id", "value"},
		Subdividable: true,
	}
}

func checkWithPriority(p int) types.RangeCheck {
	return types.RangeCheck{
		Range:         types.KeyRange{Lower: []any{int64(p)}, Upper: []any{int64(p + 10)}},
		EstimatedRows: 10,
		RowsToHash:    10,
		Priority:      p,
	}
}

func TestTakeCheckPriorityOrder(t *testing.T) {
	job := NewTableJob(testTable("t1"))
	job.AddChecks(checkWithPriority(1), checkWithPriority(5), checkWithPriority(3), checkWithPriority(5))

	var priorities []int
	for {
		rc, ok := job.TakeCheck()
		if !ok {
			break
		}
		priorities = append(priorities, rc.Priority)
	}

	require.Equal(t, []int{5, 5, 3, 1}, priorities)
}

func TestPendingChecksTracksReadyRanges(t *testing.T) {
	job := NewTableJob(testTable("t1"))
	require.Equal(t, 0, job.PendingChecks())

	job.AddChecks(checkWithPriority(1), checkWithPriority(2), checkWithPriority(3))
	require.Equal(t, 3, job.PendingChecks())

	_, ok := job.TakeCheck()
	require.True(t, ok)
	require.Equal(t, 2, job.PendingChecks())
}

func TestTakeCheckAlwaysYieldsCurrentMaximum(t *testing.T) {
	job := NewTableJob(testTable("t1"))
	job.AddChecks(checkWithPriority(2))
	job.AddChecks(checkWithPriority(7))

	rc, ok := job.TakeCheck()
	require.True(t, ok)
	require.Equal(t, 7, rc.Priority)

	// A higher-priority range added later still wins over an older one.
	job.AddChecks(checkWithPriority(9))
	rc, ok = job.TakeCheck()
	require.True(t, ok)
	require.Equal(t, 9, rc.Priority)

	rc, ok = job.TakeCheck()
	require.True(t, ok)
	require.Equal(t, 2, rc.Priority)
}

func TestAddChecksPublishSignal(t *testing.T) {
	job := NewTableJob(testTable("t1"))

	// Before sharing mode, transitions are never published.
	require.False(t, job.AddChecks(checkWithPriority(1)))

	job.Mu.Lock()
	job.NotifyWhenShareable = true
	job.Mu.Unlock()

	// Non-empty to non-empty: no publish.
	require.False(t, job.AddChecks(checkWithPriority(2)))

	_, ok := job.TakeCheck()
	require.True(t, ok)
	_, ok = job.TakeCheck()
	require.True(t, ok)

	// Empty to non-empty after sharing began: publish.
	require.True(t, job.AddChecks(checkWithPriority(3)))
}

func TestHashCommandCounters(t *testing.T) {
	job := NewTableJob(testTable("t1"))
	job.AddChecks(checkWithPriority(1), checkWithPriority(2))

	_, ok := job.TakeCheck()
	require.True(t, ok)
	_, ok = job.TakeCheck()
	require.True(t, ok)

	job.Mu.Lock()
	require.Equal(t, uint64(2), job.HashCommands)
	require.Equal(t, uint64(0), job.HashCommandsCompleted)
	require.LessOrEqual(t, job.HashCommandsCompleted, job.HashCommands)
	job.Mu.Unlock()

	require.False(t, job.Drained())

	job.FinishCheck()
	job.FinishCheck()

	job.Mu.Lock()
	require.Equal(t, job.HashCommands, job.HashCommandsCompleted)
	job.Mu.Unlock()

	require.True(t, job.Drained())
}

func TestRetrieveQueueIsFIFO(t *testing.T) {
	job := NewTableJob(testTable("t1"))

	first := types.KeyRange{Lower: []any{1}, Upper: []any{10}}
	second := types.KeyRange{Lower: []any{10}, Upper: []any{20}}
	job.QueueRetrieve(first)
	job.QueueRetrieve(second)

	kr, ok := job.NextRetrieve()
	require.True(t, ok)
	require.Equal(t, first, kr)

	kr, ok = job.NextRetrieve()
	require.True(t, ok)
	require.Equal(t, second, kr)

	_, ok = job.NextRetrieve()
	require.False(t, ok)

	job.Mu.Lock()
	require.Equal(t, uint64(2), job.RowsCommands)
	job.Mu.Unlock()
}

func TestAwaitBorrowedWakesOnCompletion(t *testing.T) {
	job := NewTableJob(testTable("t1"))
	job.AddChecks(checkWithPriority(1))

	// Simulate a borrower holding the only range.
	_, ok := job.TakeCheck()
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		job.AwaitBorrowed(func() bool { return false })
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("AwaitBorrowed returned before the borrowed range completed")
	default:
	}

	job.FinishCheck()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitBorrowed never woke after FinishCheck")
	}
}

func TestAwaitBorrowedWakesOnNewWork(t *testing.T) {
	job := NewTableJob(testTable("t1"))
	job.AddChecks(checkWithPriority(1))
	_, ok := job.TakeCheck()
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		job.AwaitBorrowed(func() bool { return false })
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	// A borrower pushing children back onto the job must wake the owner.
	job.AddChecks(checkWithPriority(2))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitBorrowed never woke after new work arrived")
	}
}

func TestSubdividableFixedAtConstruction(t *testing.T) {
	table := testTable("t1")
	table.Subdividable = false
	job := NewTableJob(table)
	require.False(t, job.Subdividable)

	table.Subdividable = true
	require.False(t, job.Subdividable, "job flag must be frozen at construction")
}
