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
	"container/heap"
	"sync"
	"time"

	"github.com/tsync-io/tsync/pkg/types"
)

// rangeHeap is a max-heap of pending range checks keyed by priority.
type rangeHeap []types.RangeCheck

func (h rangeHeap) Len() int            { return len(h) }
func (h rangeHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h rangeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *rangeHeap) Push(x any)         { *h = append(*h, x.(types.RangeCheck)) }
func (h *rangeHeap) Pop() any {
	old := *h
	n := len(old)
	rc := old[n-1]
	*h = old[:n-1]
	return rc
}

// TableJob is the per-table work state shared between the worker that owns
// the table, any worker borrowing one of its ready ranges, and the queue.
// It carries its own lock and wake signal, independent of the queue's
// global ones; when both are needed the global lock is always taken first.
type TableJob struct {
	Table   *types.Table
	TableID string // cached

	// Subdividable never changes after construction.
	Subdividable bool

	Mu sync.Mutex
	// BorrowedTaskCompleted wakes the owning worker when a borrowed range
	// finishes (or when the run aborts) so it can re-check whether the
	// table is drained.
	BorrowedTaskCompleted *sync.Cond

	rangesToRetrieve []types.KeyRange
	rangesToCheck    rangeHeap

	// NotifyWhenShareable is set by the queue once sharing mode begins.
	// While set, a transition from no ready ranges to some ready ranges
	// must be published back to the queue via Share.
	NotifyWhenShareable bool

	TimeStarted  time.Time
	TimeFinished time.Time

	HashCommands          uint64
	HashCommandsCompleted uint64
	RowsCommands          uint64
}

// NewTableJob wraps a catalog table in a fresh job.
func NewTableJob(table *types.Table) *TableJob {
	j := &TableJob{
		Table:        table,
		TableID:      table.ID(),
		Subdividable: table.Subdividable,
	}
	j.BorrowedTaskCompleted = sync.NewCond(&j.Mu)
	return j
}

// HasShareableWork reports whether the job currently holds ranges ready to
// check. This is the only queue-visible view into the job's queues.
func (j *TableJob) HasShareableWork() bool {
	j.Mu.Lock()
	defer j.Mu.Unlock()
	return j.hasShareableWork()
}

// hasShareableWork must be called with Mu held.
func (j *TableJob) hasShareableWork() bool {
	return len(j.rangesToCheck) > 0
}

// AddChecks queues ranges ready to be hashed. It reports whether the caller
// must publish the job to the queue: true only when sharing mode has begun
// and the ready set went from empty to non-empty.
func (j *TableJob) AddChecks(checks ...types.RangeCheck) bool {
	j.Mu.Lock()
	defer j.Mu.Unlock()

	wasEmpty := len(j.rangesToCheck) == 0
	for _, rc := range checks {
		heap.Push(&j.rangesToCheck, rc)
	}
	// Children appended by a borrower may be what the owner is waiting on.
	j.BorrowedTaskCompleted.Broadcast()
	return j.NotifyWhenShareable && wasEmpty && len(j.rangesToCheck) > 0
}

// TakeCheck pops the highest-priority ready range and counts the hash
// command as issued. ok is false when nothing is ready.
func (j *TableJob) TakeCheck() (rc types.RangeCheck, ok bool) {
	j.Mu.Lock()
	defer j.Mu.Unlock()

	if len(j.rangesToCheck) == 0 {
		return types.RangeCheck{}, false
	}
	rc = heap.Pop(&j.rangesToCheck).(types.RangeCheck)
	j.HashCommands++
	return rc, true
}

// FinishCheck counts a hash command as completed and wakes the owning
// worker, which may be waiting for borrowed ranges to drain.
func (j *TableJob) FinishCheck() {
	j.Mu.Lock()
	defer j.Mu.Unlock()

	j.HashCommandsCompleted++
	j.BorrowedTaskCompleted.Broadcast()
}

// QueueRetrieve appends a range whose rows must be fetched and compared by
// the owning worker.
func (j *TableJob) QueueRetrieve(kr types.KeyRange) {
	j.Mu.Lock()
	defer j.Mu.Unlock()

	j.rangesToRetrieve = append(j.rangesToRetrieve, kr)
	j.BorrowedTaskCompleted.Broadcast()
}

// NextRetrieve pops the oldest queued retrieval and counts the row-fetch
// command as issued.
func (j *TableJob) NextRetrieve() (kr types.KeyRange, ok bool) {
	j.Mu.Lock()
	defer j.Mu.Unlock()

	if len(j.rangesToRetrieve) == 0 {
		return types.KeyRange{}, false
	}
	kr = j.rangesToRetrieve[0]
	j.rangesToRetrieve = j.rangesToRetrieve[1:]
	j.RowsCommands++
	return kr, true
}

// Drained reports whether the table has no ranges left anywhere: nothing
// ready to check, nothing to retrieve, and no borrowed range in flight.
func (j *TableJob) Drained() bool {
	j.Mu.Lock()
	defer j.Mu.Unlock()

	return len(j.rangesToCheck) == 0 &&
		len(j.rangesToRetrieve) == 0 &&
		j.HashCommandsCompleted >= j.HashCommands
}

// AwaitBorrowed blocks the owning worker until a borrowed range completes,
// new work appears on the job, or the run aborts. The caller re-checks its
// drain condition after every wakeup.
func (j *TableJob) AwaitBorrowed(aborted func() bool) {
	j.Mu.Lock()
	defer j.Mu.Unlock()

	for len(j.rangesToCheck) == 0 &&
		len(j.rangesToRetrieve) == 0 &&
		j.HashCommandsCompleted < j.HashCommands &&
		!aborted() {
		j.BorrowedTaskCompleted.Wait()
	}
}

// Start records the moment the owning worker began driving the table.
func (j *TableJob) Start() {
	j.Mu.Lock()
	defer j.Mu.Unlock()
	j.TimeStarted = time.Now()
}

// Finish records the moment the table was fully checked.
func (j *TableJob) Finish() {
	j.Mu.Lock()
	defer j.Mu.Unlock()
	j.TimeFinished = time.Now()
}

// PendingChecks returns how many ranges are currently ready to check.
func (j *TableJob) PendingChecks() int {
	j.Mu.Lock()
	defer j.Mu.Unlock()
	return len(j.rangesToCheck)
}
