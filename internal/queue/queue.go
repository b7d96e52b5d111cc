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

// Package queue distributes table comparison work across a fixed set of
// workers. Whole tables are handed out first; once a worker runs out of
// tables it may steal individual ready ranges from tables still owned by
// other workers, so the run finishes when the slowest range does, not when
// the slowest table does.
package queue

import (
	"github.com/tsync-io/tsync/pkg/types"
)

// SyncQueue is the run-scoped dispatcher. It owns the pending FIFO of
// unclaimed jobs, the set of claimed jobs, and the set of jobs currently
// advertising stealable ranges. All three, plus the one-shot sharing flag,
// are guarded by the embedded barrier's mutex; its condition variable is
// the global wake signal.
type SyncQueue struct {
	*AbortableBarrier

	// Snapshot pins all workers to one consistent view of the source
	// database. Written once before workers start, read-only afterwards.
	Snapshot string

	sharing   bool
	pending   []*TableJob
	claimed   map[*TableJob]struct{}
	shareable map[*TableJob]struct{}
}

// NewSyncQueue returns a queue for the given worker count.
func NewSyncQueue(workers int) *SyncQueue {
	return &SyncQueue{
		AbortableBarrier: NewAbortableBarrier(workers),
		claimed:          make(map[*TableJob]struct{}),
		shareable:        make(map[*TableJob]struct{}),
	}
}

// Enqueue wraps each table in a fresh job and appends it to the pending
// queue. Called once, before workers begin claiming.
func (q *SyncQueue) Enqueue(tables []*types.Table) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, table := range tables {
		q.pending = append(q.pending, NewTableJob(table))
	}
}

// Claim hands work to a worker. With owned true the worker takes the whole
// table: it subdivides, retrieves and checks ranges, and eventually calls
// Completed. With owned false the worker steals exactly one ready range
// from the returned job. A nil job with nil error means the run is
// finished; ErrAborted means it was cancelled.
//
// Claim may block indefinitely while borrowing, released only by new
// shareable work, table completion, or abort.
func (q *SyncQueue) Claim() (job *TableJob, owned bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.aborted.Load() {
		return nil, false, ErrAborted
	}

	if len(q.pending) > 0 {
		job = q.pending[0]
		q.pending = q.pending[1:]
		q.claimed[job] = struct{}{}
		return job, true, nil
	}

	if !q.sharing {
		q.startSharing()
	}
	job, err = q.borrow()
	return job, false, err
}

// Completed retires a job once its table has no ranges left anywhere. If
// this was the last job, every worker blocked in Claim is woken so it can
// observe termination.
func (q *SyncQueue) Completed(job *TableJob) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.shareable, job)
	delete(q.claimed, job)

	if q.finished() {
		q.cond.Broadcast()
	}
}

// Share publishes a job that has just transitioned from no ready ranges to
// some ready ranges, and wakes all blocked borrowers.
func (q *SyncQueue) Share(job *TableJob) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shareable[job] = struct{}{}
	q.cond.Broadcast()
}

// Abort cancels the run. Beyond the barrier-level cancellation it wakes any
// owner blocked waiting for a borrowed range on a claimed job, so nobody is
// left hanging on a per-job signal. Returns the barrier's result: true for
// exactly one caller.
func (q *SyncQueue) Abort() bool {
	result := q.AbortableBarrier.Abort()

	q.mu.Lock()
	defer q.mu.Unlock()

	for job := range q.claimed {
		job.Mu.Lock()
		job.BorrowedTaskCompleted.Broadcast()
		job.Mu.Unlock()
	}

	return result
}

// finished must be called with the global lock held.
func (q *SyncQueue) finished() bool {
	return len(q.pending) == 0 && len(q.claimed) == 0
}

// startSharing flips the one-shot sharing flag and marks every current job
// to publish future ready work. Jobs that already hold ready ranges become
// shareable immediately; waiting for a later Share call would leave a
// window where a ready table is invisible to borrowers. Called with the
// global lock held.
func (q *SyncQueue) startSharing() {
	q.sharing = true
	for _, job := range q.pending {
		q.startSharingIn(job)
	}
	for job := range q.claimed {
		q.startSharingIn(job)
	}
}

// startSharingIn must be called with the global lock held; it takes the
// job's lock, preserving the global-before-job order.
func (q *SyncQueue) startSharingIn(job *TableJob) {
	job.Mu.Lock()
	defer job.Mu.Unlock()

	job.NotifyWhenShareable = true

	if job.hasShareableWork() {
		q.shareable[job] = struct{}{}
	}
}

// borrow scans the shareable set for a job that still holds ready ranges,
// blocking on the global signal when none does. Every visited candidate is
// removed from the set whether or not it still has work, so stale empty
// entries cannot accumulate. Called with the global lock held; the lock is
// released while blocked.
func (q *SyncQueue) borrow() (*TableJob, error) {
	for {
		if q.aborted.Load() {
			return nil, ErrAborted
		}
		if q.finished() {
			return nil, nil
		}

		for job := range q.shareable {
			delete(q.shareable, job)

			job.Mu.Lock()
			stillHasWork := job.hasShareableWork()
			job.Mu.Unlock()

			if stillHasWork {
				return job, nil
			}
		}

		q.cond.Wait()
	}
}
