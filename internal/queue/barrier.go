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
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAborted is returned from blocking queue operations once the run has
// been cancelled.
var ErrAborted = errors.New("sync run aborted")

// AbortableBarrier is the rendezvous and cancellation primitive the sync
// queue is built on. A fixed number of workers can rendezvous at the
// barrier between phases, and any of them (or a signal handler) can abort
// the run, which releases every waiter.
//
// The barrier's mutex and condition variable double as the queue's global
// lock and wake signal.
type AbortableBarrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	workers    int
	waiting    int
	generation uint64

	// aborted is atomic so it can be read without the mutex; lock order in
	// the queue is global-before-job, and abort status is also checked
	// while a job's own lock is held.
	aborted atomic.Bool
}

// NewAbortableBarrier returns a barrier for the given participant count.
func NewAbortableBarrier(workers int) *AbortableBarrier {
	b := &AbortableBarrier{workers: workers}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// WaitAtBarrier blocks until all participants have arrived, or returns
// ErrAborted if the run is cancelled before or during the wait.
func (b *AbortableBarrier) WaitAtBarrier() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.aborted.Load() {
		return ErrAborted
	}

	gen := b.generation
	b.waiting++
	if b.waiting == b.workers {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return nil
	}

	for gen == b.generation && !b.aborted.Load() {
		b.cond.Wait()
	}
	if b.aborted.Load() {
		return ErrAborted
	}
	return nil
}

// Abort cancels the run and wakes every waiter. Exactly one caller observes
// true, no matter how many race to abort.
func (b *AbortableBarrier) Abort() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.aborted.Swap(true) {
		return false
	}
	b.cond.Broadcast()
	return true
}

// Aborted reports whether the run has been cancelled. Safe to call from any
// locking context.
func (b *AbortableBarrier) Aborted() bool {
	return b.aborted.Load()
}

// CheckAborted returns ErrAborted once the run has been cancelled.
func (b *AbortableBarrier) CheckAborted() error {
	if b.aborted.Load() {
		return ErrAborted
	}
	return nil
}
