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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitAtBarrierRendezvous(t *testing.T) {
	const workers = 4
	b := NewAbortableBarrier(workers)

	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			errs <- b.WaitAtBarrier()
		}()
	}

	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("worker never released from barrier")
		}
	}
}

func TestWaitAtBarrierReusableAcrossGenerations(t *testing.T) {
	const workers = 2
	b := NewAbortableBarrier(workers)

	for round := 0; round < 3; round++ {
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			go func() {
				errs <- b.WaitAtBarrier()
			}()
		}
		for i := 0; i < workers; i++ {
			select {
			case err := <-errs:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: worker never released", round)
			}
		}
	}
}

func TestAbortReleasesWaiters(t *testing.T) {
	b := NewAbortableBarrier(3)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- b.WaitAtBarrier()
		}()
	}

	// Let the two waiters block; the third participant never arrives.
	time.Sleep(50 * time.Millisecond)
	require.True(t, b.Abort())

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrAborted)
		case <-time.After(2 * time.Second):
			t.Fatal("abort did not release waiter")
		}
	}

	require.ErrorIs(t, b.WaitAtBarrier(), ErrAborted)
}

func TestAbortIdempotent(t *testing.T) {
	b := NewAbortableBarrier(1)

	const callers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Abort() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.True(t, b.Aborted())
}

func TestCheckAborted(t *testing.T) {
	b := NewAbortableBarrier(1)
	require.NoError(t, b.CheckAborted())
	b.Abort()
	require.ErrorIs(t, b.CheckAborted(), ErrAborted)
}
