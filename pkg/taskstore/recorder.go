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

package taskstore

// Recorder wraps a Store for one run's lifecycle. Updates are silently
// skipped until Create has succeeded, so a run that failed before it was
// recorded does not produce orphan updates.
type Recorder struct {
	store     *Store
	ownsStore bool
	created   bool
}

// NewRecorder uses the existing store when given one, otherwise opens a
// store at path and owns it (Close will close the underlying database).
func NewRecorder(existing *Store, path string) (*Recorder, error) {
	if existing != nil {
		return &Recorder{store: existing}, nil
	}
	store, err := New(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, ownsStore: true}, nil
}

func (r *Recorder) HasStore() bool {
	return r != nil && r.store != nil
}

func (r *Recorder) Create(rec Record) error {
	if !r.HasStore() {
		return nil
	}
	if err := r.store.Create(rec); err != nil {
		return err
	}
	r.created = true
	return nil
}

func (r *Recorder) Update(rec Record) error {
	if !r.HasStore() || !r.created {
		return nil
	}
	return r.store.Update(rec)
}

func (r *Recorder) Close() error {
	if r == nil || !r.ownsStore || r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}
