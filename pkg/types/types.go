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

package types

import (
	"time"
)

// KeyRange demarcates a contiguous slice of a table's row space, ordered by
// primary key. Lower is exclusive, Upper is inclusive. A nil bound leaves
// that end of the range open. Each bound holds one value per key column.
type KeyRange struct {
	Lower []any
	Upper []any
}

// UnknownRowCount marks a RangeCheck whose row estimate could not be
// determined.
const UnknownRowCount = ^uint64(0)

// RangeCheck is one unit of hashing work: a key range, how many rows it is
// believed to hold, a budget bounding the cost of hashing it once, and a
// priority. Among ranges simultaneously ready, larger priority is checked
// first; ties break arbitrarily.
type RangeCheck struct {
	Range         KeyRange
	EstimatedRows uint64
	RowsToHash    uint64
	Priority      int
}

// Table is the catalog description of one table under comparison.
type Table struct {
	Schema string
	Name   string

	Cols     []string
	Key      []string
	ColTypes map[string]string
	KeyTypes map[string]string

	EstimatedRows int64

	// Subdividable reports whether the primary key space supports median
	// splitting. Computed once by the catalog when the table is loaded.
	Subdividable bool
}

// ID returns the qualified table name.
func (t *Table) ID() string {
	return t.Schema + "." + t.Name
}

// Task carries the run-level bookkeeping shared by all task types.
type Task struct {
	TaskID     string
	TaskType   string
	TaskStatus string
	StartedAt  time.Time
	FinishedAt time.Time
	TimeTaken  float64
}

// DiffOutput holds the structured diff data for one run.
type DiffOutput struct {
	TableDiffs map[string]TableDiff `json:"diffs"` // keyed by "schema.table"
	Summary    DiffSummary          `json:"summary"`
}

// TableDiff holds the differing rows of one table, keyed by side
// ("source" / "target").
type TableDiff struct {
	Rows map[string][]map[string]any `json:"rows"`
}

// DiffSummary provides metadata about the diff operation.
type DiffSummary struct {
	SourceDB        string         `json:"source_db"`
	TargetDB        string         `json:"target_db"`
	Tables          []string       `json:"tables"`
	Workers         int            `json:"workers"`
	BlockSize       int            `json:"block_size"`
	CompareUnitSize int            `json:"compare_unit_size"`
	Snapshot        string         `json:"snapshot,omitempty"`
	StartTime       string         `json:"start_time"`
	EndTime         string         `json:"end_time"`
	TimeTaken       string         `json:"time_taken"`
	DiffRowsCount   map[string]int `json:"diff_rows_count"` // keyed by "schema.table"
	RangesHashed    int64          `json:"ranges_hashed"`
	RangesStolen    int64          `json:"ranges_stolen"`
	RowsCompared    int64          `json:"rows_compared"`
}
