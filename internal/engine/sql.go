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
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tsync-io/tsync/pkg/types"
)

// hashArgs lays out the parameters for a BlockHashSQL statement: a skip
// flag for the lower bound, the lower bound values, a skip flag for the
// upper bound, and the upper bound values. Skipped bounds are padded with
// NULLs so the placeholder count always matches.
func hashArgs(key []string, kr types.KeyRange) []any {
	args := make([]any, 0, 2+2*len(key))

	args = append(args, kr.Lower == nil)
	args = append(args, boundValues(key, kr.Lower)...)
	args = append(args, kr.Upper == nil)
	args = append(args, boundValues(key, kr.Upper)...)

	return args
}

func boundValues(key []string, bound []any) []any {
	if bound == nil {
		return make([]any, len(key))
	}
	return bound
}

// rangeConditions renders the WHERE fragment selecting the rows of a key
// range: lower bound exclusive, upper bound inclusive, either side omitted
// when open. firstParam is the number of the first placeholder to use. The
// returned condition is "" for a fully open range.
func rangeConditions(key []string, kr types.KeyRange, firstParam int) (string, []any) {
	var conds []string
	var args []any
	next := firstParam

	if kr.Lower != nil {
		cond, n := keyComparison(key, ">", next)
		conds = append(conds, cond)
		args = append(args, kr.Lower...)
		next += n
	}
	if kr.Upper != nil {
		cond, _ := keyComparison(key, "<=", next)
		conds = append(conds, cond)
		args = append(args, kr.Upper...)
	}

	return strings.Join(conds, " AND "), args
}

// keyComparison renders "<key tuple> <op> <placeholder tuple>" and returns
// the number of placeholders it consumed.
func keyComparison(key []string, op string, firstParam int) (string, int) {
	if len(key) == 1 {
		return fmt.Sprintf("%s %s $%d", pgx.Identifier{key[0]}.Sanitize(), op, firstParam), 1
	}

	cols := make([]string, len(key))
	placeholders := make([]string, len(key))
	for i, k := range key {
		cols[i] = pgx.Identifier{k}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", firstParam+i)
	}
	return fmt.Sprintf("ROW(%s) %s ROW(%s)",
		strings.Join(cols, ", "), op, strings.Join(placeholders, ", ")), len(key)
}

// fetchRowsSQL selects every column of the rows in a key range, ordered by
// primary key.
func fetchRowsSQL(table *types.Table, kr types.KeyRange) (string, []any) {
	cols := make([]string, len(table.Cols))
	for i, c := range table.Cols {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	keyCols := make([]string, len(table.Key))
	for i, k := range table.Key {
		keyCols[i] = pgx.Identifier{k}.Sanitize()
	}

	sql := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(cols, ", "),
		pgx.Identifier{table.Schema}.Sanitize(),
		pgx.Identifier{table.Name}.Sanitize())

	where, args := rangeConditions(table.Key, kr, 1)
	if where != "" {
		sql += " WHERE " + where
	}
	sql += " ORDER BY " + strings.Join(keyCols, ", ")

	return sql, args
}

// countRangeSQL counts the rows in a key range.
func countRangeSQL(table *types.Table, kr types.KeyRange) (string, []any) {
	sql := fmt.Sprintf("SELECT COUNT(1) FROM %s.%s",
		pgx.Identifier{table.Schema}.Sanitize(),
		pgx.Identifier{table.Name}.Sanitize())

	where, args := rangeConditions(table.Key, kr, 1)
	if where != "" {
		sql += " WHERE " + where
	}
	return sql, args
}

// medianKeySQL selects the primary key of the row sitting offset rows into
// the range in key order. That key becomes the split point: it closes the
// first child range inclusively and opens the second exclusively.
func medianKeySQL(table *types.Table, kr types.KeyRange, offset uint64) (string, []any) {
	keyCols := make([]string, len(table.Key))
	for i, k := range table.Key {
		keyCols[i] = pgx.Identifier{k}.Sanitize()
	}

	sql := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(keyCols, ", "),
		pgx.Identifier{table.Schema}.Sanitize(),
		pgx.Identifier{table.Name}.Sanitize())

	where, args := rangeConditions(table.Key, kr, 1)
	if where != "" {
		sql += " WHERE " + where
	}
	sql += fmt.Sprintf(" ORDER BY %s LIMIT 1 OFFSET $%d",
		strings.Join(keyCols, ", "), len(args)+1)
	args = append(args, offset)

	return sql, args
}

// stringifyKey flattens a row's primary key values into a stable map key.
func stringifyKey(row map[string]any, key []string) string {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = fmt.Sprintf("%v", row[k])
	}
	return strings.Join(parts, "|")
}
