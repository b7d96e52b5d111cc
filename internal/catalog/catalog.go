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

// Package catalog loads table metadata from the source database and decides
// which tables are comparable.
package catalog

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tsync-io/tsync/db/queries"
	"github.com/tsync-io/tsync/pkg/logger"
	"github.com/tsync-io/tsync/pkg/types"
)

// subdividableTypes are the primary-key column types whose key space
// supports median splitting. Anything else falls back to whole-range row
// comparison on mismatch.
var subdividableTypes = map[string]bool{
	"smallint":                    true,
	"integer":                     true,
	"bigint":                      true,
	"numeric":                     true,
	"real":                        true,
	"double precision":            true,
	"text":                        true,
	"character varying":           true,
	"character":                   true,
	"uuid":                        true,
	"date":                        true,
	"timestamp without time zone": true,
	"timestamp with time zone":    true,
}

// NormalizeType strips length/precision modifiers from a formatted Postgres
// type, e.g. "character varying(32)" -> "character varying".
func NormalizeType(pgType string) string {
	t := strings.TrimSpace(strings.ToLower(pgType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		j := strings.IndexByte(t[i:], ')')
		if j < 0 {
			return strings.TrimSpace(t[:i])
		}
		t = t[:i] + t[i+j+1:]
	}
	return strings.TrimSpace(t)
}

// Subdividable reports whether every primary-key column has a type from the
// subdividable set.
func Subdividable(key []string, keyTypes map[string]string) bool {
	if len(key) == 0 {
		return false
	}
	for _, col := range key {
		pgType, ok := keyTypes[col]
		if !ok || !subdividableTypes[NormalizeType(pgType)] {
			return false
		}
	}
	return true
}

// LoadTable reads the metadata of one table.
func LoadTable(ctx context.Context, pool *pgxpool.Pool, schema, table string) (*types.Table, error) {
	if err := queries.SanitiseIdentifier(schema); err != nil {
		return nil, err
	}
	if err := queries.SanitiseIdentifier(table); err != nil {
		return nil, err
	}

	q := queries.NewQuerier(pool)

	cols, err := q.GetColumns(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("fetching columns for %s.%s: %w", schema, table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found, or the current user lacks privileges", schema, table)
	}

	key, err := q.GetPrimaryKey(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("fetching primary key for %s.%s: %w", schema, table, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("no primary key found for %s.%s", schema, table)
	}

	colTypes, err := q.GetColumnTypes(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("fetching column types for %s.%s: %w", schema, table, err)
	}

	keyTypes, err := q.GetPkeyColumnTypes(ctx, schema, table, key)
	if err != nil {
		return nil, fmt.Errorf("fetching key column types for %s.%s: %w", schema, table, err)
	}

	estimate, err := q.EstimateRowCount(ctx, schema, table)
	if err != nil {
		logger.Warn("could not estimate row count for %s.%s: %v", schema, table, err)
		estimate = 0
	}

	t := &types.Table{
		Schema:        schema,
		Name:          table,
		Cols:          cols,
		Key:           key,
		ColTypes:      colTypes,
		KeyTypes:      keyTypes,
		EstimatedRows: estimate,
		Subdividable:  Subdividable(key, keyTypes),
	}
	return t, nil
}

// ListTables returns the names of base tables in the schema.
func ListTables(ctx context.Context, pool *pgxpool.Pool, schema string) ([]string, error) {
	if err := queries.SanitiseIdentifier(schema); err != nil {
		return nil, err
	}
	return queries.NewQuerier(pool).GetTablesInSchema(ctx, schema)
}

// LoadTables loads every named table, or all tables in the schema when
// names is empty. Tables without a primary key are skipped with a warning
// in schema-wide mode but are an error when named explicitly.
func LoadTables(ctx context.Context, pool *pgxpool.Pool, schema string, names []string) ([]*types.Table, error) {
	explicit := len(names) > 0
	if !explicit {
		all, err := ListTables(ctx, pool, schema)
		if err != nil {
			return nil, err
		}
		names = all
	}

	var tables []*types.Table
	for _, name := range names {
		table, err := LoadTable(ctx, pool, schema, name)
		if err != nil {
			if explicit {
				return nil, err
			}
			logger.Warn("skipping %s.%s: %v", schema, name, err)
			continue
		}
		tables = append(tables, table)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no comparable tables found in schema %s", schema)
	}
	return tables, nil
}

// SchemasMatch verifies the table looks the same on both databases: same
// columns in the same order and the same primary key.
func SchemasMatch(ctx context.Context, source, target *pgxpool.Pool, table *types.Table) error {
	q := queries.NewQuerier(target)

	cols, err := q.GetColumns(ctx, table.Schema, table.Name)
	if err != nil {
		return fmt.Errorf("fetching target columns for %s: %w", table.ID(), err)
	}
	if !reflect.DeepEqual(cols, table.Cols) {
		return fmt.Errorf("table %s has different columns on source and target", table.ID())
	}

	key, err := q.GetPrimaryKey(ctx, table.Schema, table.Name)
	if err != nil {
		return fmt.Errorf("fetching target primary key for %s: %w", table.ID(), err)
	}
	if !reflect.DeepEqual(key, table.Key) {
		return fmt.Errorf("table %s has different primary keys on source and target", table.ID())
	}

	return nil
}
