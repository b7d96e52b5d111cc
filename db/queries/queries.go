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

package queries

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type Querier struct {
	db DBTX
}

func NewQuerier(db DBTX) *Querier {
	return &Querier{db: db}
}

var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func SanitiseIdentifier(ident string) error {
	if !validIdentifierRegex.MatchString(ident) {
		return fmt.Errorf("invalid identifier: %s", ident)
	}
	return nil
}

func RenderSQL(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render SQL: %w", err)
	}
	return buf.String(), nil
}

func (q *Querier) GetTablesInSchema(ctx context.Context, schema string) ([]string, error) {
	sql, err := RenderSQL(SQLTemplates.GetTablesInSchema, nil)
	if err != nil {
		return nil, err
	}
	return q.stringList(ctx, sql, schema)
}

func (q *Querier) GetColumns(ctx context.Context, schema, table string) ([]string, error) {
	sql, err := RenderSQL(SQLTemplates.GetColumns, nil)
	if err != nil {
		return nil, err
	}
	return q.stringList(ctx, sql, schema, table)
}

func (q *Querier) GetPrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	sql, err := RenderSQL(SQLTemplates.GetPrimaryKey, nil)
	if err != nil {
		return nil, err
	}
	return q.stringList(ctx, sql, schema, table)
}

func (q *Querier) GetColumnTypes(ctx context.Context, schema, table string) (map[string]string, error) {
	sql, err := RenderSQL(SQLTemplates.GetColumnTypes, nil)
	if err != nil {
		return nil, err
	}
	return q.stringMap(ctx, sql, schema, table)
}

func (q *Querier) GetPkeyColumnTypes(ctx context.Context, schema, table string, key []string) (map[string]string, error) {
	sql, err := RenderSQL(SQLTemplates.GetPkeyColumnTypes, nil)
	if err != nil {
		return nil, err
	}
	return q.stringMap(ctx, sql, schema, table, key)
}

func (q *Querier) EstimateRowCount(ctx context.Context, schema, table string) (int64, error) {
	sql, err := RenderSQL(SQLTemplates.EstimateRowCount, nil)
	if err != nil {
		return 0, err
	}
	var estimate int64
	if err := q.db.QueryRow(ctx, sql, schema, table).Scan(&estimate); err != nil {
		return 0, fmt.Errorf("estimating row count for %s.%s: %w", schema, table, err)
	}
	return estimate, nil
}

func (q *Querier) EnsurePgcrypto(ctx context.Context) error {
	sql, err := RenderSQL(SQLTemplates.EnsurePgcrypto, nil)
	if err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("ensuring pgcrypto extension: %w", err)
	}
	return nil
}

func (q *Querier) ExportSnapshot(ctx context.Context) (string, error) {
	sql, err := RenderSQL(SQLTemplates.ExportSnapshot, nil)
	if err != nil {
		return "", err
	}
	var snapshot string
	if err := q.db.QueryRow(ctx, sql).Scan(&snapshot); err != nil {
		return "", fmt.Errorf("exporting snapshot: %w", err)
	}
	return snapshot, nil
}

func (q *Querier) stringList(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (q *Querier) stringMap(ctx context.Context, sql string, args ...any) (map[string]string, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no rows returned")
	}
	return values, rows.Err()
}

// BlockHashSQL builds the range-hashing query for one table. The returned
// statement takes 2 + 2*len(key) parameters: a skip flag for the lower
// bound, the lower bound values, a skip flag for the upper bound, and the
// upper bound values. Skipped bounds leave that end of the range open. The
// lower bound is exclusive, the upper inclusive.
func BlockHashSQL(schema, table string, key []string) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("primary key columns required for block hashing")
	}
	for _, ident := range append([]string{schema, table}, key...) {
		if err := SanitiseIdentifier(ident); err != nil {
			return "", err
		}
	}

	quotedKeyCols := make([]string, len(key))
	for i, k := range key {
		quotedKeyCols[i] = pgx.Identifier{k}.Sanitize()
	}

	lowerClause := boundClause(quotedKeyCols, ">", 1)
	upperClause := boundClause(quotedKeyCols, "<=", 2+len(key))
	whereClause := fmt.Sprintf("(%s) AND (%s)", lowerClause, upperClause)

	data := map[string]any{
		"TableAlias":   "t",
		"PkOrderByStr": "t." + strings.Join(quotedKeyCols, ", t."),
		"SchemaIdent":  pgx.Identifier{schema}.Sanitize(),
		"TableIdent":   pgx.Identifier{table}.Sanitize(),
		"WhereClause":  whereClause,
	}
	return RenderSQL(SQLTemplates.BlockHashSQL, data)
}

// boundClause renders "($n OR <key tuple> <op> <placeholder tuple>)" with
// placeholders starting right after the skip flag at $n.
func boundClause(quotedKeyCols []string, op string, skipParam int) string {
	placeholders := make([]string, len(quotedKeyCols))
	for i := range quotedKeyCols {
		placeholders[i] = fmt.Sprintf("$%d", skipParam+1+i)
	}

	if len(quotedKeyCols) == 1 {
		return fmt.Sprintf("$%d OR t.%s %s %s", skipParam, quotedKeyCols[0], op, placeholders[0])
	}

	cols := make([]string, len(quotedKeyCols))
	for i, c := range quotedKeyCols {
		cols[i] = "t." + c
	}
	return fmt.Sprintf("$%d OR ROW(%s) %s ROW(%s)",
		skipParam, strings.Join(cols, ", "), op, strings.Join(placeholders, ", "))
}
