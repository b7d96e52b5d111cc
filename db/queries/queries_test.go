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
	"strings"
	"testing"
)

func TestSanitiseIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "valid identifier",
			input:   "valid_identifier",
			wantErr: false,
		},
		{
			name:    "valid identifier with numbers",
			input:   "valid_identifier_123",
			wantErr: false,
		},
		{
			name:    "identifier starting with underscore",
			input:   "_valid_identifier",
			wantErr: false,
		},
		{
			name:    "identifier with spaces",
			input:   "invalid identifier",
			wantErr: true,
		},
		{
			name:    "identifier with quotes",
			input:   `users"; drop table users; --`,
			wantErr: true,
		},
		{
			name:    "identifier starting with digit",
			input:   "1users",
			wantErr: true,
		},
		{
			name:    "empty identifier",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SanitiseIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitiseIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestBlockHashSQLSimpleKey(t *testing.T) {
	sql, err := BlockHashSQL("public", "users", []string{"id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		`FROM "public"."users" AS t`,
		`ORDER BY t."id"`,
		`$1 OR t."id" > $2`,
		`$3 OR t."id" <= $4`,
		"digest",
		"sha256",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected %q in rendered SQL:\n%s", want, sql)
		}
	}
}

func TestBlockHashSQLCompositeKey(t *testing.T) {
	sql, err := BlockHashSQL("public", "orders", []string{"region", "order_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		`$1 OR ROW(t."region", t."order_id") > ROW($2, $3)`,
		`$4 OR ROW(t."region", t."order_id") <= ROW($5, $6)`,
		`ORDER BY t."region", t."order_id"`,
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected %q in rendered SQL:\n%s", want, sql)
		}
	}
}

func TestExportSnapshotSQL(t *testing.T) {
	sql, err := RenderSQL(SQLTemplates.ExportSnapshot, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "pg_export_snapshot()") {
		t.Fatalf("expected pg_export_snapshot() in rendered SQL:\n%s", sql)
	}
}

func TestBlockHashSQLRejectsBadInput(t *testing.T) {
	if _, err := BlockHashSQL("public", "users", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := BlockHashSQL("public", "users; drop table users", []string{"id"}); err == nil {
		t.Fatal("expected error for malicious table name")
	}
	if _, err := BlockHashSQL("public", "users", []string{`id"`}); err == nil {
		t.Fatal("expected error for malicious key column")
	}
}
