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

package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"integer", "integer"},
		{"character varying(32)", "character varying"},
		{"numeric(10,2)", "numeric"},
		{"timestamp(3) without time zone", "timestamp without time zone"},
		{"  BIGINT ", "bigint"},
		{"timestamp with time zone", "timestamp with time zone"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeType(tt.input))
		})
	}
}

func TestSubdividable(t *testing.T) {
	tests := []struct {
		name     string
		key      []string
		keyTypes map[string]string
		want     bool
	}{
		{
			name:     "integer key",
			key:      []string{"id"},
			keyTypes: map[string]string{"id": "bigint"},
			want:     true,
		},
		{
			name:     "composite orderable key",
			key:      []string{"region", "order_id"},
			keyTypes: map[string]string{"region": "character varying(8)", "order_id": "integer"},
			want:     true,
		},
		{
			name:     "bytea key is not subdividable",
			key:      []string{"digest"},
			keyTypes: map[string]string{"digest": "bytea"},
			want:     false,
		},
		{
			name:     "one opaque column poisons the key",
			key:      []string{"id", "payload"},
			keyTypes: map[string]string{"id": "integer", "payload": "jsonb"},
			want:     false,
		},
		{
			name:     "missing type information",
			key:      []string{"id"},
			keyTypes: map[string]string{},
			want:     false,
		},
		{
			name:     "no key",
			key:      nil,
			keyTypes: map[string]string{},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Subdividable(tt.key, tt.keyTypes))
		})
	}
}
