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

// Package auth builds database connections from configuration.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tsync-io/tsync/pkg/config"
)

// ConnectionString assembles a keyword/value conninfo string for one
// database, folding in the global statement timeout.
func ConnectionString(db config.DBConfig, pg config.PostgresConfig) string {
	var parts []string

	if host := strings.TrimSpace(db.Host); host != "" {
		parts = append(parts, "host="+host)
	}
	if db.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", db.Port))
	}
	if db.DBUser != "" {
		parts = append(parts, "user="+db.DBUser)
	}
	if db.DBPassword != "" {
		parts = append(parts, "password="+db.DBPassword)
	}
	if db.DBName != "" {
		parts = append(parts, "dbname="+db.DBName)
	}

	sslMode := db.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, "sslmode="+sslMode)

	if pg.ConnectionTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", pg.ConnectionTimeout))
	}
	if pg.StatementTimeout > 0 {
		parts = append(parts, fmt.Sprintf("options='-c statement_timeout=%d'", pg.StatementTimeout))
	}

	return strings.Join(parts, " ")
}

// Connect opens a pgx pool for the database with the configured pool size.
func Connect(ctx context.Context, db config.DBConfig, pg config.PostgresConfig) (*pgxpool.Pool, error) {
	connStr := ConnectionString(db, pg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config for %s: %w", db.DBName, err)
	}
	if pg.PoolSize > 0 {
		poolCfg.MaxConns = int32(pg.PoolSize)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool for %s: %w", db.DBName, err)
	}
	return pool, nil
}
