// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package store opens databases and manages their schema.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	// Register the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Dialect identifies a supported database.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

func (d Dialect) migrationsDir() string {
	return "migrations/" + string(d)
}

// DialectFromURL returns the dialect named by the scheme of databaseURL.
func DialectFromURL(databaseURL string) (Dialect, error) {
	dialect, _, err := migrateTarget(databaseURL)
	return dialect, err
}

// RetryConfig bounds how long OpenPostgres waits for the database.
type RetryConfig struct {
	Retries   uint64 // pings after the first failed one
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig waits up to roughly half a minute.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Retries: 6, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// OpenPostgres creates a pgx pool and pings it, retrying with exponential
// backoff while the database is unreachable.
func OpenPostgres(ctx context.Context, databaseURL string, cfg RetryConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.NewExponential(cfg.BaseDelay)
	backoff = retry.WithCappedDuration(cfg.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(cfg.Retries, backoff)

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}

// OpenSQLite opens the sqlite3:// URL with foreign keys enforced and a busy
// timeout so concurrent writers wait instead of failing.
func OpenSQLite(databaseURL string) (*sql.DB, error) {
	path, ok := strings.CutPrefix(databaseURL, "sqlite3://")
	if !ok || path == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").
			With("url", databaseURL).
			Errorf("expected sqlite3://<path>")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "open sqlite").Wrap(err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping sqlite").Wrap(err)
	}
	return db, nil
}
