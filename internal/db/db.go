// Package db holds the Postgres connection and the stores for flows,
// environments, run history and demo usage.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// NewConnection opens a Postgres connection pool and verifies it with a ping.
func NewConnection(databaseURL string) (*sql.DB, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(25)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return database, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS flows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS flow_blocks (
		flow_id TEXT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
		block_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		params JSONB NOT NULL DEFAULT '[]',
		headers JSONB NOT NULL DEFAULT '[]',
		body TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL DEFAULT 0,
		extract JSONB NOT NULL DEFAULT '[]',
		PRIMARY KEY (flow_id, block_id)
	)`,
	`CREATE TABLE IF NOT EXISTS environments (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		created_by TEXT,
		variables JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS flow_runs (
		id TEXT PRIMARY KEY,
		flow_id TEXT NOT NULL,
		flow_name TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		stop_reason TEXT NOT NULL DEFAULT '',
		summary JSONB NOT NULL,
		results JSONB NOT NULL DEFAULT '[]',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS flow_runs_flow_id_idx ON flow_runs (flow_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS demo_usage (
		id INTEGER PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0
	)`,
}

// Migrate creates the tables used by the stores if they do not exist yet.
func Migrate(ctx context.Context, database *sql.DB) error {
	for _, stmt := range schema {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
