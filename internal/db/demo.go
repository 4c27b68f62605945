package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// demoUsageRow is the id of the single row holding the global demo count.
const demoUsageRow = 1

// DemoCounter persists the number of requests made in demo mode.
type DemoCounter struct {
	db *sql.DB
}

func NewDemoCounter(database *sql.DB) *DemoCounter {
	return &DemoCounter{db: database}
}

func (c *DemoCounter) Count(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT request_count FROM demo_usage WHERE id = $1`, demoUsageRow).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read demo usage: %w", err)
	}
	return count, nil
}

// Reserve counts one demo request unless limit requests are already counted.
// The conditional upsert makes the check and the increment one statement.
func (c *DemoCounter) Reserve(ctx context.Context, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	var count int
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO demo_usage (id, request_count)
		VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE SET request_count = demo_usage.request_count + 1
		WHERE demo_usage.request_count < $2
		RETURNING request_count
	`, demoUsageRow, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reserve demo usage: %w", err)
	}
	return true, nil
}

func (c *DemoCounter) Release(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE demo_usage SET request_count = request_count - 1
		WHERE id = $1 AND request_count > 0
	`, demoUsageRow)
	if err != nil {
		return fmt.Errorf("failed to release demo usage: %w", err)
	}
	return nil
}
