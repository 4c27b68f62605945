package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"flow-runner/internal/models"
)

// RunStore keeps the history of finished flow runs.
type RunStore struct {
	db *sql.DB
}

func NewRunStore(database *sql.DB) *RunStore {
	return &RunStore{db: database}
}

const runColumns = `id, flow_id, flow_name, mode, status, stop_reason, summary, results, started_at, finished_at`

func (s *RunStore) Save(ctx context.Context, run *models.RunRecord) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	results, err := marshalList(run.Results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.ID, run.FlowID, run.FlowName, string(run.Mode), run.Status, run.StopReason, summary, results,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*models.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM flow_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}
	return run, nil
}

// ListByFlow returns up to limit runs of a flow, newest first.
func (s *RunStore) ListByFlow(ctx context.Context, flowID string, limit int) ([]models.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM flow_runs
		WHERE flow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*models.RunRecord, error) {
	var (
		run              models.RunRecord
		mode             string
		summary, results []byte
	)
	if err := row.Scan(&run.ID, &run.FlowID, &run.FlowName, &mode, &run.Status, &run.StopReason,
		&summary, &results, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Mode = models.ExecutionMode(mode)
	if err := json.Unmarshal(summary, &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	if err := json.Unmarshal(results, &run.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &run, nil
}
