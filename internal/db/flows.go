package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flow-runner/internal/models"

	"github.com/google/uuid"
)

type FlowStore struct {
	db *sql.DB
}

func NewFlowStore(database *sql.DB) *FlowStore {
	return &FlowStore{db: database}
}

// Create inserts the flow and its blocks. A new id is assigned when the flow
// has none.
func (s *FlowStore) Create(ctx context.Context, flow *models.Flow) error {
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO flows (id, name)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`, flow.ID, flow.Name).Scan(&flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert flow: %w", err)
	}

	if err := insertBlocks(ctx, tx, flow.ID, flow.Blocks); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns all flows without their blocks, most recently updated first.
func (s *FlowStore) List(ctx context.Context) ([]models.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM flows
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flows: %w", err)
	}
	defer rows.Close()

	flows := []models.Flow{}
	for rows.Next() {
		var flow models.Flow
		if err := rows.Scan(&flow.ID, &flow.Name, &flow.CreatedAt, &flow.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flow.Blocks = []models.Block{}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// Get loads a flow with its blocks in execution order.
func (s *FlowStore) Get(ctx context.Context, id string) (*models.Flow, error) {
	var flow models.Flow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM flows
		WHERE id = $1
	`, id).Scan(&flow.ID, &flow.Name, &flow.CreatedAt, &flow.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flow: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT block_id, name, method, url, params, headers, body, sort_order, extract
		FROM flow_blocks
		WHERE flow_id = $1
		ORDER BY sort_order ASC, block_id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blocks: %w", err)
	}
	defer rows.Close()

	flow.Blocks = []models.Block{}
	for rows.Next() {
		var (
			block                    models.Block
			params, headers, extract []byte
		)
		if err := rows.Scan(&block.ID, &block.Name, &block.Method, &block.URL, &params, &headers,
			&block.Body, &block.Order, &extract); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		if err := decodeBlockColumns(&block, params, headers, extract); err != nil {
			return nil, err
		}
		flow.Blocks = append(flow.Blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}
	return &flow, nil
}

// Update renames the flow and replaces its blocks.
func (s *FlowStore) Update(ctx context.Context, flow *models.Flow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		UPDATE flows
		SET name = $1, updated_at = $2
		WHERE id = $3
		RETURNING created_at, updated_at
	`, flow.Name, time.Now().UTC(), flow.ID).Scan(&flow.CreatedAt, &flow.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM flow_blocks WHERE flow_id = $1`, flow.ID); err != nil {
		return fmt.Errorf("failed to clear blocks: %w", err)
	}
	if err := insertBlocks(ctx, tx, flow.ID, flow.Blocks); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a flow; its blocks go with it through the foreign key.
func (s *FlowStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func insertBlocks(ctx context.Context, tx *sql.Tx, flowID string, blocks []models.Block) error {
	for _, block := range blocks {
		params, headers, extract, err := encodeBlockColumns(block)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_blocks (flow_id, block_id, name, method, url, params, headers, body, sort_order, extract)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, flowID, block.ID, block.Name, block.Method, block.URL, params, headers, block.Body, block.Order, extract)
		if err != nil {
			return fmt.Errorf("failed to insert block %s: %w", block.ID, err)
		}
	}
	return nil
}

func encodeBlockColumns(block models.Block) (params, headers, extract []byte, err error) {
	if params, err = marshalList(block.Params); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode params: %w", err)
	}
	if headers, err = marshalList(block.Headers); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode headers: %w", err)
	}
	if extract, err = marshalList(block.Extract); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode extraction rules: %w", err)
	}
	return params, headers, extract, nil
}

func decodeBlockColumns(block *models.Block, params, headers, extract []byte) error {
	if err := json.Unmarshal(params, &block.Params); err != nil {
		return fmt.Errorf("failed to decode params of block %s: %w", block.ID, err)
	}
	if err := json.Unmarshal(headers, &block.Headers); err != nil {
		return fmt.Errorf("failed to decode headers of block %s: %w", block.ID, err)
	}
	if len(extract) > 0 {
		if err := json.Unmarshal(extract, &block.Extract); err != nil {
			return fmt.Errorf("failed to decode extraction rules of block %s: %w", block.ID, err)
		}
	}
	return nil
}

// marshalList encodes a nil slice as an empty JSON array.
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}
