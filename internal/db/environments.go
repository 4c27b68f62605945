package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"flow-runner/internal/models"
)

// EnvironmentUpdate carries the fields of a partial environment update; nil
// fields are left unchanged.
type EnvironmentUpdate struct {
	Name        *string
	Description *string
	CreatedBy   *string
	Variables   *map[string]string
}

type EnvironmentStore struct {
	db *sql.DB
}

func NewEnvironmentStore(database *sql.DB) *EnvironmentStore {
	return &EnvironmentStore{db: database}
}

const environmentColumns = `id, name, description, created_by, variables, created_at, updated_at`

func (s *EnvironmentStore) Create(ctx context.Context, env *models.Environment) error {
	if env.Variables == nil {
		env.Variables = make(map[string]string)
	}
	variablesJSON, err := json.Marshal(env.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO environments (name, description, created_by, variables)
		VALUES ($1, $2, $3, $4)
		RETURNING `+environmentColumns,
		env.Name, env.Description, env.CreatedBy, variablesJSON)
	created, err := scanEnvironment(row)
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	*env = *created
	return nil
}

// List returns all environments ordered by name.
func (s *EnvironmentStore) List(ctx context.Context) ([]models.Environment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+environmentColumns+`
		FROM environments
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch environments: %w", err)
	}
	defer rows.Close()

	environments := []models.Environment{}
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		environments = append(environments, *env)
	}
	return environments, rows.Err()
}

func (s *EnvironmentStore) Get(ctx context.Context, id int) (*models.Environment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+environmentColumns+`
		FROM environments
		WHERE id = $1
	`, id)
	env, err := scanEnvironment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch environment: %w", err)
	}
	return env, nil
}

// Update applies the non-nil fields of update and returns the stored result.
func (s *EnvironmentStore) Update(ctx context.Context, id int, update EnvironmentUpdate) (*models.Environment, error) {
	env, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		env.Name = *update.Name
	}
	if update.Description != nil {
		env.Description = *update.Description
	}
	if update.CreatedBy != nil {
		env.CreatedBy = *update.CreatedBy
	}
	if update.Variables != nil {
		env.Variables = *update.Variables
	}

	variablesJSON, err := json.Marshal(env.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		UPDATE environments
		SET name = $1, description = $2, created_by = $3, variables = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`, env.Name, env.Description, env.CreatedBy, variablesJSON, id).Scan(&env.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update environment: %w", err)
	}
	return env, nil
}

// MergeVariables adds or overwrites the given variables, keeping the others.
func (s *EnvironmentStore) MergeVariables(ctx context.Context, id int, variables map[string]string) (*models.Environment, error) {
	env, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(env.Variables)+len(variables))
	for k, v := range env.Variables {
		merged[k] = v
	}
	for k, v := range variables {
		merged[k] = v
	}
	return s.Update(ctx, id, EnvironmentUpdate{Variables: &merged})
}

func (s *EnvironmentStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM environments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*models.Environment, error) {
	var (
		env                    models.Environment
		description, createdBy sql.NullString
		variablesJSON          []byte
	)
	if err := row.Scan(&env.ID, &env.Name, &description, &createdBy, &variablesJSON,
		&env.CreatedAt, &env.UpdatedAt); err != nil {
		return nil, err
	}
	env.Description = description.String
	env.CreatedBy = createdBy.String
	if err := json.Unmarshal(variablesJSON, &env.Variables); err != nil || env.Variables == nil {
		env.Variables = make(map[string]string)
	}
	return &env, nil
}
