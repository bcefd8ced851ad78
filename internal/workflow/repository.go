package workflow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed stage persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByCode loads a stage by its code.
func (r *Repository) FindByCode(ctx context.Context, code string) (Stage, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, code, name, sequence, allowed_actions, is_active
FROM workflow_stages WHERE code = $1`, code)
	stage, err := scanStage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stage{}, ErrStageNotFound
		}
		return Stage{}, err
	}
	return stage, nil
}

// Create inserts a stage and returns it with its assigned id.
func (r *Repository) Create(ctx context.Context, stage Stage) (Stage, error) {
	actions := make([]string, 0, len(stage.AllowedActions))
	for _, a := range stage.AllowedActions {
		actions = append(actions, string(a))
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO workflow_stages (code, name, sequence, allowed_actions, is_active)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, stage.Code, stage.Name, stage.Sequence, actions, stage.IsActive).Scan(&stage.ID)
	if err != nil {
		return Stage{}, err
	}
	return stage, nil
}

// List returns all stages ordered by sequence.
func (r *Repository) List(ctx context.Context) ([]Stage, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, sequence, allowed_actions, is_active
FROM workflow_stages ORDER BY sequence ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func scanStage(row pgx.Row) (Stage, error) {
	var stage Stage
	var actions []string
	if err := row.Scan(&stage.ID, &stage.Code, &stage.Name, &stage.Sequence, &actions, &stage.IsActive); err != nil {
		return Stage{}, err
	}
	stage.AllowedActions = make([]Action, 0, len(actions))
	for _, a := range actions {
		stage.AllowedActions = append(stage.AllowedActions, Action(a))
	}
	return stage, nil
}
