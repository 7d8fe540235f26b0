package repository

import (
	"context"
	"errors"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WorkspaceRepository struct {
	pool *pgxpool.Pool
}

func NewWorkspaceRepository(pool *pgxpool.Pool) *WorkspaceRepository {
	return &WorkspaceRepository{pool: pool}
}

func (r *WorkspaceRepository) Create(ctx context.Context, w *domain.Workspace) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO workspaces (id, organization_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		w.ID, nullableString(w.OrganizationID), w.Name, w.CreatedAt,
	)
	return err
}

func (r *WorkspaceRepository) GetByID(ctx context.Context, id string) (*domain.Workspace, error) {
	var w domain.Workspace
	var orgID *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, created_at FROM workspaces WHERE id = $1`,
		id,
	).Scan(&w.ID, &orgID, &w.Name, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkspaceNotFound
		}
		return nil, err
	}
	w.OrganizationID = stringOrEmpty(orgID)
	return &w, nil
}

func (r *WorkspaceRepository) List(ctx context.Context) ([]*domain.Workspace, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, organization_id, name, created_at FROM workspaces ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []*domain.Workspace
	for rows.Next() {
		var w domain.Workspace
		var orgID *string
		if err := rows.Scan(&w.ID, &orgID, &w.Name, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.OrganizationID = stringOrEmpty(orgID)
		workspaces = append(workspaces, &w)
	}
	return workspaces, rows.Err()
}

func (r *WorkspaceRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM workspaces WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrWorkspaceNotFound
	}
	return nil
}
