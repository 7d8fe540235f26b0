package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type APIKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (id, workspace_id, name, token_hash, revoked, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.WorkspaceID, key.Name, key.TokenHash, key.Revoked, key.CreatedAt, key.LastUsedAt,
	)
	return err
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := r.pool.QueryRow(ctx,
		`SELECT id, workspace_id, name, token_hash, revoked, created_at, last_used_at
		 FROM api_keys WHERE token_hash = $1`,
		hash,
	).Scan(&key.ID, &key.WorkspaceID, &key.Name, &key.TokenHash, &key.Revoked, &key.CreatedAt, &key.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (r *APIKeyRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.APIKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, workspace_id, name, token_hash, revoked, created_at, last_used_at
		 FROM api_keys WHERE workspace_id = $1 ORDER BY created_at DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.WorkspaceID, &key.Name, &key.TokenHash, &key.Revoked, &key.CreatedAt, &key.LastUsedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET revoked = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// TouchLastUsed is best-effort; auth does not depend on it succeeding.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`,
		at, id,
	)
	return err
}
