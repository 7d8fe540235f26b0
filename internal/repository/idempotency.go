package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository implements the ingress duplicate gate on a plain
// Postgres table with TTL rows. Reservation is a single INSERT ON
// CONFLICT, so two racing deliveries of the same key resolve without a
// second round trip.
type IdempotencyRepository struct {
	db dbtx
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{db: pool}
}

// Reserve claims the key for ttl. Returns false when a live reservation
// exists; expired reservations are reclaimed in place.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key, workspaceID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO idempotency_records (key, workspace_id, processed_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			processed_at = EXCLUDED.processed_at,
			expires_at = EXCLUDED.expires_at
		 WHERE idempotency_records.expires_at <= $3`,
		key, workspaceID, now, now.Add(ttl),
	)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

// PurgeExpired removes dead reservations. Run periodically; correctness
// does not depend on it since Reserve reclaims expired rows itself.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}
