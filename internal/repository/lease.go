package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseRepository implements TTL locks over a plain table. A lease is
// claimable when absent, expired, or already held by the same holder
// (renewal).
type LeaseRepository struct {
	db dbtx
}

func NewLeaseRepository(pool *pgxpool.Pool) *LeaseRepository {
	return &LeaseRepository{db: pool}
}

func (r *LeaseRepository) Acquire(ctx context.Context, scope, workspaceID, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO consolidation_leases (scope, workspace_id, holder_id, acquired_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (scope, workspace_id) DO UPDATE SET
			holder_id = EXCLUDED.holder_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		 WHERE consolidation_leases.expires_at <= $4
		    OR consolidation_leases.holder_id = $3`,
		scope, workspaceID, holderID, now, now.Add(ttl),
	)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

// Release drops the lease only when the caller still holds it; a lease
// already stolen after expiry is left alone.
func (r *LeaseRepository) Release(ctx context.Context, scope, workspaceID, holderID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM consolidation_leases
		 WHERE scope = $1 AND workspace_id = $2 AND holder_id = $3`,
		scope, workspaceID, holderID,
	)
	return err
}
