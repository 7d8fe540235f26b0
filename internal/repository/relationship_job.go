package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRelationshipJobNotFound = errors.New("relationship job not found")

type RelationshipJobRepository struct {
	db dbtx
}

func NewRelationshipJobRepository(pool *pgxpool.Pool) *RelationshipJobRepository {
	return &RelationshipJobRepository{db: pool}
}

func NewRelationshipJobRepositoryWithTx(tx pgx.Tx) *RelationshipJobRepository {
	return &RelationshipJobRepository{db: tx}
}

func (r *RelationshipJobRepository) Create(ctx context.Context, job *domain.RelationshipJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO relationship_jobs (id, workspace_id, document_id, version, status, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.WorkspaceID, job.DocumentID, job.Version, job.Status, job.Retries, nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	return err
}

func (r *RelationshipJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.RelationshipJob, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM relationship_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE relationship_jobs
		 SET status = $3,
		     error = NULL,
		     processed_at = NULL
		 FROM cte
		 WHERE relationship_jobs.id = cte.id
		 RETURNING relationship_jobs.id, relationship_jobs.workspace_id, relationship_jobs.document_id,
		           relationship_jobs.version, relationship_jobs.status, relationship_jobs.retries,
		           relationship_jobs.error, relationship_jobs.created_at, relationship_jobs.processed_at`,
		domain.EmbeddingJobStatusPending, limit, domain.EmbeddingJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.RelationshipJob
	for rows.Next() {
		var job domain.RelationshipJob
		var errMsg pgtype.Text
		if err := rows.Scan(&job.ID, &job.WorkspaceID, &job.DocumentID, &job.Version, &job.Status, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			job.Error = errMsg.String
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (r *RelationshipJobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	return r.settle(ctx, jobID, domain.EmbeddingJobStatusCompleted, "")
}

func (r *RelationshipJobRepository) MarkSkipped(ctx context.Context, jobID string, reason string) error {
	return r.settle(ctx, jobID, domain.EmbeddingJobStatusSkipped, reason)
}

func (r *RelationshipJobRepository) MarkFailed(ctx context.Context, jobID string, jobErr string, maxRetries int) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE relationship_jobs
		 SET retries = retries + 1,
		     error = $1,
		     status = CASE WHEN retries + 1 >= $2 THEN $3::text ELSE $4::text END,
		     processed_at = CASE WHEN retries + 1 >= $2 THEN $5 ELSE NULL END
		 WHERE id = $6`,
		jobErr, maxRetries, domain.EmbeddingJobStatusFailed, domain.EmbeddingJobStatusPending, time.Now().UTC(), jobID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRelationshipJobNotFound
	}
	return nil
}

func (r *RelationshipJobRepository) settle(ctx context.Context, jobID string, status domain.EmbeddingJobStatus, errMsg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE relationship_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), time.Now().UTC(), jobID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrRelationshipJobNotFound
	}
	return nil
}
