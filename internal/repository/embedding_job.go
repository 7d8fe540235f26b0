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

var ErrEmbeddingJobNotFound = errors.New("embedding job not found")

type EmbeddingJobRepository struct {
	db dbtx
}

func NewEmbeddingJobRepository(pool *pgxpool.Pool) *EmbeddingJobRepository {
	return &EmbeddingJobRepository{db: pool}
}

func NewEmbeddingJobRepositoryWithTx(tx pgx.Tx) *EmbeddingJobRepository {
	return &EmbeddingJobRepository{db: tx}
}

func (r *EmbeddingJobRepository) Create(ctx context.Context, job *domain.EmbeddingJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO embedding_jobs (id, workspace_id, chunk_id, observation_id, summary_id, status, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.WorkspaceID, nullableString(job.ChunkID), nullableString(job.ObservationID), nullableString(job.SummaryID),
		job.Status, job.Retries, nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	return err
}

// ClaimPending atomically flips up to limit pending jobs to processing
// and returns them. FOR UPDATE SKIP LOCKED keeps concurrent dispatchers
// from claiming the same rows.
func (r *EmbeddingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM embedding_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE embedding_jobs
		 SET status = $3,
		     error = NULL,
		     processed_at = NULL
		 FROM cte
		 WHERE embedding_jobs.id = cte.id
		 RETURNING embedding_jobs.id, embedding_jobs.workspace_id, embedding_jobs.chunk_id, embedding_jobs.observation_id,
		           embedding_jobs.summary_id, embedding_jobs.status, embedding_jobs.retries, embedding_jobs.error,
		           embedding_jobs.created_at, embedding_jobs.processed_at`,
		domain.EmbeddingJobStatusPending, limit, domain.EmbeddingJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.EmbeddingJob
	for rows.Next() {
		job, err := scanEmbeddingJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *EmbeddingJobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	return r.settle(ctx, jobID, domain.EmbeddingJobStatusCompleted, "")
}

func (r *EmbeddingJobRepository) MarkSkipped(ctx context.Context, jobID string, reason string) error {
	return r.settle(ctx, jobID, domain.EmbeddingJobStatusSkipped, reason)
}

// MarkFailed records the error and returns the job to pending while it
// has retry budget; past maxRetries it settles as failed and the target
// stays lexically searchable.
func (r *EmbeddingJobRepository) MarkFailed(ctx context.Context, jobID string, jobErr string, maxRetries int) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE embedding_jobs
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
		return ErrEmbeddingJobNotFound
	}
	return nil
}

func (r *EmbeddingJobRepository) settle(ctx context.Context, jobID string, status domain.EmbeddingJobStatus, errMsg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE embedding_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), time.Now().UTC(), jobID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrEmbeddingJobNotFound
	}
	return nil
}

func scanEmbeddingJob(rows pgx.Rows) (*domain.EmbeddingJob, error) {
	var job domain.EmbeddingJob
	var chunkID, observationID, summaryID, errMsg pgtype.Text
	if err := rows.Scan(&job.ID, &job.WorkspaceID, &chunkID, &observationID, &summaryID, &job.Status, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	if chunkID.Valid {
		job.ChunkID = chunkID.String
	}
	if observationID.Valid {
		job.ObservationID = observationID.String
	}
	if summaryID.Valid {
		job.SummaryID = summaryID.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}
