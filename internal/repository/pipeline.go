package repository

import (
	"context"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PipelineRepository checkpoints ingestion runs and their completed
// steps.
type PipelineRepository struct {
	db dbtx
}

func NewPipelineRepository(pool *pgxpool.Pool) *PipelineRepository {
	return &PipelineRepository{db: pool}
}

func (r *PipelineRepository) UpsertRun(ctx context.Context, run *domain.PipelineRun) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO pipeline_runs (event_id, workspace_id, status, attempts, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (event_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		run.EventID, run.WorkspaceID, run.Status, run.Attempts, nullableString(run.LastError), run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// RecordStep checkpoints a completed stage. Keyed (event_id, step_name);
// recording the same step twice is a no-op so retried stages stay
// idempotent.
func (r *PipelineRepository) RecordStep(ctx context.Context, step *domain.PipelineRunStep) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO pipeline_run_steps (event_id, step_name, output, completed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id, step_name) DO NOTHING`,
		step.EventID, step.StepName, step.Output, step.CompletedAt,
	)
	return err
}

func (r *PipelineRepository) GetSteps(ctx context.Context, eventID string) (map[string]*domain.PipelineRunStep, error) {
	rows, err := r.db.Query(ctx,
		`SELECT event_id, step_name, output, completed_at
		 FROM pipeline_run_steps WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := map[string]*domain.PipelineRunStep{}
	for rows.Next() {
		var s domain.PipelineRunStep
		if err := rows.Scan(&s.EventID, &s.StepName, &s.Output, &s.CompletedAt); err != nil {
			return nil, err
		}
		steps[s.StepName] = &s
	}
	return steps, rows.Err()
}

func (r *PipelineRepository) MarkRunStatus(ctx context.Context, eventID string, status domain.PipelineRunStatus, attempts int, lastError string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $1, attempts = $2, last_error = $3, updated_at = $4
		 WHERE event_id = $5`,
		status, attempts, nullableString(lastError), time.Now().UTC(), eventID,
	)
	return err
}
