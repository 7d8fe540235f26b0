package repository

import (
	"context"
	"errors"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type SummaryRepository struct {
	db dbtx
}

func NewSummaryRepository(pool *pgxpool.Pool) *SummaryRepository {
	return &SummaryRepository{db: pool}
}

func NewSummaryRepositoryWithTx(tx pgx.Tx) *SummaryRepository {
	return &SummaryRepository{db: tx}
}

func (r *SummaryRepository) Insert(ctx context.Context, s *domain.Summary) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO workspace_neural_summaries
			(id, workspace_id, summary_type, scope, period_start, period_end, observation_ids, key_points, content, primary_entities, created_at)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.WorkspaceID, s.SummaryType, s.Scope, s.PeriodStart, s.PeriodEnd,
		s.ObservationIDs, s.KeyPoints, s.Content, s.PrimaryEntities, s.CreatedAt,
	)
	return err
}

const summaryColumns = `id, workspace_id, summary_type, scope, period_start, period_end, observation_ids, key_points, content, primary_entities, embedding_model, created_at`

func (r *SummaryRepository) GetByID(ctx context.Context, id string) (*domain.Summary, error) {
	var s domain.Summary
	var embeddingModel *string
	err := r.db.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM workspace_neural_summaries WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.WorkspaceID, &s.SummaryType, &s.Scope, &s.PeriodStart, &s.PeriodEnd, &s.ObservationIDs, &s.KeyPoints, &s.Content, &s.PrimaryEntities, &embeddingModel, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSummaryNotFound
		}
		return nil, err
	}
	s.EmbeddingModel = stringOrEmpty(embeddingModel)
	return &s, nil
}

func (r *SummaryRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32, model string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE workspace_neural_summaries SET embedding = $1, embedding_model = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), model, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSummaryNotFound
	}
	return nil
}

func (r *SummaryRepository) ListByScope(ctx context.Context, workspaceID, scope string, limit int) ([]*domain.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+summaryColumns+`
		 FROM workspace_neural_summaries
		 WHERE workspace_id = $1 AND scope = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		workspaceID, scope, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Summary
	for rows.Next() {
		var s domain.Summary
		var embeddingModel *string
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.SummaryType, &s.Scope, &s.PeriodStart, &s.PeriodEnd, &s.ObservationIDs, &s.KeyPoints, &s.Content, &s.PrimaryEntities, &embeddingModel, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.EmbeddingModel = stringOrEmpty(embeddingModel)
		results = append(results, &s)
	}
	return results, rows.Err()
}
