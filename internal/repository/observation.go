package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ObservationRepository handles persistence of extracted observations and
// their three embedding views.
type ObservationRepository struct {
	db dbtx
}

func NewObservationRepository(pool *pgxpool.Pool) *ObservationRepository {
	return &ObservationRepository{db: pool}
}

func NewObservationRepositoryWithTx(tx pgx.Tx) *ObservationRepository {
	return &ObservationRepository{db: tx}
}

func (r *ObservationRepository) Insert(ctx context.Context, o *domain.Observation) error {
	refs, err := json.Marshal(o.SourceReferences)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO workspace_neural_observations
			(id, workspace_id, occurred_at, actor_type, actor_id, actor_name, observation_type, title, content, topics, source_references, importance, created_at)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.WorkspaceID, o.OccurredAt, o.ActorType, nullableString(o.ActorID), nullableString(o.ActorName),
		o.ObservationType, o.Title, o.Content, o.Topics, refs, o.Importance, o.CreatedAt,
	)
	return err
}

const observationColumns = `id, workspace_id, occurred_at, actor_type, actor_id, actor_name, observation_type, title, content, topics, source_references, importance, embedding_model, summarized_at, created_at`

func (r *ObservationRepository) GetByID(ctx context.Context, id string) (*domain.Observation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+observationColumns+` FROM workspace_neural_observations WHERE id = $1`,
		id,
	)
	return scanObservation(row)
}

func (r *ObservationRepository) UpdateEmbeddings(ctx context.Context, id string, title, content, summary []float32, model string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE workspace_neural_observations
		 SET title_embedding = $1, content_embedding = $2, summary_embedding = $3, embedding_model = $4
		 WHERE id = $5`,
		nullableVector(title), nullableVector(content), nullableVector(summary), model, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrObservationNotFound
	}
	return nil
}

// ListUnconsolidated returns observations with a content embedding but no
// SummarizedAt stamp, oldest first, including their content vectors for
// clustering.
func (r *ObservationRepository) ListUnconsolidated(ctx context.Context, workspaceID string, limit int) ([]*domain.Observation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+observationColumns+`, content_embedding
		 FROM workspace_neural_observations
		 WHERE workspace_id = $1 AND summarized_at IS NULL AND content_embedding IS NOT NULL
		 ORDER BY occurred_at ASC
		 LIMIT $2`,
		workspaceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Observation
	for rows.Next() {
		var o domain.Observation
		var actorID, actorName, embeddingModel *string
		var refs []byte
		var contentVec *pgvector.Vector
		if err := rows.Scan(&o.ID, &o.WorkspaceID, &o.OccurredAt, &o.ActorType, &actorID, &actorName, &o.ObservationType, &o.Title, &o.Content, &o.Topics, &refs, &o.Importance, &embeddingModel, &o.SummarizedAt, &o.CreatedAt, &contentVec); err != nil {
			return nil, err
		}
		o.ActorID = stringOrEmpty(actorID)
		o.ActorName = stringOrEmpty(actorName)
		o.EmbeddingModel = stringOrEmpty(embeddingModel)
		if len(refs) > 0 {
			if err := json.Unmarshal(refs, &o.SourceReferences); err != nil {
				return nil, err
			}
		}
		if contentVec != nil {
			o.ContentEmbedding = contentVec.Slice()
		}
		results = append(results, &o)
	}
	return results, rows.Err()
}

func (r *ObservationRepository) MarkSummarized(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE workspace_neural_observations SET summarized_at = $1 WHERE id = ANY($2)`,
		at, ids,
	)
	return err
}

// WorkspacesWithPending lists workspaces holding a consolidation backlog.
func (r *ObservationRepository) WorkspacesWithPending(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT workspace_id
		 FROM workspace_neural_observations
		 WHERE summarized_at IS NULL AND content_embedding IS NOT NULL
		 GROUP BY workspace_id
		 ORDER BY count(*) DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, id)
	}
	return workspaces, rows.Err()
}

// GetEmbedding reads one observation's content vector for similarity
// seeding.
func (r *ObservationRepository) GetEmbedding(ctx context.Context, workspaceID, id string) ([]float32, string, error) {
	var vec *pgvector.Vector
	var model *string
	err := r.db.QueryRow(ctx,
		`SELECT content_embedding, embedding_model FROM workspace_neural_observations WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID,
	).Scan(&vec, &model)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", domain.ErrObservationNotFound
		}
		return nil, "", err
	}
	if vec == nil {
		return nil, "", nil
	}
	return vec.Slice(), stringOrEmpty(model), nil
}

func scanObservation(row pgx.Row) (*domain.Observation, error) {
	var o domain.Observation
	var actorID, actorName, embeddingModel *string
	var refs []byte
	err := row.Scan(&o.ID, &o.WorkspaceID, &o.OccurredAt, &o.ActorType, &actorID, &actorName, &o.ObservationType, &o.Title, &o.Content, &o.Topics, &refs, &o.Importance, &embeddingModel, &o.SummarizedAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrObservationNotFound
		}
		return nil, err
	}
	o.ActorID = stringOrEmpty(actorID)
	o.ActorName = stringOrEmpty(actorName)
	o.EmbeddingModel = stringOrEmpty(embeddingModel)
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &o.SourceReferences); err != nil {
			return nil, err
		}
	}
	return &o, nil
}
