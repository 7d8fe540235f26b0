package repository

import (
	"context"

	"github.com/hivemindhq/hivemind/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// SearchRepository implements retrieval candidate generation: lexical
// full-text and pgvector dense search per content family, plus the
// actor-profile and temporal-state generators. All queries filter
// superseded chunks and mismatched embedding model versions, so vectors
// from different models never compete in one ranking.
type SearchRepository struct {
	pool *pgxpool.Pool
}

func NewSearchRepository(pool *pgxpool.Pool) *SearchRepository {
	return &SearchRepository{pool: pool}
}

func (r *SearchRepository) LexicalChunks(ctx context.Context, workspaceID, query string, limit int) ([]service.SignalHit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.created_at
		 FROM knowledge_chunks c
		 WHERE c.workspace_id = $1
		   AND c.superseded_at IS NULL
		   AND to_tsvector('english', c.content) @@ websearch_to_tsquery('english', $2)
		 ORDER BY ts_rank(to_tsvector('english', c.content), websearch_to_tsquery('english', $2)) DESC, c.id
		 LIMIT $3`,
		workspaceID, query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkHits(rows)
}

func (r *SearchRepository) LexicalObservations(ctx context.Context, workspaceID, query string, limit int) ([]service.SignalHit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.occurred_at, o.importance
		 FROM workspace_neural_observations o
		 WHERE o.workspace_id = $1
		   AND to_tsvector('english', o.title || ' ' || o.content) @@ websearch_to_tsquery('english', $2)
		 ORDER BY ts_rank(to_tsvector('english', o.title || ' ' || o.content), websearch_to_tsquery('english', $2)) DESC, o.id
		 LIMIT $3`,
		workspaceID, query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservationHits(rows)
}

func (r *SearchRepository) DenseChunks(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]service.SignalHit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.created_at
		 FROM knowledge_chunks c
		 WHERE c.workspace_id = $1
		   AND c.superseded_at IS NULL
		   AND c.embedding IS NOT NULL
		   AND c.embedding_model = $2
		 ORDER BY c.embedding <=> $3, c.id
		 LIMIT $4`,
		workspaceID, model, pgvector.NewVector(vector), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkHits(rows)
}

// DenseObservations searches all three embedding views and ranks by the
// closest one, so a query matching only an observation's title still
// surfaces it.
func (r *SearchRepository) DenseObservations(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]service.SignalHit, error) {
	vec := pgvector.NewVector(vector)
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.occurred_at, o.importance
		 FROM workspace_neural_observations o
		 WHERE o.workspace_id = $1
		   AND o.content_embedding IS NOT NULL
		   AND o.embedding_model = $2
		 ORDER BY LEAST(
			 o.content_embedding <=> $3,
			 o.title_embedding <=> $3,
			 o.summary_embedding <=> $3
		 ), o.id
		 LIMIT $4`,
		workspaceID, model, vec, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservationHits(rows)
}

func (r *SearchRepository) DenseSummaries(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]service.SignalHit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.period_end
		 FROM workspace_neural_summaries s
		 WHERE s.workspace_id = $1
		   AND s.embedding IS NOT NULL
		   AND s.embedding_model = $2
		 ORDER BY s.embedding <=> $3, s.id
		 LIMIT $4`,
		workspaceID, model, pgvector.NewVector(vector), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []service.SignalHit
	for rows.Next() {
		var h service.SignalHit
		h.Kind = service.KindSummary
		if err := rows.Scan(&h.ID, &h.OccurredAt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ProfileNeighbors finds observations by the actors a query points at:
// hint-matched actors first, otherwise the actors whose profile centroid
// is nearest the query vector.
func (r *SearchRepository) ProfileNeighbors(ctx context.Context, workspaceID string, actorHints []string, vector []float32, model string, limit int) ([]service.SignalHit, error) {
	actorIDs, err := r.resolveActors(ctx, workspaceID, actorHints, vector, model)
	if err != nil {
		return nil, err
	}
	if len(actorIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.occurred_at, o.importance
		 FROM workspace_neural_observations o
		 WHERE o.workspace_id = $1 AND o.actor_id = ANY($2)
		 ORDER BY o.occurred_at DESC, o.id
		 LIMIT $3`,
		workspaceID, actorIDs, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservationHits(rows)
}

func (r *SearchRepository) resolveActors(ctx context.Context, workspaceID string, actorHints []string, vector []float32, model string) ([]string, error) {
	if len(actorHints) > 0 {
		rows, err := r.pool.Query(ctx,
			`SELECT DISTINCT actor_id
			 FROM workspace_actor_profiles
			 WHERE workspace_id = $1
			   AND (actor_id = ANY($2) OR actor_name ILIKE ANY($3))`,
			workspaceID, actorHints, likePatterns(actorHints),
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanStrings(rows)
	}

	if len(vector) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT actor_id
		 FROM workspace_actor_profiles
		 WHERE workspace_id = $1
		   AND centroid_embedding IS NOT NULL
		   AND embedding_model = $2
		 ORDER BY centroid_embedding <=> $3
		 LIMIT 3`,
		workspaceID, model, pgvector.NewVector(vector),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *SearchRepository) TemporalStates(ctx context.Context, workspaceID string, window service.TimeWindow, limit int) ([]service.SignalHit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, state_text, window_end
		 FROM workspace_temporal_states
		 WHERE workspace_id = $1 AND window_end >= $2 AND window_start <= $3
		 ORDER BY updated_at DESC, id
		 LIMIT $4`,
		workspaceID, window.Start, window.End, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []service.SignalHit
	for rows.Next() {
		var h service.SignalHit
		h.Kind = service.KindTemporal
		if err := rows.Scan(&h.ID, &h.Snippet, &h.OccurredAt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (r *SearchRepository) ObservationsInWindow(ctx context.Context, workspaceID string, window service.TimeWindow, limit int) ([]service.SignalHit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.occurred_at, o.importance
		 FROM workspace_neural_observations o
		 WHERE o.workspace_id = $1 AND o.occurred_at BETWEEN $2 AND $3
		 ORDER BY o.occurred_at DESC, o.id
		 LIMIT $4`,
		workspaceID, window.Start, window.End, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservationHits(rows)
}

func scanChunkHits(rows pgx.Rows) ([]service.SignalHit, error) {
	var hits []service.SignalHit
	for rows.Next() {
		var h service.SignalHit
		h.Kind = service.KindChunk
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.OccurredAt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func scanObservationHits(rows pgx.Rows) ([]service.SignalHit, error) {
	var hits []service.SignalHit
	for rows.Next() {
		var h service.SignalHit
		h.Kind = service.KindObservation
		if err := rows.Scan(&h.ID, &h.OccurredAt, &h.Importance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func likePatterns(hints []string) []string {
	patterns := make([]string, len(hints))
	for i, h := range hints {
		patterns[i] = "%" + h + "%"
	}
	return patterns
}
