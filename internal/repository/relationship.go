package repository

import (
	"context"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RelationshipRepository struct {
	db dbtx
}

func NewRelationshipRepository(pool *pgxpool.Pool) *RelationshipRepository {
	return &RelationshipRepository{db: pool}
}

func NewRelationshipRepositoryWithTx(tx pgx.Tx) *RelationshipRepository {
	return &RelationshipRepository{db: tx}
}

// Upsert writes the edge keyed by (source_doc_id, target_doc_id,
// relation_type). Re-extraction keeps the higher-confidence version, and
// an edge promoted above the gate loses its suggested flag.
func (r *RelationshipRepository) Upsert(ctx context.Context, rel *domain.Relationship) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO relationships
			(id, workspace_id, source_doc_id, target_doc_id, relation_type, confidence, evidence_span, suggested, created_at)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (source_doc_id, target_doc_id, relation_type) DO UPDATE SET
			confidence = GREATEST(relationships.confidence, EXCLUDED.confidence),
			evidence_span = CASE WHEN EXCLUDED.confidence > relationships.confidence THEN EXCLUDED.evidence_span ELSE relationships.evidence_span END,
			suggested = relationships.suggested AND EXCLUDED.suggested`,
		rel.ID, rel.WorkspaceID, rel.SourceDocID, rel.TargetDocID, rel.RelationType,
		rel.Confidence, nullableString(rel.EvidenceSpan), rel.Suggested, rel.CreatedAt,
	)
	return err
}

const relationshipColumns = `id, workspace_id, source_doc_id, target_doc_id, relation_type, confidence, evidence_span, suggested, created_at`

func (r *RelationshipRepository) ListBySource(ctx context.Context, workspaceID, sourceDocID string) ([]*domain.Relationship, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+relationshipColumns+`
		 FROM relationships
		 WHERE workspace_id = $1 AND source_doc_id = $2
		 ORDER BY confidence DESC, created_at DESC`,
		workspaceID, sourceDocID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationshipRows(rows)
}

func (r *RelationshipRepository) ListByTarget(ctx context.Context, workspaceID, targetDocID string) ([]*domain.Relationship, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+relationshipColumns+`
		 FROM relationships
		 WHERE workspace_id = $1 AND target_doc_id = $2
		 ORDER BY confidence DESC, created_at DESC`,
		workspaceID, targetDocID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationshipRows(rows)
}

func scanRelationshipRows(rows pgx.Rows) ([]*domain.Relationship, error) {
	var results []*domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		var evidence *string
		if err := rows.Scan(&rel.ID, &rel.WorkspaceID, &rel.SourceDocID, &rel.TargetDocID, &rel.RelationType, &rel.Confidence, &evidence, &rel.Suggested, &rel.CreatedAt); err != nil {
			return nil, err
		}
		rel.EvidenceSpan = stringOrEmpty(evidence)
		results = append(results, &rel)
	}
	return results, rows.Err()
}
