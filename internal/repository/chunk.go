package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence of retrieval-sized document slices
// and their vectors.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) InsertChunks(ctx context.Context, chunks []*domain.Chunk) error {
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		var embedding *pgvector.Vector
		if len(c.Embedding) > 0 {
			v := pgvector.NewVector(c.Embedding)
			embedding = &v
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO knowledge_chunks
				(id, document_id, workspace_id, version, chunk_index, content, token_count, section_label, keywords, embedding, embedding_model, superseded_at, created_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			c.ID,
			c.DocumentID,
			c.WorkspaceID,
			c.Version,
			c.ChunkIndex,
			c.Text,
			c.TokenCount,
			nullableString(c.SectionLabel),
			c.Keywords,
			embedding,
			nullableString(c.EmbeddingModel),
			c.SupersededAt,
			createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// SupersedeByDocumentLineage stamps every live chunk of the logical
// document, making the lineage's previous versions invisible to search
// while staying queryable by version.
func (r *ChunkRepository) SupersedeByDocumentLineage(ctx context.Context, workspaceID string, sourceType domain.SourceType, sourceID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE knowledge_chunks c
		 SET superseded_at = $1
		 FROM knowledge_documents d
		 WHERE c.document_id = d.id
		   AND d.workspace_id = $2 AND d.source_type = $3 AND d.source_id = $4
		   AND c.superseded_at IS NULL`,
		at, workspaceID, sourceType, sourceID,
	)
	return err
}

const chunkColumns = `id, document_id, workspace_id, version, chunk_index, content, token_count, section_label, keywords, embedding_model, superseded_at, created_at`

func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM knowledge_chunks WHERE id = $1`,
		id,
	)
	return scanChunk(row)
}

func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`
		 FROM knowledge_chunks
		 WHERE document_id = $1
		 ORDER BY chunk_index ASC`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.Chunk
	for rows.Next() {
		c, err := scanChunkFromRows(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32, model string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_chunks SET embedding = $1, embedding_model = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), model, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// GetEmbedding reads one chunk's stored vector for similarity seeding.
func (r *ChunkRepository) GetEmbedding(ctx context.Context, workspaceID, id string) ([]float32, string, error) {
	var vec *pgvector.Vector
	var model *string
	err := r.db.QueryRow(ctx,
		`SELECT embedding, embedding_model FROM knowledge_chunks WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID,
	).Scan(&vec, &model)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", domain.ErrChunkNotFound
		}
		return nil, "", err
	}
	if vec == nil {
		return nil, "", nil
	}
	return vec.Slice(), stringOrEmpty(model), nil
}

func scanChunk(row pgx.Row) (*domain.Chunk, error) {
	var c domain.Chunk
	var sectionLabel, embeddingModel *string
	err := row.Scan(&c.ID, &c.DocumentID, &c.WorkspaceID, &c.Version, &c.ChunkIndex, &c.Text, &c.TokenCount, &sectionLabel, &c.Keywords, &embeddingModel, &c.SupersededAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	c.SectionLabel = stringOrEmpty(sectionLabel)
	c.EmbeddingModel = stringOrEmpty(embeddingModel)
	return &c, nil
}

func scanChunkFromRows(rows pgx.Rows) (*domain.Chunk, error) {
	var c domain.Chunk
	var sectionLabel, embeddingModel *string
	if err := rows.Scan(&c.ID, &c.DocumentID, &c.WorkspaceID, &c.Version, &c.ChunkIndex, &c.Text, &c.TokenCount, &sectionLabel, &c.Keywords, &embeddingModel, &c.SupersededAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.SectionLabel = stringOrEmpty(sectionLabel)
	c.EmbeddingModel = stringOrEmpty(embeddingModel)
	return &c, nil
}
