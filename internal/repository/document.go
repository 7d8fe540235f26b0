package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/pagination"
	"github.com/hivemindhq/hivemind/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code raised when a concurrent
// writer got the same version number first.
const uniqueViolation = "23505"

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

const documentColumns = `id, workspace_id, source_type, source_id, title, content_hash, version, parent_doc_id, created_at, updated_at`

// InsertVersion appends a new immutable version row. A unique index on
// (workspace_id, source_type, source_id, version) turns a lost race into
// ErrPersistenceConflict so the caller can re-read and retry.
func (r *DocumentRepository) InsertVersion(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_documents (id, workspace_id, source_type, source_id, title, content_hash, version, parent_doc_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.WorkspaceID, d.SourceType, d.SourceID, d.Title, d.ContentHash, d.Version, nullableString(d.ParentDocID), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrPersistenceConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM knowledge_documents WHERE id = $1`,
		id,
	)
	return scanDocument(row)
}

// GetLatest returns the highest version of the logical document, or
// ErrDocumentNotFound when the lineage does not exist yet.
func (r *DocumentRepository) GetLatest(ctx context.Context, workspaceID string, sourceType domain.SourceType, sourceID string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+`
		 FROM knowledge_documents
		 WHERE workspace_id = $1 AND source_type = $2 AND source_id = $3
		 ORDER BY version DESC LIMIT 1`,
		workspaceID, sourceType, sourceID,
	)
	return scanDocument(row)
}

// FindByReference resolves a textual cross-reference to the latest
// document carrying it, regardless of source type. Ticket keys like
// "ENG-88" are stored verbatim as source IDs; bare issue numbers arrive
// as "#412" and have to match the composite IDs GitHub ingestion
// builds, "acme/api#pr-412" or "acme/api#issue-412".
func (r *DocumentRepository) FindByReference(ctx context.Context, workspaceID, ref string) (*domain.Document, error) {
	if num, ok := strings.CutPrefix(ref, "#"); ok {
		row := r.db.QueryRow(ctx,
			`SELECT `+documentColumns+`
			 FROM knowledge_documents
			 WHERE workspace_id = $1
			   AND (source_id = $2 OR source_id LIKE '%#pr-' || $2 OR source_id LIKE '%#issue-' || $2)
			 ORDER BY version DESC LIMIT 1`,
			workspaceID, num,
		)
		return scanDocument(row)
	}
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+`
		 FROM knowledge_documents
		 WHERE workspace_id = $1 AND source_id = $2
		 ORDER BY version DESC LIMIT 1`,
		workspaceID, ref,
	)
	return scanDocument(row)
}

func (r *DocumentRepository) ListRecent(ctx context.Context, workspaceID string, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (source_type, source_id) `+documentColumns+`
		 FROM knowledge_documents
		 WHERE workspace_id = $1
		 ORDER BY source_type, source_id, version DESC, updated_at DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs, err := scanDocumentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (r *DocumentRepository) ListByWorkspaceWithCursor(ctx context.Context, workspaceID string, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM knowledge_documents
			 WHERE workspace_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			workspaceID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM knowledge_documents
			 WHERE workspace_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			workspaceID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanDocumentRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &service.DocumentPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListVersions returns the full lineage of a logical document, newest
// first.
func (r *DocumentRepository) ListVersions(ctx context.Context, workspaceID string, sourceType domain.SourceType, sourceID string) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+`
		 FROM knowledge_documents
		 WHERE workspace_id = $1 AND source_type = $2 AND source_id = $3
		 ORDER BY version DESC`,
		workspaceID, sourceType, sourceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var parentDocID *string
	err := row.Scan(&d.ID, &d.WorkspaceID, &d.SourceType, &d.SourceID, &d.Title, &d.ContentHash, &d.Version, &parentDocID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	d.ParentDocID = stringOrEmpty(parentDocID)
	return &d, nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var results []*domain.Document
	for rows.Next() {
		var d domain.Document
		var parentDocID *string
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.SourceType, &d.SourceID, &d.Title, &d.ContentHash, &d.Version, &parentDocID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.ParentDocID = stringOrEmpty(parentDocID)
		results = append(results, &d)
	}
	return results, rows.Err()
}
