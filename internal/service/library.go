package service

import (
	"context"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/pagination"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// DocumentPageResult is one page of a workspace document listing.
type DocumentPageResult struct {
	Items      []*domain.Document
	NextCursor string
	HasMore    bool
}

// LibraryRepositoryInterface is the read surface for fetch and listing.
type LibraryRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByWorkspaceWithCursor(ctx context.Context, workspaceID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)
	ListVersions(ctx context.Context, workspaceID string, sourceType domain.SourceType, sourceID string) ([]*domain.Document, error)
}

// LibraryChunkRepositoryInterface reads a document's live chunks.
type LibraryChunkRepositoryInterface interface {
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error)
}

// SimilarityIndex finds nearest neighbors to a seed vector.
type SimilarityIndex interface {
	DenseChunks(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]SignalHit, error)
	DenseObservations(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]SignalHit, error)
}

// SeedVectorLookup resolves the stored embedding of a seed chunk or
// observation.
type SeedVectorLookup interface {
	ChunkEmbedding(ctx context.Context, workspaceID, chunkID string) ([]float32, string, error)
	ObservationEmbedding(ctx context.Context, workspaceID, observationID string) ([]float32, string, error)
}

// DocumentDetail is a fully hydrated document: latest version, live
// chunks and outgoing relationships.
type DocumentDetail struct {
	Document      *domain.Document       `json:"document"`
	Chunks        []*domain.Chunk        `json:"chunks"`
	Relationships []*domain.Relationship `json:"relationships"`
}

// SimilarResult is one nearest-neighbor hit.
type SimilarResult struct {
	Kind       CandidateKind `json:"kind"`
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id,omitempty"`
	Score      float64       `json:"score"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// LibraryService serves fetch, listing and similar-item lookups.
type LibraryService struct {
	documents LibraryRepositoryInterface
	chunks    LibraryChunkRepositoryInterface
	relations RelationshipRepositoryInterface
	index     SimilarityIndex
	seeds     SeedVectorLookup
}

// NewLibraryService creates a new LibraryService instance.
func NewLibraryService(
	documents LibraryRepositoryInterface,
	chunks LibraryChunkRepositoryInterface,
	relations RelationshipRepositoryInterface,
	index SimilarityIndex,
	seeds SeedVectorLookup,
) *LibraryService {
	return &LibraryService{
		documents: documents,
		chunks:    chunks,
		relations: relations,
		index:     index,
		seeds:     seeds,
	}
}

// Fetch returns one document with its live chunks and relationships.
// Requests for documents outside the caller's workspace surface as not
// found.
func (s *LibraryService) Fetch(ctx context.Context, workspaceID, documentID string) (*DocumentDetail, error) {
	ctx, span := telemetry.StartSpan(ctx, "LibraryService.Fetch", telemetry.SpanAttributes{
		WorkspaceID: workspaceID,
		DocumentID:  documentID,
		Operation:   "fetch",
	})
	defer span.End()

	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.WorkspaceID != workspaceID {
		return nil, domain.ErrDocumentNotFound
	}

	chunks, err := s.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	live := chunks[:0]
	for _, c := range chunks {
		if c.SupersededAt == nil {
			live = append(live, c)
		}
	}

	relations, err := s.relations.ListBySource(ctx, workspaceID, doc.ID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	return &DocumentDetail{Document: doc, Chunks: live, Relationships: relations}, nil
}

// FetchBatch resolves several documents in one call. Missing IDs are
// omitted from the result rather than failing the batch.
func (s *LibraryService) FetchBatch(ctx context.Context, workspaceID string, documentIDs []string) ([]*DocumentDetail, error) {
	details := make([]*DocumentDetail, 0, len(documentIDs))
	for _, id := range documentIDs {
		detail, err := s.Fetch(ctx, workspaceID, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		details = append(details, detail)
	}
	return details, nil
}

// List pages through a workspace's documents, newest first.
func (s *LibraryService) List(ctx context.Context, workspaceID, cursorToken string, limit int) (*DocumentPageResult, error) {
	cursor, err := pagination.DecodeCursor(cursorToken)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return s.documents.ListByWorkspaceWithCursor(ctx, workspaceID, cursor, limit)
}

// Versions returns the full lineage of the logical document the given
// document belongs to, newest first.
func (s *LibraryService) Versions(ctx context.Context, workspaceID, documentID string) ([]*domain.Document, error) {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.WorkspaceID != workspaceID {
		return nil, domain.ErrDocumentNotFound
	}
	return s.documents.ListVersions(ctx, workspaceID, doc.SourceType, doc.SourceID)
}

// Similar finds nearest neighbors to a seed chunk or observation using
// its stored embedding. A seed without an embedding yet returns an empty
// result, not an error.
func (s *LibraryService) Similar(ctx context.Context, workspaceID string, kind CandidateKind, seedID string, limit int) ([]SimilarResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "LibraryService.Similar", telemetry.SpanAttributes{
		WorkspaceID: workspaceID,
		Operation:   "similar",
	})
	defer span.End()

	if limit <= 0 {
		limit = 10
	}

	var vector []float32
	var model string
	var err error
	switch kind {
	case KindChunk:
		vector, model, err = s.seeds.ChunkEmbedding(ctx, workspaceID, seedID)
	case KindObservation:
		vector, model, err = s.seeds.ObservationEmbedding(ctx, workspaceID, seedID)
	default:
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "similar seeds must be a chunk or observation")
	}
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return []SimilarResult{}, nil
	}

	var hits []SignalHit
	switch kind {
	case KindChunk:
		hits, err = s.index.DenseChunks(ctx, workspaceID, vector, model, limit+1)
	case KindObservation:
		hits, err = s.index.DenseObservations(ctx, workspaceID, vector, model, limit+1)
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	scores := rankScores(len(hits))
	results := make([]SimilarResult, 0, len(hits))
	for i, h := range hits {
		if h.ID == seedID {
			continue
		}
		results = append(results, SimilarResult{
			Kind:       h.Kind,
			ID:         h.ID,
			DocumentID: h.DocumentID,
			Score:      scores[i],
			OccurredAt: h.OccurredAt,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}
