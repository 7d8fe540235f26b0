package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/normalize"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// DocumentRepositoryInterface defines the repository interface for
// document lineage persistence.
type DocumentRepositoryInterface interface {
	GetLatest(ctx context.Context, workspaceID string, sourceType domain.SourceType, sourceID string) (*domain.Document, error)
	InsertVersion(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// ChunkRepositoryInterface defines the repository interface for chunk
// persistence.
type ChunkRepositoryInterface interface {
	InsertChunks(ctx context.Context, chunks []*domain.Chunk) error
	SupersedeByDocumentLineage(ctx context.Context, workspaceID string, sourceType domain.SourceType, sourceID string, at time.Time) error
}

// ObservationRepositoryInterface defines the repository interface for
// observation persistence.
type ObservationRepositoryInterface interface {
	Insert(ctx context.Context, o *domain.Observation) error
}

// EmbeddingJobRepositoryInterface defines the repository interface for
// embedding job persistence.
type EmbeddingJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.EmbeddingJob) error
}

// RelationshipJobRepositoryInterface defines the repository interface for
// relationship extraction job persistence.
type RelationshipJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.RelationshipJob) error
}

// TxRepositories exposes the transactional repositories a persist call
// writes through.
type TxRepositories interface {
	Documents() DocumentRepositoryInterface
	Chunks() ChunkRepositoryInterface
	Observations() ObservationRepositoryInterface
	EmbeddingJobs() EmbeddingJobRepositoryInterface
	RelationshipJobs() RelationshipJobRepositoryInterface
}

// TxRunner runs a function inside a single database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

// ArtifactStore uploads raw artifacts to blob storage.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, key string, contentType string, data []byte) error
}

// PersistResult reports what one persist call did, with the identifiers
// downstream fan-out needs.
type PersistResult struct {
	DidChange      bool
	DocumentID     string
	Version        int64
	ChunkIDs       []string
	ObservationIDs []string
	EmbeddingModel string
}

const persistMaxAttempts = 3

// PersistService is the persistence coordinator: it owns the single
// transaction that upserts a draft's document, chunks and observations,
// assigns the monotonic version and detects no-op writes.
type PersistService struct {
	tx             TxRunner
	artifacts      ArtifactStore
	uuidGen        UUIDGenerator
	embeddingModel string
	now            func() time.Time
}

// NewPersistService creates a new PersistService instance.
func NewPersistService(tx TxRunner, artifacts ArtifactStore, embeddingModel string) *PersistService {
	return &PersistService{
		tx:             tx,
		artifacts:      artifacts,
		uuidGen:        &DefaultUUIDGenerator{},
		embeddingModel: embeddingModel,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// NewPersistServiceWithDeps creates a PersistService with injected clock
// and UUID generation (for testing).
func NewPersistServiceWithDeps(tx TxRunner, artifacts ArtifactStore, embeddingModel string, uuidGen UUIDGenerator, now func() time.Time) *PersistService {
	return &PersistService{
		tx:             tx,
		artifacts:      artifacts,
		uuidGen:        uuidGen,
		embeddingModel: embeddingModel,
		now:            now,
	}
}

// Persist writes a draft inside one transaction. Equal content hash on the
// latest version short-circuits with DidChange=false; this is the
// authoritative dedup backstop, independent of the ingress gate. A lost
// version race re-reads the committed version and retries.
func (s *PersistService) Persist(ctx context.Context, draft *normalize.Draft) (*PersistResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "PersistService.Persist", telemetry.SpanAttributes{
		WorkspaceID: draft.Document.WorkspaceID,
		Operation:   "persist",
	})
	defer span.End()

	var result *PersistResult
	var lastErr error
	for attempt := 0; attempt < persistMaxAttempts; attempt++ {
		result, lastErr = s.persistOnce(ctx, draft)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, domain.ErrPersistenceConflict) {
			span.SetError(lastErr)
			return nil, lastErr
		}
		// Another writer committed first; re-derive against its version.
	}
	if lastErr != nil {
		span.SetError(lastErr)
		return nil, lastErr
	}

	if result.DidChange && len(draft.RawArtifacts) > 0 && s.artifacts != nil {
		if err := s.uploadArtifacts(ctx, draft, result); err != nil {
			// Fail the persist step so the caller retries it whole
			// rather than losing artifacts.
			return nil, err
		}
	}

	return result, nil
}

func (s *PersistService) persistOnce(ctx context.Context, draft *normalize.Draft) (*PersistResult, error) {
	now := s.now()
	doc := draft.Document
	result := &PersistResult{EmbeddingModel: s.embeddingModel}

	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		latest, err := repos.Documents().GetLatest(ctx, doc.WorkspaceID, doc.SourceType, doc.SourceID)
		if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
			return err
		}

		version := int64(1)
		if latest != nil {
			if latest.ContentHash == doc.ContentHash {
				result.DidChange = false
				result.DocumentID = latest.ID
				result.Version = latest.Version
				return nil
			}
			version = latest.Version + 1
		}

		documentID := s.uuidGen.NewString()
		newDoc := &domain.Document{
			ID:          documentID,
			WorkspaceID: doc.WorkspaceID,
			SourceType:  doc.SourceType,
			SourceID:    doc.SourceID,
			Title:       doc.Title,
			ContentHash: doc.ContentHash,
			Version:     version,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := domain.ValidateDocument(newDoc); err != nil {
			return err
		}
		if err := repos.Documents().InsertVersion(ctx, newDoc); err != nil {
			return err
		}

		// Old chunks are superseded, never deleted: the lineage stays
		// auditable.
		if latest != nil {
			if err := repos.Chunks().SupersedeByDocumentLineage(ctx, doc.WorkspaceID, doc.SourceType, doc.SourceID, now); err != nil {
				return err
			}
		}

		chunkIDs := make([]string, 0, len(draft.Chunks))
		chunks := make([]*domain.Chunk, 0, len(draft.Chunks))
		for _, cd := range draft.Chunks {
			chunkID := s.uuidGen.NewString()
			chunkIDs = append(chunkIDs, chunkID)
			chunks = append(chunks, &domain.Chunk{
				ID:           chunkID,
				DocumentID:   documentID,
				WorkspaceID:  doc.WorkspaceID,
				Version:      version,
				ChunkIndex:   cd.ChunkIndex,
				Text:         cd.Text,
				TokenCount:   cd.TokenCount,
				SectionLabel: cd.SectionLabel,
				Keywords:     cd.Keywords,
				CreatedAt:    now,
			})
		}
		if err := repos.Chunks().InsertChunks(ctx, chunks); err != nil {
			return err
		}

		obsIDs := make([]string, 0, len(draft.Observations))
		for _, od := range draft.Observations {
			obsID := s.uuidGen.NewString()
			obs := &domain.Observation{
				ID:              obsID,
				WorkspaceID:     doc.WorkspaceID,
				OccurredAt:      od.OccurredAt,
				ActorType:       od.ActorType,
				ActorID:         od.ActorID,
				ActorName:       od.ActorName,
				ObservationType: od.ObservationType,
				Title:           od.Title,
				Content:         od.Content,
				Topics:          od.Topics,
				SourceReferences: []domain.SourceReference{
					{DocumentID: documentID},
				},
				Importance: od.Importance,
				CreatedAt:  now,
			}
			if err := domain.ValidateObservation(obs); err != nil {
				return err
			}
			if err := repos.Observations().Insert(ctx, obs); err != nil {
				return err
			}
			obsIDs = append(obsIDs, obsID)
		}

		// Fan-out jobs ride the same transaction: a committed write always
		// has its embedding and relationship work queued.
		for _, chunkID := range chunkIDs {
			job := &domain.EmbeddingJob{
				ID:          s.uuidGen.NewString(),
				WorkspaceID: doc.WorkspaceID,
				ChunkID:     chunkID,
				Status:      domain.EmbeddingJobStatusPending,
				CreatedAt:   now,
			}
			if err := repos.EmbeddingJobs().Create(ctx, job); err != nil {
				return err
			}
		}
		for _, obsID := range obsIDs {
			job := &domain.EmbeddingJob{
				ID:            s.uuidGen.NewString(),
				WorkspaceID:   doc.WorkspaceID,
				ObservationID: obsID,
				Status:        domain.EmbeddingJobStatusPending,
				CreatedAt:     now,
			}
			if err := repos.EmbeddingJobs().Create(ctx, job); err != nil {
				return err
			}
		}

		relJob := &domain.RelationshipJob{
			ID:          s.uuidGen.NewString(),
			WorkspaceID: doc.WorkspaceID,
			DocumentID:  documentID,
			Version:     version,
			Status:      domain.EmbeddingJobStatusPending,
			CreatedAt:   now,
		}
		if err := repos.RelationshipJobs().Create(ctx, relJob); err != nil {
			return err
		}

		result.DidChange = true
		result.DocumentID = documentID
		result.Version = version
		result.ChunkIDs = chunkIDs
		result.ObservationIDs = obsIDs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PersistService) uploadArtifacts(ctx context.Context, draft *normalize.Draft, result *PersistResult) error {
	for _, artifact := range draft.RawArtifacts {
		key := fmt.Sprintf("%s/%s/v%d/%s", draft.Document.WorkspaceID, result.DocumentID, result.Version, artifact.Name)
		if err := s.artifacts.PutArtifact(ctx, key, artifact.ContentType, artifact.Data); err != nil {
			return fmt.Errorf("failed to upload raw artifact %s: %w", artifact.Name, err)
		}
	}
	return nil
}
