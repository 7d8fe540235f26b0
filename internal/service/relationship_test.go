package service

import (
	"context"
	"testing"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRelationshipQueue struct {
	mock.Mock
}

func (m *MockRelationshipQueue) ClaimPending(ctx context.Context, limit int) ([]*domain.RelationshipJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RelationshipJob), args.Error(1)
}

func (m *MockRelationshipQueue) MarkCompleted(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockRelationshipQueue) MarkSkipped(ctx context.Context, jobID string, reason string) error {
	args := m.Called(ctx, jobID, reason)
	return args.Error(0)
}

func (m *MockRelationshipQueue) MarkFailed(ctx context.Context, jobID string, jobErr string, maxRetries int) error {
	args := m.Called(ctx, jobID, jobErr, maxRetries)
	return args.Error(0)
}

type MockRelationStore struct {
	mock.Mock
}

func (m *MockRelationStore) Upsert(ctx context.Context, r *domain.Relationship) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRelationStore) ListBySource(ctx context.Context, workspaceID, sourceDocID string) ([]*domain.Relationship, error) {
	args := m.Called(ctx, workspaceID, sourceDocID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Relationship), args.Error(1)
}

type MockDocumentLookup struct {
	mock.Mock
}

func (m *MockDocumentLookup) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentLookup) FindByReference(ctx context.Context, workspaceID, ref string) (*domain.Document, error) {
	args := m.Called(ctx, workspaceID, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentLookup) ListRecent(ctx context.Context, workspaceID string, limit int) ([]*domain.Document, error) {
	args := m.Called(ctx, workspaceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

type MockChunkTextLookup struct {
	mock.Mock
}

func (m *MockChunkTextLookup) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

type MockRelationProposer struct {
	mock.Mock
}

func (m *MockRelationProposer) ProposeRelations(ctx context.Context, docText string, candidates []string) ([]RelationProposal, error) {
	args := m.Called(ctx, docText, candidates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RelationProposal), args.Error(1)
}

type relationshipFixture struct {
	queue     *MockRelationshipQueue
	relations *MockRelationStore
	documents *MockDocumentLookup
	chunks    *MockChunkTextLookup
	proposer  *MockRelationProposer
	service   *RelationshipService
}

func newRelationshipFixture(withProposer bool) *relationshipFixture {
	f := &relationshipFixture{
		queue:     new(MockRelationshipQueue),
		relations: new(MockRelationStore),
		documents: new(MockDocumentLookup),
		chunks:    new(MockChunkTextLookup),
		proposer:  new(MockRelationProposer),
	}
	var proposer RelationProposer
	if withProposer {
		proposer = f.proposer
	}
	f.service = NewRelationshipService(f.queue, f.relations, f.documents, f.chunks, proposer, DefaultRelationshipConfig())
	return f
}

func relationshipTestJob() *domain.RelationshipJob {
	return &domain.RelationshipJob{
		ID:          "rjob-1",
		WorkspaceID: "ws-1",
		DocumentID:  "doc-1",
		Version:     2,
	}
}

func relationshipTestDoc() *domain.Document {
	return &domain.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-1",
		SourceType:  domain.SourceTypeGitHub,
		SourceID:    "acme/api#pr-42",
		Title:       "Fix connection pool exhaustion",
		Version:     2,
	}
}

func TestRelationshipService_DeterministicReferences(t *testing.T) {
	f := newRelationshipFixture(false)
	job := relationshipTestJob()
	doc := relationshipTestDoc()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-1", Text: "Fixes #412 by capping pool size. See ENG-88 for the follow-up."},
	}, nil)

	f.documents.On("FindByReference", mock.Anything, "ws-1", "#412").Return(&domain.Document{ID: "doc-issue-412"}, nil)
	f.documents.On("FindByReference", mock.Anything, "ws-1", "ENG-88").Return(&domain.Document{ID: "doc-eng-88"}, nil)

	var upserted []*domain.Relationship
	f.relations.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		upserted = append(upserted, args.Get(1).(*domain.Relationship))
	}).Return(nil)
	f.queue.On("MarkCompleted", mock.Anything, "rjob-1").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, upserted, 2)
	byTarget := map[string]*domain.Relationship{}
	for _, r := range upserted {
		byTarget[r.TargetDocID] = r
	}

	fixed := byTarget["doc-issue-412"]
	require.NotNil(t, fixed)
	assert.Equal(t, domain.RelationTypeFixes, fixed.RelationType)
	assert.Equal(t, 1.0, fixed.Confidence)
	assert.False(t, fixed.Suggested)
	assert.Contains(t, fixed.EvidenceSpan, "412")

	referenced := byTarget["doc-eng-88"]
	require.NotNil(t, referenced)
	assert.Equal(t, domain.RelationTypeReferences, referenced.RelationType)
	assert.Equal(t, 1.0, referenced.Confidence)

	f.queue.AssertCalled(t, "MarkCompleted", mock.Anything, "rjob-1")
}

func TestRelationshipService_SupersededVersionSkipped(t *testing.T) {
	f := newRelationshipFixture(false)
	job := relationshipTestJob()
	doc := relationshipTestDoc()
	doc.Version = 3

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.queue.On("MarkSkipped", mock.Anything, "rjob-1", "document version superseded").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	f.relations.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	f.queue.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
}

func TestRelationshipService_DeletedDocumentSkipped(t *testing.T) {
	f := newRelationshipFixture(false)
	job := relationshipTestJob()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(nil, domain.ErrDocumentNotFound)
	f.queue.On("MarkSkipped", mock.Anything, "rjob-1", "document no longer exists").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)
	f.queue.AssertCalled(t, "MarkSkipped", mock.Anything, "rjob-1", "document no longer exists")
}

func TestRelationshipService_UnresolvableReferenceIgnored(t *testing.T) {
	f := newRelationshipFixture(false)
	job := relationshipTestJob()
	doc := relationshipTestDoc()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-1", Text: "Closes #999 which lives in a repo never ingested."},
	}, nil)
	f.documents.On("FindByReference", mock.Anything, "ws-1", "#999").Return(nil, domain.ErrDocumentNotFound)
	f.queue.On("MarkCompleted", mock.Anything, "rjob-1").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)
	f.relations.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRelationshipService_SelfReferenceIgnored(t *testing.T) {
	f := newRelationshipFixture(false)
	job := relationshipTestJob()
	doc := relationshipTestDoc()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-1", Text: "Tracking issue #42."},
	}, nil)
	// the reference resolves back to the document under extraction
	f.documents.On("FindByReference", mock.Anything, "ws-1", "#42").Return(doc, nil)
	f.queue.On("MarkCompleted", mock.Anything, "rjob-1").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)
	f.relations.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRelationshipService_SupersededChunksExcluded(t *testing.T) {
	f := newRelationshipFixture(false)
	job := relationshipTestJob()
	doc := relationshipTestDoc()
	superseded := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-old", Text: "Fixes #412.", SupersededAt: &superseded},
		{ID: "chunk-new", Text: "No external references in the current revision."},
	}, nil)
	f.queue.On("MarkCompleted", mock.Anything, "rjob-1").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	f.documents.AssertNotCalled(t, "FindByReference", mock.Anything, mock.Anything, mock.Anything)
	f.relations.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestRelationshipService_ProposalConfidenceGating(t *testing.T) {
	f := newRelationshipFixture(true)
	job := relationshipTestJob()
	doc := relationshipTestDoc()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-1", Text: "Reworked the pooling layer."},
	}, nil)
	f.documents.On("ListRecent", mock.Anything, "ws-1", 20).Return([]*domain.Document{
		doc, // the document itself is excluded from candidates
		{ID: "doc-a", SourceID: "ENG-401", Title: "Pool sizing incident"},
		{ID: "doc-b", SourceID: "ENG-402", Title: "Connection retry design"},
	}, nil)
	f.proposer.On("ProposeRelations", mock.Anything, mock.Anything,
		[]string{"ENG-401: Pool sizing incident", "ENG-402: Connection retry design"}).
		Return([]RelationProposal{
			{TargetSourceID: "ENG-401", RelationType: "fixes", Confidence: 0.9, Rationale: "same incident"},
			{TargetSourceID: "ENG-402", RelationType: "related_to", Confidence: 0.5, Rationale: "adjacent work"},
			{TargetSourceID: "ENG-999", RelationType: "references", Confidence: 0.95},
		}, nil)

	var upserted []*domain.Relationship
	f.relations.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		upserted = append(upserted, args.Get(1).(*domain.Relationship))
	}).Return(nil)
	f.queue.On("MarkCompleted", mock.Anything, "rjob-1").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	// ENG-999 is not a known candidate and is dropped
	require.Len(t, upserted, 2)

	accepted := upserted[0]
	assert.Equal(t, "doc-a", accepted.TargetDocID)
	assert.Equal(t, domain.RelationTypeFixes, accepted.RelationType)
	assert.False(t, accepted.Suggested)
	assert.Equal(t, "same incident", accepted.EvidenceSpan)

	suggested := upserted[1]
	assert.Equal(t, "doc-b", suggested.TargetDocID)
	assert.Equal(t, domain.RelationTypeRelatedTo, suggested.RelationType)
	assert.True(t, suggested.Suggested, "below the confidence gate the edge is stored as a suggestion")
}

func TestRelationshipService_ProposerFailureKeepsDeterministicEdges(t *testing.T) {
	f := newRelationshipFixture(true)
	job := relationshipTestJob()
	doc := relationshipTestDoc()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-1", Text: "Resolves ENG-88."},
	}, nil)
	f.documents.On("FindByReference", mock.Anything, "ws-1", "ENG-88").Return(&domain.Document{ID: "doc-eng-88"}, nil)
	f.documents.On("ListRecent", mock.Anything, "ws-1", 20).Return(nil, assert.AnError)

	var upserted []*domain.Relationship
	f.relations.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		upserted = append(upserted, args.Get(1).(*domain.Relationship))
	}).Return(nil)
	f.queue.On("MarkCompleted", mock.Anything, "rjob-1").Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, upserted, 1)
	assert.Equal(t, domain.RelationTypeFixes, upserted[0].RelationType)
	f.queue.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelationshipService_UpsertFailureFailsJob(t *testing.T) {
	f := newRelationshipFixture(false)
	job := relationshipTestJob()
	doc := relationshipTestDoc()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-1", Text: "Fixes #412."},
	}, nil)
	f.documents.On("FindByReference", mock.Anything, "ws-1", "#412").Return(&domain.Document{ID: "doc-issue-412"}, nil)
	f.relations.On("Upsert", mock.Anything, mock.Anything).Return(assert.AnError)
	f.queue.On("MarkFailed", mock.Anything, "rjob-1", mock.Anything, 3).Return(nil)

	err := f.service.ProcessJob(context.Background(), job)
	require.Error(t, err)
	f.queue.AssertCalled(t, "MarkFailed", mock.Anything, "rjob-1", mock.Anything, 3)
	f.queue.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
}
