package service

import (
	"context"
	"testing"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLibraryRepository struct {
	mock.Mock
}

func (m *MockLibraryRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockLibraryRepository) ListByWorkspaceWithCursor(ctx context.Context, workspaceID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error) {
	args := m.Called(ctx, workspaceID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DocumentPageResult), args.Error(1)
}

func (m *MockLibraryRepository) ListVersions(ctx context.Context, workspaceID string, sourceType domain.SourceType, sourceID string) ([]*domain.Document, error) {
	args := m.Called(ctx, workspaceID, sourceType, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

type MockSeedVectorLookup struct {
	mock.Mock
}

func (m *MockSeedVectorLookup) ChunkEmbedding(ctx context.Context, workspaceID, chunkID string) ([]float32, string, error) {
	args := m.Called(ctx, workspaceID, chunkID)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]float32), args.String(1), args.Error(2)
}

func (m *MockSeedVectorLookup) ObservationEmbedding(ctx context.Context, workspaceID, observationID string) ([]float32, string, error) {
	args := m.Called(ctx, workspaceID, observationID)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]float32), args.String(1), args.Error(2)
}

type libraryFixture struct {
	documents *MockLibraryRepository
	chunks    *MockChunkTextLookup
	relations *MockRelationStore
	index     *MockSearchIndex
	seeds     *MockSeedVectorLookup
	service   *LibraryService
}

func newLibraryFixture() *libraryFixture {
	f := &libraryFixture{
		documents: new(MockLibraryRepository),
		chunks:    new(MockChunkTextLookup),
		relations: new(MockRelationStore),
		index:     new(MockSearchIndex),
		seeds:     new(MockSeedVectorLookup),
	}
	f.service = NewLibraryService(f.documents, f.chunks, f.relations, f.index, f.seeds)
	return f
}

func TestLibraryService_FetchReturnsLiveChunksOnly(t *testing.T) {
	f := newLibraryFixture()
	superseded := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(&domain.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-1",
		Title:       "Runbook",
	}, nil)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{
		{ID: "chunk-old", SupersededAt: &superseded},
		{ID: "chunk-live"},
	}, nil)
	f.relations.On("ListBySource", mock.Anything, "ws-1", "doc-1").Return([]*domain.Relationship{
		{ID: "rel-1", SourceDocID: "doc-1", TargetDocID: "doc-2"},
	}, nil)

	detail, err := f.service.Fetch(context.Background(), "ws-1", "doc-1")
	require.NoError(t, err)

	require.Len(t, detail.Chunks, 1)
	assert.Equal(t, "chunk-live", detail.Chunks[0].ID)
	require.Len(t, detail.Relationships, 1)
}

func TestLibraryService_FetchEnforcesWorkspaceIsolation(t *testing.T) {
	f := newLibraryFixture()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(&domain.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-other",
	}, nil)

	_, err := f.service.Fetch(context.Background(), "ws-1", "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	f.chunks.AssertNotCalled(t, "ListByDocument", mock.Anything, mock.Anything)
}

func TestLibraryService_FetchBatchOmitsMissing(t *testing.T) {
	f := newLibraryFixture()

	f.documents.On("GetByID", mock.Anything, "doc-1").Return(&domain.Document{
		ID:          "doc-1",
		WorkspaceID: "ws-1",
	}, nil)
	f.documents.On("GetByID", mock.Anything, "doc-gone").Return(nil, domain.ErrDocumentNotFound)
	f.chunks.On("ListByDocument", mock.Anything, "doc-1").Return([]*domain.Chunk{}, nil)
	f.relations.On("ListBySource", mock.Anything, "ws-1", "doc-1").Return([]*domain.Relationship{}, nil)

	details, err := f.service.FetchBatch(context.Background(), "ws-1", []string{"doc-1", "doc-gone"})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "doc-1", details[0].Document.ID)
}

func TestLibraryService_ListRejectsInvalidCursor(t *testing.T) {
	f := newLibraryFixture()

	_, err := f.service.List(context.Background(), "ws-1", "not-base64!!", 20)
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
}

func TestLibraryService_ListPassesDecodedCursor(t *testing.T) {
	f := newLibraryFixture()
	lastSeen := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	token := pagination.EncodeCursor("doc-9", lastSeen)

	f.documents.On("ListByWorkspaceWithCursor", mock.Anything, "ws-1", mock.Anything, 20).
		Run(func(args mock.Arguments) {
			cursor := args.Get(2).(*pagination.Cursor)
			require.NotNil(t, cursor)
			assert.Equal(t, "doc-9", cursor.LastID)
			assert.True(t, cursor.Timestamp.Equal(lastSeen))
		}).
		Return(&DocumentPageResult{Items: []*domain.Document{}, HasMore: false}, nil)

	_, err := f.service.List(context.Background(), "ws-1", token, 20)
	require.NoError(t, err)
	f.documents.AssertExpectations(t)
}

func TestLibraryService_VersionsFollowsLineage(t *testing.T) {
	f := newLibraryFixture()

	f.documents.On("GetByID", mock.Anything, "doc-v2").Return(&domain.Document{
		ID:          "doc-v2",
		WorkspaceID: "ws-1",
		SourceType:  domain.SourceTypeLinear,
		SourceID:    "ENG-412",
		Version:     2,
	}, nil)
	f.documents.On("ListVersions", mock.Anything, "ws-1", domain.SourceTypeLinear, "ENG-412").Return([]*domain.Document{
		{ID: "doc-v2", Version: 2},
		{ID: "doc-v1", Version: 1},
	}, nil)

	versions, err := f.service.Versions(context.Background(), "ws-1", "doc-v2")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(2), versions[0].Version)
}

func TestLibraryService_SimilarExcludesSeed(t *testing.T) {
	f := newLibraryFixture()

	f.seeds.On("ChunkEmbedding", mock.Anything, "ws-1", "chunk-1").
		Return([]float32{0.1, 0.2}, "text-embedding-3-small", nil)
	f.index.On("DenseChunks", mock.Anything, "ws-1", []float32{0.1, 0.2}, "text-embedding-3-small", 3).
		Return([]SignalHit{
			{Kind: KindChunk, ID: "chunk-1"},
			{Kind: KindChunk, ID: "chunk-2", DocumentID: "doc-2"},
			{Kind: KindChunk, ID: "chunk-3", DocumentID: "doc-3"},
		}, nil)

	results, err := f.service.Similar(context.Background(), "ws-1", KindChunk, "chunk-1", 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "chunk-2", results[0].ID)
	assert.Equal(t, "chunk-3", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestLibraryService_SimilarWithoutEmbeddingIsEmpty(t *testing.T) {
	f := newLibraryFixture()

	f.seeds.On("ObservationEmbedding", mock.Anything, "ws-1", "obs-1").Return(nil, "", nil)

	results, err := f.service.Similar(context.Background(), "ws-1", KindObservation, "obs-1", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	f.index.AssertNotCalled(t, "DenseObservations", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLibraryService_SimilarRejectsOtherKinds(t *testing.T) {
	f := newLibraryFixture()

	_, err := f.service.Similar(context.Background(), "ws-1", KindSummary, "sum-1", 5)
	assert.Error(t, err)
}
