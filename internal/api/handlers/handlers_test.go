package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hivemindhq/hivemind/internal/api/middleware"
	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/service"
)

func authenticated(req *http.Request, workspaceID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.WorkspaceIDKey, workspaceID)
	return req.WithContext(ctx)
}

type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) Ingest(ctx context.Context, env *domain.Envelope) (*service.IngestResult, error) {
	args := m.Called(ctx, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func TestIngestHandler_Accepted(t *testing.T) {
	svc := new(MockIngestService)
	handler := NewIngestHandler(svc)

	svc.On("Ingest", mock.Anything, mock.MatchedBy(func(env *domain.Envelope) bool {
		return env.WorkspaceID == "ws-1" &&
			env.Source == domain.SourceTypeGitHub &&
			env.Action == "pull_request.merged"
	})).Return(&service.IngestResult{
		EventID: "evt-1",
		Persist: &service.PersistResult{
			DidChange:  true,
			DocumentID: "doc-1",
			Version:    1,
			ChunkIDs:   []string{"chunk-1"},
		},
	}, nil)

	body, _ := json.Marshal(IngestRequest{
		Source:     "github",
		Action:     "pull_request.merged",
		OccurredAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Payload:    json.RawMessage(`{"repo":"acme/api"}`),
	})
	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body)), "ws-1")
	rec := httptest.NewRecorder()
	handler.Ingest(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data IngestResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "evt-1", resp.Data.EventID)
	assert.True(t, resp.Data.DidChange)
	assert.Equal(t, 1, resp.Data.Chunks)
}

func TestIngestHandler_DuplicateReturnsOK(t *testing.T) {
	svc := new(MockIngestService)
	handler := NewIngestHandler(svc)

	svc.On("Ingest", mock.Anything, mock.Anything).Return(&service.IngestResult{
		EventID:   "evt-1",
		Duplicate: true,
	}, nil)

	body, _ := json.Marshal(IngestRequest{Source: "github", Action: "pull_request.merged"})
	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body)), "ws-1")
	rec := httptest.NewRecorder()
	handler.Ingest(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestHandler_RequiresWorkspace(t *testing.T) {
	svc := new(MockIngestService)
	handler := NewIngestHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.Ingest(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestIngestHandler_MalformedBody(t *testing.T) {
	svc := new(MockIngestService)
	handler := NewIngestHandler(svc)

	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader([]byte("{not json"))), "ws-1")
	rec := httptest.NewRecorder()
	handler.Ingest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestHandler_DomainErrorMapped(t *testing.T) {
	svc := new(MockIngestService)
	handler := NewIngestHandler(svc)

	svc.On("Ingest", mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainError(domain.ErrCodeMalformedPayload, "payload is not valid JSON"))

	body, _ := json.Marshal(IngestRequest{Source: "github", Action: "x"})
	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body)), "ws-1")
	rec := httptest.NewRecorder()
	handler.Ingest(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MALFORMED_PAYLOAD")
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, workspaceID, query string, opts service.RetrieveOptions) (*service.RetrieveResult, error) {
	args := m.Called(ctx, workspaceID, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RetrieveResult), args.Error(1)
}

type MockAnswerer struct {
	mock.Mock
}

func (m *MockAnswerer) Answer(ctx context.Context, workspaceID, question string) (*service.AnswerResult, error) {
	args := m.Called(ctx, workspaceID, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AnswerResult), args.Error(1)
}

func TestSearchHandler_Search(t *testing.T) {
	retriever := new(MockRetriever)
	handler := NewSearchHandler(retriever, new(MockAnswerer))

	retriever.On("Retrieve", mock.Anything, "ws-1", "deploy cadence",
		service.RetrieveOptions{Mode: service.ModeKnowledge, Limit: 5}).
		Return(&service.RetrieveResult{
			Mode: service.ModeKnowledge,
			Results: []service.RankedResult{
				{Kind: service.KindChunk, ID: "chunk-1", Score: 0.9},
			},
		}, nil)

	body, _ := json.Marshal(SearchRequest{Query: "deploy cadence", Mode: "knowledge", Limit: 5})
	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(body)), "ws-1")
	rec := httptest.NewRecorder()
	handler.Search(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chunk-1")
}

func TestSearchHandler_EmptyQuery(t *testing.T) {
	retriever := new(MockRetriever)
	handler := NewSearchHandler(retriever, new(MockAnswerer))

	body, _ := json.Marshal(SearchRequest{Query: ""})
	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(body)), "ws-1")
	rec := httptest.NewRecorder()
	handler.Search(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	retriever.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchHandler_Answer(t *testing.T) {
	answerer := new(MockAnswerer)
	handler := NewSearchHandler(new(MockRetriever), answerer)

	answerer.On("Answer", mock.Anything, "ws-1", "when do deploys happen").
		Return(&service.AnswerResult{
			Answer:    "Every weekday at 10am [1].",
			Citations: []service.Citation{{Index: 1, ID: "chunk-1"}},
			Mode:      service.ModeHybrid,
		}, nil)

	body, _ := json.Marshal(AnswerRequest{Question: "when do deploys happen"})
	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/answer", bytes.NewReader(body)), "ws-1")
	rec := httptest.NewRecorder()
	handler.Answer(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Every weekday at 10am")
}

type MockLibraryService struct {
	mock.Mock
}

func (m *MockLibraryService) Fetch(ctx context.Context, workspaceID, documentID string) (*service.DocumentDetail, error) {
	args := m.Called(ctx, workspaceID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentDetail), args.Error(1)
}

func (m *MockLibraryService) FetchBatch(ctx context.Context, workspaceID string, documentIDs []string) ([]*service.DocumentDetail, error) {
	args := m.Called(ctx, workspaceID, documentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*service.DocumentDetail), args.Error(1)
}

func (m *MockLibraryService) List(ctx context.Context, workspaceID, cursorToken string, limit int) (*service.DocumentPageResult, error) {
	args := m.Called(ctx, workspaceID, cursorToken, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentPageResult), args.Error(1)
}

func (m *MockLibraryService) Versions(ctx context.Context, workspaceID, documentID string) ([]*domain.Document, error) {
	args := m.Called(ctx, workspaceID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockLibraryService) Similar(ctx context.Context, workspaceID string, kind service.CandidateKind, seedID string, limit int) ([]service.SimilarResult, error) {
	args := m.Called(ctx, workspaceID, kind, seedID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.SimilarResult), args.Error(1)
}

func documentsRouter(svc LibraryService) http.Handler {
	handler := NewDocumentHandler(svc)
	r := chi.NewRouter()
	r.Get("/v1/documents", handler.List)
	r.Get("/v1/documents/{id}", handler.Get)
	r.Get("/v1/documents/{id}/versions", handler.Versions)
	r.Post("/v1/documents/batch", handler.Batch)
	r.Post("/v1/documents/similar", handler.Similar)
	return r
}

func TestDocumentHandler_Get(t *testing.T) {
	svc := new(MockLibraryService)
	router := documentsRouter(svc)

	svc.On("Fetch", mock.Anything, "ws-1", "doc-1").Return(&service.DocumentDetail{
		Document: &domain.Document{
			ID:         "doc-1",
			SourceType: domain.SourceTypeGitHub,
			SourceID:   "acme/api#pr-42",
			Title:      "Fix connection pool exhaustion",
			Version:    2,
		},
		Chunks: []*domain.Chunk{
			{ID: "chunk-1", ChunkIndex: 0, Text: "Capped the pool at 50.", TokenCount: 7},
		},
		Relationships: []*domain.Relationship{
			{TargetDocID: "doc-2", RelationType: domain.RelationTypeFixes, Confidence: 1.0},
		},
	}, nil)

	req := authenticated(httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil), "ws-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data DocumentDetailResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp.Data.Document.ID)
	require.Len(t, resp.Data.Chunks, 1)
	assert.Equal(t, "Capped the pool at 50.", resp.Data.Chunks[0].Text)
	require.Len(t, resp.Data.Relationships, 1)
	assert.Equal(t, "fixes", resp.Data.Relationships[0].RelationType)
}

func TestDocumentHandler_GetNotFound(t *testing.T) {
	svc := new(MockLibraryService)
	router := documentsRouter(svc)

	svc.On("Fetch", mock.Anything, "ws-1", "doc-gone").Return(nil, domain.ErrDocumentNotFound)

	req := authenticated(httptest.NewRequest(http.MethodGet, "/v1/documents/doc-gone", nil), "ws-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentHandler_ListRejectsBadLimit(t *testing.T) {
	svc := new(MockLibraryService)
	router := documentsRouter(svc)

	req := authenticated(httptest.NewRequest(http.MethodGet, "/v1/documents?limit=zero", nil), "ws-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDocumentHandler_ListPassesCursor(t *testing.T) {
	svc := new(MockLibraryService)
	router := documentsRouter(svc)

	svc.On("List", mock.Anything, "ws-1", "abc123", 25).Return(&service.DocumentPageResult{
		Items:      []*domain.Document{{ID: "doc-1"}},
		NextCursor: "next-token",
		HasMore:    true,
	}, nil)

	req := authenticated(httptest.NewRequest(http.MethodGet, "/v1/documents?cursor=abc123&limit=25", nil), "ws-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "next-token")
}

func TestDocumentHandler_BatchRequiresIDs(t *testing.T) {
	svc := new(MockLibraryService)
	router := documentsRouter(svc)

	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/documents/batch", bytes.NewReader([]byte(`{"ids":[]}`))), "ws-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentHandler_SimilarDefaultsToChunkKind(t *testing.T) {
	svc := new(MockLibraryService)
	router := documentsRouter(svc)

	svc.On("Similar", mock.Anything, "ws-1", service.KindChunk, "chunk-1", 10).
		Return([]service.SimilarResult{
			{Kind: service.KindChunk, ID: "chunk-2", Score: 0.9},
		}, nil)

	req := authenticated(httptest.NewRequest(http.MethodPost, "/v1/documents/similar",
		bytes.NewReader([]byte(`{"id":"chunk-1"}`))), "ws-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chunk-2")
}
