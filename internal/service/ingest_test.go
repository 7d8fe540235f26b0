package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIdempotencyRepository struct {
	mock.Mock
}

func (m *MockIdempotencyRepository) Reserve(ctx context.Context, key, workspaceID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, workspaceID, ttl)
	return args.Bool(0), args.Error(1)
}

type MockDeadLetterRepository struct {
	mock.Mock
}

func (m *MockDeadLetterRepository) Insert(ctx context.Context, event *domain.DeadLetterEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// memoryPipelineRepository is a checkpoint store backed by maps, so tests
// can observe saga resume behavior without a database.
type memoryPipelineRepository struct {
	mu    sync.Mutex
	runs  map[string]*domain.PipelineRun
	steps map[string]map[string]*domain.PipelineRunStep
}

func newMemoryPipelineRepository() *memoryPipelineRepository {
	return &memoryPipelineRepository{
		runs:  map[string]*domain.PipelineRun{},
		steps: map[string]map[string]*domain.PipelineRunStep{},
	}
}

func (r *memoryPipelineRepository) UpsertRun(ctx context.Context, run *domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.EventID] = run
	return nil
}

func (r *memoryPipelineRepository) RecordStep(ctx context.Context, step *domain.PipelineRunStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.steps[step.EventID] == nil {
		r.steps[step.EventID] = map[string]*domain.PipelineRunStep{}
	}
	if _, exists := r.steps[step.EventID][step.StepName]; !exists {
		r.steps[step.EventID][step.StepName] = step
	}
	return nil
}

func (r *memoryPipelineRepository) GetSteps(ctx context.Context, eventID string) (map[string]*domain.PipelineRunStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]*domain.PipelineRunStep{}
	for name, step := range r.steps[eventID] {
		out[name] = step
	}
	return out, nil
}

func (r *memoryPipelineRepository) MarkRunStatus(ctx context.Context, eventID string, status domain.PipelineRunStatus, attempts int, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[eventID]; ok {
		run.Status = status
		run.Attempts = attempts
		run.LastError = lastError
	}
	return nil
}

func (r *memoryPipelineRepository) runStatus(eventID string) domain.PipelineRunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[eventID]; ok {
		return run.Status
	}
	return ""
}

type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) Persist(ctx context.Context, draft *normalize.Draft) (*PersistResult, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PersistResult), args.Error(1)
}

type MockCacheInvalidator struct {
	mock.Mock
}

func (m *MockCacheInvalidator) InvalidateDocument(documentID string) {
	m.Called(documentID)
}

// recordingPublisher collects published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, name string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func ingestTestEnvelope() *domain.Envelope {
	payload, _ := json.Marshal(map[string]any{
		"resource_id": "runbook-1",
		"title":       "Deploy runbook",
		"body":        "Roll the API tier one zone at a time.",
	})
	return &domain.Envelope{
		WorkspaceID:    "ws-1",
		Source:         domain.SourceTypeGeneric,
		Action:         "resource.updated",
		OccurredAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		IdempotencyKey: "delivery-1",
		Payload:        payload,
	}
}

func newTestIngestService(
	idempotency *MockIdempotencyRepository,
	deadLetters *MockDeadLetterRepository,
	pipeline PipelineRepositoryInterface,
	persister *MockPersister,
	cache CacheInvalidator,
	events EventPublisher,
) *IngestService {
	cfg := IngestConfig{IdempotencyTTL: 24 * time.Hour, MaxAttempts: 3, RetryBackoff: time.Millisecond}
	s := NewIngestService(idempotency, deadLetters, pipeline, normalize.DefaultRegistry(), persister, cache, events, cfg)
	s.sleep = func(time.Duration) {}
	return s
}

func TestIngestService_AcceptsAndPersists(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)
	cache := new(MockCacheInvalidator)
	publisher := &recordingPublisher{}

	idempotency.On("Reserve", mock.Anything, "delivery-1", "ws-1", 24*time.Hour).Return(true, nil)
	persister.On("Persist", mock.Anything, mock.Anything).Return(&PersistResult{
		DidChange:      true,
		DocumentID:     "doc-1",
		Version:        1,
		ChunkIDs:       []string{"chunk-1"},
		ObservationIDs: []string{"obs-1"},
		EmbeddingModel: "text-embedding-3-small",
	}, nil)
	cache.On("InvalidateDocument", "doc-1").Return()

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, cache, publisher)
	result, err := service.Ingest(ctx, ingestTestEnvelope())

	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "delivery-1", result.EventID)
	assert.True(t, result.Persist.DidChange)
	assert.Equal(t, domain.PipelineRunStatusCompleted, pipeline.runStatus("delivery-1"))
	assert.Equal(t, []string{EventKnowledgePersisted, EventObservationCreated}, publisher.names())
	cache.AssertExpectations(t)
	deadLetters.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIngestService_DuplicateDeliverySuppressed(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)

	idempotency.On("Reserve", mock.Anything, "delivery-1", "ws-1", mock.Anything).Return(false, nil)

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, nil, &recordingPublisher{})
	result, err := service.Ingest(ctx, ingestTestEnvelope())

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
}

func TestIngestService_DerivesKeyWhenAbsent(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)

	var reservedKey string
	idempotency.On("Reserve", mock.Anything, mock.MatchedBy(func(key string) bool {
		reservedKey = key
		return key != ""
	}), "ws-1", mock.Anything).Return(false, nil)

	env := ingestTestEnvelope()
	env.IdempotencyKey = ""

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, nil, &recordingPublisher{})
	result, err := service.Ingest(ctx, env)

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Len(t, reservedKey, 64, "derived keys are sha-256 hex")
}

func TestIngestService_FailsOpenOnIdempotencyStoreError(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)

	idempotency.On("Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, assert.AnError)
	persister.On("Persist", mock.Anything, mock.Anything).Return(&PersistResult{DidChange: false, DocumentID: "doc-1", Version: 2}, nil)

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, nil, &recordingPublisher{})
	result, err := service.Ingest(ctx, ingestTestEnvelope())

	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	persister.AssertExpectations(t)
}

func TestIngestService_MalformedEnvelopeDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)

	deadLetters.On("Insert", mock.Anything, mock.MatchedBy(func(e *domain.DeadLetterEvent) bool {
		return e.Reason != "" && len(e.Envelope) > 0
	})).Return(nil)

	env := ingestTestEnvelope()
	env.Source = ""

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, nil, &recordingPublisher{})
	_, err := service.Ingest(ctx, env)

	require.Error(t, err)
	deadLetters.AssertExpectations(t)
	idempotency.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestService_MalformedPayloadDeadLettersWithoutRetry(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)

	idempotency.On("Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	deadLetters.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()

	env := ingestTestEnvelope()
	env.Payload = []byte(`{"title": "missing resource_id and body"}`)

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, nil, &recordingPublisher{})
	_, err := service.Ingest(ctx, env)

	require.Error(t, err)
	assert.Equal(t, domain.PipelineRunStatusDeadLetter, pipeline.runStatus("delivery-1"))
	persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	deadLetters.AssertExpectations(t)
}

func TestIngestService_TransientPersistErrorRetriesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)

	idempotency.On("Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	persister.On("Persist", mock.Anything, mock.Anything).Return(nil, assert.AnError).Times(3)
	deadLetters.On("Insert", mock.Anything, mock.MatchedBy(func(e *domain.DeadLetterEvent) bool {
		return e.RetryCount == 3
	})).Return(nil)

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, nil, &recordingPublisher{})
	_, err := service.Ingest(ctx, ingestTestEnvelope())

	require.Error(t, err)
	persister.AssertExpectations(t)
	deadLetters.AssertExpectations(t)
}

func TestIngestService_ResumeSkipsCheckpointedStages(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)

	// A previous run already completed normalize and persist; only fan-out
	// remains.
	draft := &normalize.Draft{Document: normalize.DocumentDraft{WorkspaceID: "ws-1"}}
	draftData, _ := json.Marshal(draft)
	require.NoError(t, pipeline.RecordStep(ctx, &domain.PipelineRunStep{
		EventID: "delivery-1", StepName: domain.PipelineStepNormalize, Output: draftData, CompletedAt: time.Now(),
	}))
	persisted := &PersistResult{DidChange: true, DocumentID: "doc-9", Version: 2, EmbeddingModel: "text-embedding-3-small"}
	persistData, _ := json.Marshal(persisted)
	require.NoError(t, pipeline.RecordStep(ctx, &domain.PipelineRunStep{
		EventID: "delivery-1", StepName: domain.PipelineStepPersist, Output: persistData, CompletedAt: time.Now(),
	}))

	idempotency.On("Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	publisher := &recordingPublisher{}

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, nil, publisher)
	result, err := service.Ingest(ctx, ingestTestEnvelope())

	require.NoError(t, err)
	assert.Equal(t, "doc-9", result.Persist.DocumentID)
	persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	assert.Equal(t, []string{EventKnowledgePersisted}, publisher.names())
}

func TestIngestService_NoOpPersistSkipsFanOut(t *testing.T) {
	ctx := context.Background()
	idempotency := new(MockIdempotencyRepository)
	deadLetters := new(MockDeadLetterRepository)
	pipeline := newMemoryPipelineRepository()
	persister := new(MockPersister)
	cache := new(MockCacheInvalidator)
	publisher := &recordingPublisher{}

	idempotency.On("Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	persister.On("Persist", mock.Anything, mock.Anything).Return(&PersistResult{DidChange: false, DocumentID: "doc-1", Version: 5}, nil)

	service := newTestIngestService(idempotency, deadLetters, pipeline, persister, cache, publisher)
	result, err := service.Ingest(ctx, ingestTestEnvelope())

	require.NoError(t, err)
	assert.False(t, result.Persist.DidChange)
	assert.Empty(t, publisher.names())
	cache.AssertNotCalled(t, "InvalidateDocument", mock.Anything)
}
