package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/normalize"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// IdempotencyRepositoryInterface reserves idempotency keys with
// succeed-or-lose-race semantics.
type IdempotencyRepositoryInterface interface {
	// Reserve atomically claims the key for the given TTL. Returns false
	// when a live reservation already exists.
	Reserve(ctx context.Context, key, workspaceID string, ttl time.Duration) (bool, error)
}

// DeadLetterRepositoryInterface persists events that cannot be processed.
type DeadLetterRepositoryInterface interface {
	Insert(ctx context.Context, event *domain.DeadLetterEvent) error
}

// PipelineRepositoryInterface checkpoints pipeline runs and their steps.
type PipelineRepositoryInterface interface {
	UpsertRun(ctx context.Context, run *domain.PipelineRun) error
	RecordStep(ctx context.Context, step *domain.PipelineRunStep) error
	GetSteps(ctx context.Context, eventID string) (map[string]*domain.PipelineRunStep, error)
	MarkRunStatus(ctx context.Context, eventID string, status domain.PipelineRunStatus, attempts int, lastError string) error
}

// NormalizerRegistry resolves and runs per-source normalization.
type NormalizerRegistry interface {
	Normalize(ctx context.Context, env *domain.Envelope) (*normalize.Draft, error)
}

// Persister executes the persistence coordinator.
type Persister interface {
	Persist(ctx context.Context, draft *normalize.Draft) (*PersistResult, error)
}

// CacheInvalidator drops or refreshes hydration-cache entries after a
// write commits.
type CacheInvalidator interface {
	InvalidateDocument(documentID string)
}

// IngestResult reports the gate decision and, for accepted events, what
// persistence did.
type IngestResult struct {
	Duplicate bool
	EventID   string
	Persist   *PersistResult
}

// IngestConfig tunes the ingress gate and pipeline driver.
type IngestConfig struct {
	IdempotencyTTL time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// DefaultIngestConfig provides the documented defaults: 24h key TTL,
// three attempts with exponential backoff.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		IdempotencyTTL: 24 * time.Hour,
		MaxAttempts:    3,
		RetryBackoff:   500 * time.Millisecond,
	}
}

// IngestService is the ingress gate plus the resumable pipeline driver.
// Each stage (normalize, persist, fanout) checkpoints its completion so a
// crashed run resumes where it stopped instead of redoing side effects.
type IngestService struct {
	idempotency IdempotencyRepositoryInterface
	deadLetters DeadLetterRepositoryInterface
	pipeline    PipelineRepositoryInterface
	registry    NormalizerRegistry
	persister   Persister
	cache       CacheInvalidator
	events      EventPublisher
	cfg         IngestConfig
	uuidGen     UUIDGenerator
	now         func() time.Time
	sleep       func(time.Duration)
}

// NewIngestService creates a new IngestService instance.
func NewIngestService(
	idempotency IdempotencyRepositoryInterface,
	deadLetters DeadLetterRepositoryInterface,
	pipeline PipelineRepositoryInterface,
	registry NormalizerRegistry,
	persister Persister,
	cache CacheInvalidator,
	events EventPublisher,
	cfg IngestConfig,
) *IngestService {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultIngestConfig()
	}
	if events == nil {
		events = &LogEventPublisher{}
	}
	return &IngestService{
		idempotency: idempotency,
		deadLetters: deadLetters,
		pipeline:    pipeline,
		registry:    registry,
		persister:   persister,
		cache:       cache,
		events:      events,
		cfg:         cfg,
		uuidGen:     &DefaultUUIDGenerator{},
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       time.Sleep,
	}
}

// Ingest runs one envelope through the gate and the staged pipeline.
// Duplicate deliveries return Duplicate=true without touching downstream
// state. Malformed payloads are dead-lettered immediately: retrying them
// cannot succeed.
func (s *IngestService) Ingest(ctx context.Context, env *domain.Envelope) (*IngestResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Ingest", telemetry.SpanAttributes{
		WorkspaceID: env.WorkspaceID,
		Operation:   "ingest",
	})
	defer span.End()

	if err := domain.ValidateEnvelope(env); err != nil {
		s.deadLetter(ctx, env, err.Error(), 0)
		span.SetError(err)
		return nil, err
	}

	key := env.IdempotencyKey
	if key == "" {
		digest := sha256.Sum256(env.Payload)
		key = domain.DeriveIdempotencyKey(env, hex.EncodeToString(digest[:]))
	}

	reserved, err := s.idempotency.Reserve(ctx, key, env.WorkspaceID, s.cfg.IdempotencyTTL)
	if err != nil {
		// Fail open: a missed duplicate suppression beats dropping a
		// legitimate event. The content hash at persist time is the
		// backstop.
		log.Printf("idempotency store error for key %s, continuing unchecked: %v", key, err)
		telemetry.AddBreadcrumb(ctx, "ingest", "idempotency check skipped: store error")
	} else if !reserved {
		telemetry.AddBreadcrumb(ctx, "ingest", "duplicate event suppressed")
		return &IngestResult{Duplicate: true, EventID: key}, nil
	}

	result, err := s.runPipeline(ctx, key, env)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return result, nil
}

// runPipeline drives the saga: each stage re-checks the checkpoint table
// and skips completed steps, so a retried run repeats no side effects.
func (s *IngestService) runPipeline(ctx context.Context, eventID string, env *domain.Envelope) (*IngestResult, error) {
	now := s.now()
	if err := s.pipeline.UpsertRun(ctx, &domain.PipelineRun{
		EventID:     eventID,
		WorkspaceID: env.WorkspaceID,
		Status:      domain.PipelineRunStatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("failed to start pipeline run: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		result, err := s.runStages(ctx, eventID, env)
		if err == nil {
			if markErr := s.pipeline.MarkRunStatus(ctx, eventID, domain.PipelineRunStatusCompleted, attempt, ""); markErr != nil {
				log.Printf("pipeline run %s completed but status update failed: %v", eventID, markErr)
			}
			return result, nil
		}

		var domainErr *domain.DomainError
		if errors.As(err, &domainErr) && domainErr.Code == domain.ErrCodeMalformedPayload {
			s.deadLetter(ctx, env, err.Error(), attempt)
			_ = s.pipeline.MarkRunStatus(ctx, eventID, domain.PipelineRunStatusDeadLetter, attempt, err.Error())
			return nil, err
		}

		lastErr = err
		if attempt < s.cfg.MaxAttempts {
			s.sleep(s.cfg.RetryBackoff * time.Duration(1<<(attempt-1)))
		}
	}

	s.deadLetter(ctx, env, lastErr.Error(), s.cfg.MaxAttempts)
	_ = s.pipeline.MarkRunStatus(ctx, eventID, domain.PipelineRunStatusDeadLetter, s.cfg.MaxAttempts, lastErr.Error())
	return nil, fmt.Errorf("pipeline exhausted retries: %w", lastErr)
}

func (s *IngestService) runStages(ctx context.Context, eventID string, env *domain.Envelope) (*IngestResult, error) {
	steps, err := s.pipeline.GetSteps(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline checkpoints: %w", err)
	}

	// Stage 1: normalize.
	var draft *normalize.Draft
	if step, done := steps[domain.PipelineStepNormalize]; done {
		draft = &normalize.Draft{}
		if err := json.Unmarshal(step.Output, draft); err != nil {
			return nil, fmt.Errorf("corrupt normalize checkpoint: %w", err)
		}
	} else {
		draft, err = s.registry.Normalize(ctx, env)
		if err != nil {
			return nil, err
		}
		if err := s.checkpoint(ctx, eventID, domain.PipelineStepNormalize, draft); err != nil {
			return nil, err
		}
	}

	// Stage 2: persist. Safe to re-run; the content hash makes it
	// idempotent even without the checkpoint.
	var persistResult *PersistResult
	if step, done := steps[domain.PipelineStepPersist]; done {
		persistResult = &PersistResult{}
		if err := json.Unmarshal(step.Output, persistResult); err != nil {
			return nil, fmt.Errorf("corrupt persist checkpoint: %w", err)
		}
	} else {
		persistResult, err = s.persister.Persist(ctx, draft)
		if err != nil {
			return nil, err
		}
		if err := s.checkpoint(ctx, eventID, domain.PipelineStepPersist, persistResult); err != nil {
			return nil, err
		}
	}

	// Stage 3: fan-out. Embedding and relationship jobs were queued in
	// the persist transaction; what remains is cache invalidation and
	// event emission.
	if _, done := steps[domain.PipelineStepFanOut]; !done {
		s.fanOut(ctx, env, persistResult)
		if err := s.checkpoint(ctx, eventID, domain.PipelineStepFanOut, nil); err != nil {
			return nil, err
		}
	}

	return &IngestResult{EventID: eventID, Persist: persistResult}, nil
}

func (s *IngestService) fanOut(ctx context.Context, env *domain.Envelope, result *PersistResult) {
	if s.cache != nil && result.DidChange {
		s.cache.InvalidateDocument(result.DocumentID)
	}
	if !result.DidChange {
		return
	}
	s.events.Publish(ctx, EventKnowledgePersisted, KnowledgePersistedEvent{
		DocumentID:     result.DocumentID,
		WorkspaceID:    env.WorkspaceID,
		Version:        result.Version,
		ChunkIDs:       result.ChunkIDs,
		EmbeddingModel: result.EmbeddingModel,
	})
	for _, obsID := range result.ObservationIDs {
		s.events.Publish(ctx, EventObservationCreated, ObservationCreatedEvent{
			ObservationID:  obsID,
			WorkspaceID:    env.WorkspaceID,
			OccurredAt:     env.OccurredAt,
			EmbeddingModel: result.EmbeddingModel,
		})
	}
}

func (s *IngestService) checkpoint(ctx context.Context, eventID, stepName string, output any) error {
	var data []byte
	if output != nil {
		var err error
		data, err = json.Marshal(output)
		if err != nil {
			return fmt.Errorf("failed to marshal %s checkpoint: %w", stepName, err)
		}
	}
	return s.pipeline.RecordStep(ctx, &domain.PipelineRunStep{
		EventID:     eventID,
		StepName:    stepName,
		Output:      data,
		CompletedAt: s.now(),
	})
}

func (s *IngestService) deadLetter(ctx context.Context, env *domain.Envelope, reason string, retries int) {
	data, err := json.Marshal(env)
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", env))
	}
	dl := &domain.DeadLetterEvent{
		ID:         s.uuidGen.NewString(),
		Envelope:   data,
		Reason:     reason,
		RetryCount: retries,
		CreatedAt:  s.now(),
	}
	if err := s.deadLetters.Insert(ctx, dl); err != nil {
		log.Printf("failed to dead-letter event: %v (reason: %s)", err, reason)
		telemetry.CaptureError(ctx, err)
	}
}
