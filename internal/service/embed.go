package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// Embedder generates embedding vectors. Implemented by llm.EmbeddingClient.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// EmbeddingJobQueue claims and settles embedding jobs.
type EmbeddingJobQueue interface {
	// ClaimPending atomically marks up to limit pending jobs processing
	// and returns them. Concurrent dispatchers never claim the same job.
	ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkSkipped(ctx context.Context, jobID string, reason string) error
	// MarkFailed records the error; when the job has retry budget left it
	// returns to pending, otherwise it lands in failed.
	MarkFailed(ctx context.Context, jobID string, jobErr string, maxRetries int) error
}

// ChunkEmbeddingRepository reads and writes chunk vectors.
type ChunkEmbeddingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Chunk, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32, model string) error
}

// ObservationEmbeddingRepository reads and writes observation vectors.
type ObservationEmbeddingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Observation, error)
	UpdateEmbeddings(ctx context.Context, id string, title, content, summary []float32, model string) error
}

// SummaryEmbeddingRepository reads and writes summary vectors.
type SummaryEmbeddingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Summary, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32, model string) error
}

// EmbedConfig tunes the dispatcher.
type EmbedConfig struct {
	MaxRetries int
	// ContentViewLimit truncates overlong content before embedding.
	ContentViewLimit int
}

// DefaultEmbedConfig returns the documented defaults: five retries
// before a target degrades to lexical-only retrieval.
func DefaultEmbedConfig() EmbedConfig {
	return EmbedConfig{
		MaxRetries:       5,
		ContentViewLimit: 8000,
	}
}

// EmbedService processes embedding jobs. Each job targets exactly one
// chunk, observation or summary; the service re-reads the target at
// processing time so vectors are computed from committed state, and skips
// targets superseded since the job was enqueued.
type EmbedService struct {
	queue        EmbeddingJobQueue
	chunks       ChunkEmbeddingRepository
	observations ObservationEmbeddingRepository
	summaries    SummaryEmbeddingRepository
	embedder     Embedder
	cfg          EmbedConfig
}

// NewEmbedService creates a new EmbedService instance.
func NewEmbedService(
	queue EmbeddingJobQueue,
	chunks ChunkEmbeddingRepository,
	observations ObservationEmbeddingRepository,
	summaries SummaryEmbeddingRepository,
	embedder Embedder,
	cfg EmbedConfig,
) *EmbedService {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultEmbedConfig()
	}
	return &EmbedService{
		queue:        queue,
		chunks:       chunks,
		observations: observations,
		summaries:    summaries,
		embedder:     embedder,
		cfg:          cfg,
	}
}

// ClaimPending claims up to limit jobs for processing.
func (s *EmbedService) ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error) {
	return s.queue.ClaimPending(ctx, limit)
}

// ProcessJob embeds one claimed job's target and settles the job. Errors
// from the embedding backend consume retry budget; a job whose target no
// longer needs a vector is skipped, not failed.
func (s *EmbedService) ProcessJob(ctx context.Context, job *domain.EmbeddingJob) error {
	ctx, span := telemetry.StartSpan(ctx, "EmbedService.ProcessJob", telemetry.SpanAttributes{
		WorkspaceID: job.WorkspaceID,
		Operation:   "embed",
	})
	defer span.End()

	var err error
	switch {
	case job.ChunkID != "":
		err = s.embedChunk(ctx, job)
	case job.ObservationID != "":
		err = s.embedObservation(ctx, job)
	case job.SummaryID != "":
		err = s.embedSummary(ctx, job)
	default:
		err = domain.NewDomainError(domain.ErrCodeMalformedPayload, "embedding job has no target")
	}

	if err == nil {
		return s.queue.MarkCompleted(ctx, job.ID)
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domain.ErrCodeStaleWriteSkipped:
			telemetry.AddBreadcrumb(ctx, "embed", "target superseded, skipping")
			return s.queue.MarkSkipped(ctx, job.ID, domainErr.Message)
		case domain.ErrCodeNotFound:
			// The target row was deleted after enqueue. Nothing to embed.
			return s.queue.MarkSkipped(ctx, job.ID, "target no longer exists")
		case domain.ErrCodeMalformedPayload:
			return s.queue.MarkFailed(ctx, job.ID, domainErr.Message, 0)
		}
	}

	span.SetError(err)
	if markErr := s.queue.MarkFailed(ctx, job.ID, err.Error(), s.cfg.MaxRetries); markErr != nil {
		log.Printf("failed to settle embedding job %s: %v (processing error: %v)", job.ID, markErr, err)
		return markErr
	}
	return err
}

func (s *EmbedService) embedChunk(ctx context.Context, job *domain.EmbeddingJob) error {
	chunk, err := s.chunks.GetByID(ctx, job.ChunkID)
	if err != nil {
		return err
	}
	if chunk.SupersededAt != nil {
		return domain.NewDomainError(domain.ErrCodeStaleWriteSkipped, "chunk superseded before embedding")
	}
	if chunk.Text == "" {
		return domain.NewDomainError(domain.ErrCodeMalformedPayload, "chunk has no text to embed")
	}

	vectors, err := s.embedder.GenerateEmbeddings(ctx, []string{truncate(chunk.Text, s.cfg.ContentViewLimit)})
	if err != nil {
		return fmt.Errorf("chunk %s: %w", chunk.ID, err)
	}
	return s.chunks.UpdateEmbedding(ctx, chunk.ID, vectors[0], s.embedder.Model())
}

// embedObservation generates the views in one batched API call: title,
// full content, and a compact gist used for broad matching. Bodyless
// events (a PR opened with no description, say) are valid input; they
// get the title and gist views and no content view, so every stored
// observation carries at least a title embedding.
func (s *EmbedService) embedObservation(ctx context.Context, job *domain.EmbeddingJob) error {
	obs, err := s.observations.GetByID(ctx, job.ObservationID)
	if err != nil {
		return err
	}
	if obs.Title == "" {
		return domain.NewDomainError(domain.ErrCodeMalformedPayload, "observation missing title")
	}

	views := []string{obs.Title}
	if obs.Content != "" {
		views = append(views, truncate(obs.Content, s.cfg.ContentViewLimit))
	}
	views = append(views, observationGist(obs))

	vectors, err := s.embedder.GenerateEmbeddings(ctx, views)
	if err != nil {
		return fmt.Errorf("observation %s: %w", obs.ID, err)
	}

	var content []float32
	gist := vectors[1]
	if obs.Content != "" {
		content = vectors[1]
		gist = vectors[2]
	}
	return s.observations.UpdateEmbeddings(ctx, obs.ID, vectors[0], content, gist, s.embedder.Model())
}

func (s *EmbedService) embedSummary(ctx context.Context, job *domain.EmbeddingJob) error {
	summary, err := s.summaries.GetByID(ctx, job.SummaryID)
	if err != nil {
		return err
	}
	if summary.Content == "" {
		return domain.NewDomainError(domain.ErrCodeMalformedPayload, "summary has no content to embed")
	}

	text := summary.Content
	if len(summary.KeyPoints) > 0 {
		text = text + "\n" + strings.Join(summary.KeyPoints, "\n")
	}
	vectors, err := s.embedder.GenerateEmbeddings(ctx, []string{truncate(text, s.cfg.ContentViewLimit)})
	if err != nil {
		return fmt.Errorf("summary %s: %w", summary.ID, err)
	}
	return s.summaries.UpdateEmbedding(ctx, summary.ID, vectors[0], s.embedder.Model())
}

// observationGist builds the compact third view: title plus topics plus
// the leading content, which matches short queries better than the full
// body does.
func observationGist(obs *domain.Observation) string {
	var b strings.Builder
	b.WriteString(obs.Title)
	if len(obs.Topics) > 0 {
		b.WriteString(" | ")
		b.WriteString(strings.Join(obs.Topics, ", "))
	}
	if obs.Content != "" {
		b.WriteString(" | ")
		b.WriteString(truncate(obs.Content, 400))
	}
	return b.String()
}

// truncate cuts s to at most limit bytes, backing up to a rune boundary
// so multi-byte characters never arrive split at the embedding backend.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// VectorNamespace is the logical namespace a vector belongs to. Vectors
// from different model versions never mix in one similarity search.
func VectorNamespace(workspaceID, model string) string {
	return workspaceID + "-" + model
}

// backoffDelay computes the exponential delay before a retried attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}
