package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hivemindhq/hivemind/internal/domain"
)

const (
	// DefaultBatchSize is the number of jobs claimed per poll
	DefaultBatchSize = 64

	// DefaultEmbeddingConcurrency bounds in-flight embedding jobs per
	// workspace
	DefaultEmbeddingConcurrency = 32
)

// EmbeddingProcessor generates and stores vectors for a claimed job
type EmbeddingProcessor interface {
	ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error)
	ProcessJob(ctx context.Context, job *domain.EmbeddingJob) error
}

// EmbeddingWorker drains the embedding job queue
type EmbeddingWorker struct {
	processor EmbeddingProcessor
	batchSize int
	limits    *workspaceLimiter
}

// NewEmbeddingWorker creates a new EmbeddingWorker instance
func NewEmbeddingWorker(processor EmbeddingProcessor) *EmbeddingWorker {
	return &EmbeddingWorker{
		processor: processor,
		batchSize: DefaultBatchSize,
		limits:    newWorkspaceLimiter(DefaultEmbeddingConcurrency),
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *EmbeddingWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.processor.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending embedding jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending embedding jobs", len(jobs))

	var wg sync.WaitGroup
	for _, job := range jobs {
		sem := w.limits.get(job.WorkspaceID)
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(job *domain.EmbeddingJob, sem *semaphore.Weighted) {
			defer wg.Done()
			defer sem.Release(1)
			if err := w.processor.ProcessJob(ctx, job); err != nil {
				log.Printf("Error processing embedding job %s: %v", job.ID, err)
			}
		}(job, sem)
	}
	wg.Wait()

	return nil
}
