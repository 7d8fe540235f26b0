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
	// DefaultRelationshipConcurrency bounds in-flight extraction jobs
	// per workspace. Extraction may call the language model, so it runs
	// narrower than the embedding queue.
	DefaultRelationshipConcurrency = 8
)

// RelationshipProcessor extracts relationships for a claimed job
type RelationshipProcessor interface {
	ClaimPending(ctx context.Context, limit int) ([]*domain.RelationshipJob, error)
	ProcessJob(ctx context.Context, job *domain.RelationshipJob) error
}

// RelationshipWorker drains the relationship extraction queue
type RelationshipWorker struct {
	processor RelationshipProcessor
	batchSize int
	limits    *workspaceLimiter
}

// NewRelationshipWorker creates a new RelationshipWorker instance
func NewRelationshipWorker(processor RelationshipProcessor) *RelationshipWorker {
	return &RelationshipWorker{
		processor: processor,
		batchSize: DefaultBatchSize,
		limits:    newWorkspaceLimiter(DefaultRelationshipConcurrency),
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *RelationshipWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.processor.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending relationship jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending relationship jobs", len(jobs))

	var wg sync.WaitGroup
	for _, job := range jobs {
		sem := w.limits.get(job.WorkspaceID)
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(job *domain.RelationshipJob, sem *semaphore.Weighted) {
			defer wg.Done()
			defer sem.Release(1)
			if err := w.processor.ProcessJob(ctx, job); err != nil {
				log.Printf("Error processing relationship job %s: %v", job.ID, err)
			}
		}(job, sem)
	}
	wg.Wait()

	return nil
}
