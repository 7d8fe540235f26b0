package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/hivemindhq/hivemind/internal/service"
)

const (
	// DefaultWorkspaceBatch is the number of workspaces consolidated per poll
	DefaultWorkspaceBatch = 16
)

// Consolidator folds pending observations into summaries and profiles
type Consolidator interface {
	PendingWorkspaces(ctx context.Context, limit int) ([]string, error)
	ConsolidateWorkspace(ctx context.Context, workspaceID string) (*service.ConsolidationReport, error)
}

// ConsolidationWorker sweeps workspaces with unconsolidated observations.
// Workspaces run sequentially; the lease in the consolidation service
// keeps concurrent deployments from working the same workspace.
type ConsolidationWorker struct {
	consolidator Consolidator
	batchSize    int
}

// NewConsolidationWorker creates a new ConsolidationWorker instance
func NewConsolidationWorker(consolidator Consolidator) *ConsolidationWorker {
	return &ConsolidationWorker{
		consolidator: consolidator,
		batchSize:    DefaultWorkspaceBatch,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *ConsolidationWorker) ProcessJobs(ctx context.Context) error {
	workspaces, err := w.consolidator.PendingWorkspaces(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list workspaces pending consolidation: %w", err)
	}

	for _, workspaceID := range workspaces {
		report, err := w.consolidator.ConsolidateWorkspace(ctx, workspaceID)
		if err != nil {
			log.Printf("Error consolidating workspace %s: %v", workspaceID, err)
			continue
		}
		if report != nil {
			log.Printf("Consolidated workspace %s: %d observations, %d summaries, %d profiles",
				workspaceID, report.ObservationsSeen, report.SummariesCreated, report.ProfilesUpdated)
		}
	}

	return nil
}
