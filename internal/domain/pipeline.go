package domain

import "time"

// Pipeline step names, in execution order.
const (
	PipelineStepNormalize = "normalize"
	PipelineStepPersist   = "persist"
	PipelineStepFanOut    = "fanout"
)

// PipelineRunStep checkpoints one completed stage of an ingestion run,
// keyed by (EventID, StepName). The driver loop re-reads completed steps
// on restart and skips them, so each stage runs at most once effectively
// despite at-least-once delivery.
type PipelineRunStep struct {
	EventID     string
	StepName    string
	Output      []byte
	CompletedAt time.Time
}

// PipelineRunStatus tracks an ingestion run end to end.
type PipelineRunStatus string

const (
	PipelineRunStatusRunning    PipelineRunStatus = "running"
	PipelineRunStatusCompleted  PipelineRunStatus = "completed"
	PipelineRunStatusDeadLetter PipelineRunStatus = "dead_letter"
)

// PipelineRun records one ingestion event's progress through the staged
// pipeline.
type PipelineRun struct {
	EventID     string
	WorkspaceID string
	Status      PipelineRunStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
