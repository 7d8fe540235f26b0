package domain

import "time"

// EmbeddingJobStatus tracks an embedding job through the queue.
type EmbeddingJobStatus string

const (
	EmbeddingJobStatusPending    EmbeddingJobStatus = "pending"
	EmbeddingJobStatusProcessing EmbeddingJobStatus = "processing"
	EmbeddingJobStatusCompleted  EmbeddingJobStatus = "completed"
	EmbeddingJobStatusFailed     EmbeddingJobStatus = "failed"
	EmbeddingJobStatusSkipped    EmbeddingJobStatus = "skipped"
)

// EmbeddingJob requests embedding generation for exactly one target: a
// chunk, an observation, or a summary. Jobs are enqueued inside the
// persistence transaction so a committed write always has its fan-out.
type EmbeddingJob struct {
	ID            string
	WorkspaceID   string
	ChunkID       string
	ObservationID string
	SummaryID     string
	Status        EmbeddingJobStatus
	Retries       int
	Error         string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// RelationshipJob requests relationship extraction for a committed
// document version.
type RelationshipJob struct {
	ID          string
	WorkspaceID string
	DocumentID  string
	Version     int64
	Status      EmbeddingJobStatus
	Retries     int
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ConsolidationScopeStatus is the consolidation state machine:
// pending (has unconsolidated observations) -> running (lease held) -> idle.
type ConsolidationScopeStatus string

const (
	ConsolidationScopePending ConsolidationScopeStatus = "pending"
	ConsolidationScopeRunning ConsolidationScopeStatus = "running"
	ConsolidationScopeIdle    ConsolidationScopeStatus = "idle"
)

// ConsolidationLease is a TTL lock preventing two consolidation runs for
// the same scope from overlapping. An expired lease returns the scope to
// pending.
type ConsolidationLease struct {
	Scope       string
	WorkspaceID string
	HolderID    string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}
