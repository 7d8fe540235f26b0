package service

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Event names emitted between pipeline components. Downstream
// collaborators (orchestration, indexing) subscribe to these.
const (
	EventKnowledgePersisted            = "knowledge.persisted"
	EventKnowledgeEmbeddingRequested   = "knowledge.embedding.requested"
	EventObservationCreated            = "memory.observation.created"
	EventObservationEmbeddingRequested = "memory.observation.embedding.requested"
)

// KnowledgePersistedEvent is emitted after a content-changing persist
// commits.
type KnowledgePersistedEvent struct {
	DocumentID     string   `json:"document_id"`
	WorkspaceID    string   `json:"workspace_id"`
	Version        int64    `json:"version"`
	ChunkIDs       []string `json:"chunk_ids"`
	EmbeddingModel string   `json:"embedding_model"`
}

// ObservationCreatedEvent is emitted for each observation a persist
// produced.
type ObservationCreatedEvent struct {
	ObservationID  string    `json:"observation_id"`
	WorkspaceID    string    `json:"workspace_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Importance     float64   `json:"importance"`
	EmbeddingModel string    `json:"embedding_model"`
}

// EventPublisher delivers internal pipeline events. Delivery is
// best-effort; the job queue, not the event stream, carries correctness.
type EventPublisher interface {
	Publish(ctx context.Context, name string, payload any)
}

// LogEventPublisher writes events to the process log.
type LogEventPublisher struct{}

func (p *LogEventPublisher) Publish(ctx context.Context, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("event %s: marshal failed: %v", name, err)
		return
	}
	log.Printf("event %s %s", name, data)
}
