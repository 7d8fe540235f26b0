package domain

import (
	"fmt"
	"time"
)

// ObservationType classifies the kind of significant moment an observation
// records.
type ObservationType string

const (
	ObservationTypeDecision  ObservationType = "decision"
	ObservationTypeHighlight ObservationType = "highlight"
	ObservationTypeChange    ObservationType = "change"
	ObservationTypeIncident  ObservationType = "incident"
)

// ActorType classifies who or what produced an observation.
type ActorType string

const (
	ActorTypeUser    ActorType = "user"
	ActorTypeTeam    ActorType = "team"
	ActorTypeService ActorType = "service"
)

// SourceReference points an observation back at the document or chunk it
// was extracted from.
type SourceReference struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id,omitempty"`
}

// Observation is an atomic moment of significance extracted from a source
// event, independent of document chunking. Observations are immutable once
// created; summaries reference them, never mutate them.
//
// The three embedding views (title, content, summary) are generated
// independently so retrieval can match on whichever view fits the query.
type Observation struct {
	ID               string
	WorkspaceID      string
	OccurredAt       time.Time
	ActorType        ActorType
	ActorID          string
	ActorName        string
	ObservationType  ObservationType
	Title            string
	Content          string
	Topics           []string
	SourceReferences []SourceReference
	Importance       float64
	TitleEmbedding   []float32
	ContentEmbedding []float32
	SummaryEmbedding []float32
	EmbeddingModel   string
	SummarizedAt     *time.Time
	CreatedAt        time.Time
}

// ValidateObservation validates an Observation instance
func ValidateObservation(o *Observation) error {
	if o == nil {
		return fmt.Errorf("observation cannot be nil")
	}
	if o.ID == "" {
		return fmt.Errorf("observation ID is required")
	}
	if o.WorkspaceID == "" {
		return fmt.Errorf("observation WorkspaceID is required")
	}
	if o.Title == "" {
		return fmt.Errorf("observation Title is required")
	}
	if !IsValidObservationType(o.ObservationType) {
		return ErrInvalidObservationType
	}
	if o.Importance < 0 || o.Importance > 1 {
		return ErrInvalidImportance
	}
	return nil
}

// IsValidObservationType checks if an ObservationType is valid
func IsValidObservationType(t ObservationType) bool {
	switch t {
	case ObservationTypeDecision, ObservationTypeHighlight, ObservationTypeChange, ObservationTypeIncident:
		return true
	}
	return false
}
