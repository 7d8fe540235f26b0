package domain

import (
	"fmt"
	"time"
)

// ActorProfile is a per-entity model of expertise and behavior patterns,
// keyed by (WorkspaceID, ProfileType, ActorID). Profiles are updated
// incrementally so update cost stays proportional to new observations,
// not total history. Full recomputes happen only in explicit rebuilds.
type ActorProfile struct {
	ID          string
	WorkspaceID string
	ProfileType ActorType
	ActorID     string
	ActorName   string
	// ExpertiseVectors maps topic to a decayed importance score.
	ExpertiseVectors map[string]float64
	// ContributionTypes maps observation type to its fraction of the
	// actor's decayed activity; values sum to 1 once any work is folded.
	ContributionTypes map[string]float64
	ActiveHours       [24]float64
	// FrequentCollaborators maps actor ID to a decayed count of shared
	// topical clusters.
	FrequentCollaborators map[string]int64
	CentroidEmbedding     []float32
	EmbeddingModel        string
	ObservationCount      int64
	LastActiveAt          time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ValidateActorProfile validates an ActorProfile instance
func ValidateActorProfile(p *ActorProfile) error {
	if p == nil {
		return fmt.Errorf("actor profile cannot be nil")
	}
	if p.ID == "" {
		return fmt.Errorf("actor profile ID is required")
	}
	if p.WorkspaceID == "" {
		return fmt.Errorf("actor profile WorkspaceID is required")
	}
	if p.ActorID == "" {
		return fmt.Errorf("actor profile ActorID is required")
	}
	if p.ObservationCount < 0 {
		return fmt.Errorf("actor profile ObservationCount cannot be negative")
	}
	return nil
}

// TemporalState captures what an actor or project is currently working on,
// derived from recent observations. Read by temporal-mode retrieval.
type TemporalState struct {
	ID          string
	WorkspaceID string
	ActorID     string
	StateText   string
	WindowStart time.Time
	WindowEnd   time.Time
	UpdatedAt   time.Time
}
