package domain

import (
	"fmt"
	"time"
)

// SummaryType classifies the scope a summary rolls up.
type SummaryType string

const (
	SummaryTypeTopic    SummaryType = "topic"
	SummaryTypeEntity   SummaryType = "entity"
	SummaryTypeTemporal SummaryType = "temporal"
	SummaryTypeProject  SummaryType = "project"
)

// Summary is a synthesized rollup of a cluster of observations sharing a
// topic, entity, or time window. Produced by the consolidator; replaced,
// not edited, on re-consolidation.
type Summary struct {
	ID              string
	WorkspaceID     string
	SummaryType     SummaryType
	Scope           string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	ObservationIDs  []string
	KeyPoints       []string
	Content         string
	PrimaryEntities []string
	Embedding       []float32
	EmbeddingModel  string
	CreatedAt       time.Time
}

// ValidateSummary validates a Summary instance
func ValidateSummary(s *Summary) error {
	if s == nil {
		return fmt.Errorf("summary cannot be nil")
	}
	if s.ID == "" {
		return fmt.Errorf("summary ID is required")
	}
	if s.WorkspaceID == "" {
		return fmt.Errorf("summary WorkspaceID is required")
	}
	if len(s.ObservationIDs) == 0 {
		return fmt.Errorf("summary must reference at least one observation")
	}
	if s.PeriodEnd.Before(s.PeriodStart) {
		return fmt.Errorf("summary PeriodEnd must not precede PeriodStart")
	}
	if !isValidSummaryType(s.SummaryType) {
		return ErrInvalidSummaryType
	}
	return nil
}

func isValidSummaryType(t SummaryType) bool {
	switch t {
	case SummaryTypeTopic, SummaryTypeEntity, SummaryTypeTemporal, SummaryTypeProject:
		return true
	}
	return false
}
