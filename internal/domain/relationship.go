package domain

import (
	"fmt"
	"time"
)

// RelationType classifies a directed edge between two documents.
type RelationType string

const (
	RelationTypeFixes      RelationType = "fixes"
	RelationTypeCloses     RelationType = "closes"
	RelationTypeReferences RelationType = "references"
	RelationTypeRelatedTo  RelationType = "related_to"
)

// Relationship is a directed, typed edge between two documents, produced
// by the relationship extractor. Edges are upserted keyed by
// (SourceDocID, TargetDocID, RelationType) so re-extraction of the same
// document version cannot create duplicates. Edges below the workspace
// confidence gate are stored with Suggested=true instead of being dropped.
type Relationship struct {
	ID           string
	WorkspaceID  string
	SourceDocID  string
	TargetDocID  string
	RelationType RelationType
	Confidence   float64
	EvidenceSpan string
	Suggested    bool
	CreatedAt    time.Time
}

// ValidateRelationship validates a Relationship instance
func ValidateRelationship(r *Relationship) error {
	if r == nil {
		return fmt.Errorf("relationship cannot be nil")
	}
	if r.SourceDocID == "" || r.TargetDocID == "" {
		return fmt.Errorf("relationship requires source and target document IDs")
	}
	if r.SourceDocID == r.TargetDocID {
		return fmt.Errorf("relationship cannot point at its own source")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if r.RelationType == "" {
		return fmt.Errorf("relationship RelationType is required")
	}
	return nil
}
