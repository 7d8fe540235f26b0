package domain

import (
	"fmt"
	"time"
)

// SourceType identifies the upstream system a document was ingested from.
type SourceType string

const (
	SourceTypeGitHub  SourceType = "github"
	SourceTypeLinear  SourceType = "linear"
	SourceTypeNotion  SourceType = "notion"
	SourceTypeGeneric SourceType = "generic"
)

// Document is the canonical representation of one source artifact (PR,
// issue, doc page, message) at a specific version. The logical document is
// identified by (WorkspaceID, SourceType, SourceID); a content change
// creates a new row with Version incremented, never an in-place overwrite.
type Document struct {
	ID          string
	WorkspaceID string
	SourceType  SourceType
	SourceID    string
	Title       string
	ContentHash string
	Version     int64
	ParentDocID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is a retrieval-sized slice of a document's content at a specific
// version. Exactly one set of non-superseded chunks exists per document;
// ordering is contiguous from 0.
type Chunk struct {
	ID             string
	DocumentID     string
	WorkspaceID    string
	Version        int64
	ChunkIndex     int
	Text           string
	TokenCount     int
	SectionLabel   string
	Keywords       []string
	Embedding      []float32
	EmbeddingModel string
	SupersededAt   *time.Time
	CreatedAt      time.Time
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.WorkspaceID == "" {
		return fmt.Errorf("document WorkspaceID is required")
	}
	if d.SourceID == "" {
		return fmt.Errorf("document SourceID is required")
	}
	if d.ContentHash == "" {
		return fmt.Errorf("document ContentHash is required")
	}
	if d.Version <= 0 {
		return fmt.Errorf("document Version must be greater than 0")
	}
	if !isValidSourceType(d.SourceType) {
		return fmt.Errorf("document SourceType is invalid: %s", d.SourceType)
	}
	return nil
}

func isValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeGitHub, SourceTypeLinear, SourceTypeNotion, SourceTypeGeneric:
		return true
	}
	return false
}
