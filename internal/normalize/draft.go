package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
)

// DocumentDraft is the normalized, source-agnostic form of one artifact
// before persistence assigns identity and version.
type DocumentDraft struct {
	WorkspaceID    string
	SourceType     domain.SourceType
	SourceID       string
	ParentSourceID string
	Title          string
	Body           string
	ContentHash    string
	OccurredAt     time.Time
}

// ChunkDraft is one retrieval-sized slice of the draft body.
type ChunkDraft struct {
	ChunkIndex   int
	Text         string
	TokenCount   int
	SectionLabel string
	Keywords     []string
}

// ObservationDraft is an atomic significant event extracted alongside the
// document. Not every envelope yields one.
type ObservationDraft struct {
	OccurredAt      time.Time
	ActorType       domain.ActorType
	ActorID         string
	ActorName       string
	ObservationType domain.ObservationType
	Title           string
	Content         string
	Topics          []string
	Importance      float64
}

// RawArtifact is an opaque blob (diff, attachment) stored alongside the
// document version.
type RawArtifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Draft bundles everything normalization produced for one envelope.
type Draft struct {
	Document     DocumentDraft
	Chunks       []ChunkDraft
	Observations []ObservationDraft
	RawArtifacts []RawArtifact
}

// ContentHash hashes the normalized body only, so metadata churn in the
// raw payload cannot create spurious versions.
func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(normalizeWhitespace(body)))
	return hex.EncodeToString(sum[:])
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
