package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// RelationshipJobQueue claims and settles relationship extraction jobs.
type RelationshipJobQueue interface {
	ClaimPending(ctx context.Context, limit int) ([]*domain.RelationshipJob, error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkSkipped(ctx context.Context, jobID string, reason string) error
	MarkFailed(ctx context.Context, jobID string, jobErr string, maxRetries int) error
}

// RelationshipRepositoryInterface persists extracted edges.
type RelationshipRepositoryInterface interface {
	// Upsert inserts the edge or, when (source, target, type) already
	// exists, keeps the higher-confidence version.
	Upsert(ctx context.Context, r *domain.Relationship) error
	ListBySource(ctx context.Context, workspaceID, sourceDocID string) ([]*domain.Relationship, error)
}

// DocumentLookup resolves documents for extraction.
type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	// FindByReference resolves the latest version of the document a
	// textual cross-reference points at. Ticket keys ("ENG-88") match
	// source IDs exactly; bare numbers ("#412") match the composite IDs
	// webhook ingestion builds, like "acme/api#pr-412".
	FindByReference(ctx context.Context, workspaceID, ref string) (*domain.Document, error)
	ListRecent(ctx context.Context, workspaceID string, limit int) ([]*domain.Document, error)
}

// ChunkTextLookup reads live chunk text for a document version.
type ChunkTextLookup interface {
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error)
}

// RelationProposal is one model-suggested edge with its confidence.
type RelationProposal struct {
	TargetSourceID string
	RelationType   string
	Confidence     float64
	Rationale      string
}

// RelationProposer is the model-backed half of extraction. A nil proposer
// disables proposals and leaves only the deterministic pass.
type RelationProposer interface {
	ProposeRelations(ctx context.Context, docText string, candidates []string) ([]RelationProposal, error)
}

// RelationshipConfig tunes the extractor.
type RelationshipConfig struct {
	// ConfidenceGate is the threshold below which model proposals are
	// stored as suggestions instead of accepted edges.
	ConfidenceGate float64
	// CandidateLimit caps how many recent documents are offered to the
	// model as proposal targets.
	CandidateLimit int
	MaxRetries     int
}

// DefaultRelationshipConfig returns the documented defaults.
func DefaultRelationshipConfig() RelationshipConfig {
	return RelationshipConfig{
		ConfidenceGate: 0.7,
		CandidateLimit: 20,
		MaxRetries:     3,
	}
}

// RelationshipService extracts typed edges between documents. A
// deterministic pass resolves explicit textual references (fixes #412,
// closes ENG-88); a model pass proposes additional edges, gated on
// confidence. Deterministic edges carry confidence 1.0.
type RelationshipService struct {
	queue     RelationshipJobQueue
	relations RelationshipRepositoryInterface
	documents DocumentLookup
	chunks    ChunkTextLookup
	proposer  RelationProposer
	cfg       RelationshipConfig
	uuidGen   UUIDGenerator
	now       func() time.Time
}

// NewRelationshipService creates a new RelationshipService instance.
func NewRelationshipService(
	queue RelationshipJobQueue,
	relations RelationshipRepositoryInterface,
	documents DocumentLookup,
	chunks ChunkTextLookup,
	proposer RelationProposer,
	cfg RelationshipConfig,
) *RelationshipService {
	if cfg.ConfidenceGate <= 0 {
		cfg = DefaultRelationshipConfig()
	}
	return &RelationshipService{
		queue:     queue,
		relations: relations,
		documents: documents,
		chunks:    chunks,
		proposer:  proposer,
		cfg:       cfg,
		uuidGen:   &DefaultUUIDGenerator{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ClaimPending claims up to limit jobs for processing.
func (s *RelationshipService) ClaimPending(ctx context.Context, limit int) ([]*domain.RelationshipJob, error) {
	return s.queue.ClaimPending(ctx, limit)
}

// ProcessJob extracts relationships for one claimed job and settles it.
// A job whose document version was superseded after enqueue is skipped;
// its replacement version carries its own job.
func (s *RelationshipService) ProcessJob(ctx context.Context, job *domain.RelationshipJob) error {
	ctx, span := telemetry.StartSpan(ctx, "RelationshipService.ProcessJob", telemetry.SpanAttributes{
		WorkspaceID: job.WorkspaceID,
		DocumentID:  job.DocumentID,
		Operation:   "extract_relationships",
	})
	defer span.End()

	doc, err := s.documents.GetByID(ctx, job.DocumentID)
	if err != nil {
		if isNotFound(err) {
			return s.queue.MarkSkipped(ctx, job.ID, "document no longer exists")
		}
		span.SetError(err)
		return s.failJob(ctx, job, err)
	}
	if doc.Version != job.Version {
		return s.queue.MarkSkipped(ctx, job.ID, "document version superseded")
	}

	text, err := s.documentText(ctx, doc)
	if err != nil {
		span.SetError(err)
		return s.failJob(ctx, job, err)
	}

	edges := s.extractDeterministic(ctx, doc, text)

	proposed, err := s.extractProposed(ctx, doc, text)
	if err != nil {
		// Deterministic edges still count; model unavailability degrades
		// extraction rather than failing the job.
		log.Printf("relation proposals unavailable for document %s: %v", doc.ID, err)
		telemetry.AddBreadcrumb(ctx, "relationships", "model proposals skipped: "+err.Error())
	} else {
		edges = append(edges, proposed...)
	}

	for _, edge := range edges {
		if err := domain.ValidateRelationship(edge); err != nil {
			continue
		}
		if err := s.relations.Upsert(ctx, edge); err != nil {
			span.SetError(err)
			return s.failJob(ctx, job, fmt.Errorf("failed to upsert relationship: %w", err))
		}
	}

	return s.queue.MarkCompleted(ctx, job.ID)
}

func (s *RelationshipService) failJob(ctx context.Context, job *domain.RelationshipJob, err error) error {
	if markErr := s.queue.MarkFailed(ctx, job.ID, err.Error(), s.cfg.MaxRetries); markErr != nil {
		return markErr
	}
	return err
}

// referencePatterns match the explicit cross-references the deterministic
// pass resolves. Group 1 is the verb (empty for bare identifiers), group
// 2 the referenced identifier.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(fixes|closes|resolves)\s+#(\d+)`),
	regexp.MustCompile(`(?i)\b(fixes|closes|resolves)\s+([A-Z][A-Z0-9]+-\d+)`),
	regexp.MustCompile(`()\B#(\d+)\b`),
	regexp.MustCompile(`()\b([A-Z][A-Z0-9]+-\d+)\b`),
}

func (s *RelationshipService) extractDeterministic(ctx context.Context, doc *domain.Document, text string) []*domain.Relationship {
	type ref struct {
		verb string
		id   string
	}
	seen := map[string]ref{}
	for _, pattern := range referencePatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			id := m[2]
			if _, ok := seen[id]; !ok {
				seen[id] = ref{verb: strings.ToLower(m[1]), id: id}
			}
		}
	}

	var edges []*domain.Relationship
	for _, r := range seen {
		lookupRef := r.id
		if isAllDigits(r.id) {
			lookupRef = "#" + r.id
		}
		target, err := s.documents.FindByReference(ctx, doc.WorkspaceID, lookupRef)
		if err != nil || target == nil || target.ID == doc.ID {
			continue
		}
		relType := domain.RelationTypeReferences
		switch r.verb {
		case "fixes", "resolves":
			relType = domain.RelationTypeFixes
		case "closes":
			relType = domain.RelationTypeCloses
		}
		edges = append(edges, &domain.Relationship{
			ID:           s.uuidGen.NewString(),
			WorkspaceID:  doc.WorkspaceID,
			SourceDocID:  doc.ID,
			TargetDocID:  target.ID,
			RelationType: relType,
			Confidence:   1.0,
			EvidenceSpan: evidenceFor(text, r.id),
			CreatedAt:    s.now(),
		})
	}
	return edges
}

func (s *RelationshipService) extractProposed(ctx context.Context, doc *domain.Document, text string) ([]*domain.Relationship, error) {
	if s.proposer == nil {
		return nil, nil
	}

	recent, err := s.documents.ListRecent(ctx, doc.WorkspaceID, s.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}
	var candidates []string
	bySourceID := map[string]*domain.Document{}
	for _, d := range recent {
		if d.ID == doc.ID {
			continue
		}
		candidates = append(candidates, fmt.Sprintf("%s: %s", d.SourceID, d.Title))
		bySourceID[d.SourceID] = d
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	proposals, err := s.proposer.ProposeRelations(ctx, text, candidates)
	if err != nil {
		return nil, err
	}

	var edges []*domain.Relationship
	for _, p := range proposals {
		target, ok := bySourceID[p.TargetSourceID]
		if !ok {
			continue
		}
		relType := mapRelationType(p.RelationType)
		edges = append(edges, &domain.Relationship{
			ID:           s.uuidGen.NewString(),
			WorkspaceID:  doc.WorkspaceID,
			SourceDocID:  doc.ID,
			TargetDocID:  target.ID,
			RelationType: relType,
			Confidence:   clamp01(p.Confidence),
			EvidenceSpan: p.Rationale,
			Suggested:    p.Confidence < s.cfg.ConfidenceGate,
			CreatedAt:    s.now(),
		})
	}
	return edges, nil
}

func (s *RelationshipService) documentText(ctx context.Context, doc *domain.Document) (string, error) {
	chunks, err := s.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load chunks for document %s: %w", doc.ID, err)
	}
	var b strings.Builder
	b.WriteString(doc.Title)
	b.WriteString("\n\n")
	for _, c := range chunks {
		if c.SupersededAt != nil {
			continue
		}
		b.WriteString(c.Text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// evidenceFor extracts a short window of text around the first occurrence
// of the reference.
func evidenceFor(text, id string) string {
	idx := strings.Index(text, id)
	if idx < 0 {
		idx = strings.Index(text, "#"+id)
	}
	if idx < 0 {
		return ""
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(id) + 40
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

func mapRelationType(t string) domain.RelationType {
	switch strings.ToLower(t) {
	case "fixes":
		return domain.RelationTypeFixes
	case "supersedes", "closes":
		return domain.RelationTypeCloses
	case "references":
		return domain.RelationTypeReferences
	default:
		return domain.RelationTypeRelatedTo
	}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isNotFound(err error) bool {
	var de *domain.DomainError
	return errors.As(err, &de) && de.Code == domain.ErrCodeNotFound
}
