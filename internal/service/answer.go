package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// AnswerSynthesizer produces a grounded answer from numbered context
// passages. A nil synthesizer falls back to extractive answers.
type AnswerSynthesizer interface {
	Answer(ctx context.Context, question string, passages []string) (string, error)
}

// Citation ties an answer back to a retrieved source.
type Citation struct {
	Index      int           `json:"index"`
	Kind       CandidateKind `json:"kind"`
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id,omitempty"`
	Title      string        `json:"title,omitempty"`
}

// AnswerResult is a synthesized answer with its supporting citations.
type AnswerResult struct {
	Answer    string        `json:"answer"`
	Citations []Citation    `json:"citations"`
	Mode      RetrievalMode `json:"mode"`
	// Extractive reports that no model was available and the answer is a
	// stitched extract of the top passages.
	Extractive bool `json:"extractive,omitempty"`
}

// AnswerService runs retrieval then synthesis.
type AnswerService struct {
	retriever   *RetrieveService
	synthesizer AnswerSynthesizer
	maxPassages int
}

// NewAnswerService creates a new AnswerService instance.
func NewAnswerService(retriever *RetrieveService, synthesizer AnswerSynthesizer) *AnswerService {
	return &AnswerService{
		retriever:   retriever,
		synthesizer: synthesizer,
		maxPassages: 6,
	}
}

// Answer retrieves context for the question and synthesizes a cited
// answer. Synthesizer failure degrades to the extractive path.
func (s *AnswerService) Answer(ctx context.Context, workspaceID, question string) (*AnswerResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Answer", telemetry.SpanAttributes{
		WorkspaceID: workspaceID,
		Operation:   "answer",
	})
	defer span.End()

	retrieved, err := s.retriever.Retrieve(ctx, workspaceID, question, RetrieveOptions{Limit: s.maxPassages})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if len(retrieved.Results) == 0 {
		return &AnswerResult{
			Answer: "No relevant knowledge found for this question.",
			Mode:   retrieved.Mode,
		}, nil
	}

	passages := make([]string, len(retrieved.Results))
	citations := make([]Citation, len(retrieved.Results))
	for i, r := range retrieved.Results {
		text := r.Snippet
		if r.Title != "" {
			text = r.Title + ": " + text
		}
		passages[i] = text
		citations[i] = Citation{
			Index:      i + 1,
			Kind:       r.Kind,
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Title:      r.Title,
		}
	}

	if s.synthesizer != nil {
		answer, err := s.synthesizer.Answer(ctx, question, passages)
		if err == nil && answer != "" {
			return &AnswerResult{Answer: answer, Citations: citations, Mode: retrieved.Mode}, nil
		}
		log.Printf("answer synthesis failed, returning extractive answer: %v", err)
		telemetry.AddBreadcrumb(ctx, "answer", "synthesis unavailable, extractive fallback")
	}

	return &AnswerResult{
		Answer:     extractiveAnswer(passages),
		Citations:  citations,
		Mode:       retrieved.Mode,
		Extractive: true,
	}, nil
}

// extractiveAnswer stitches the top passages into a readable digest with
// bracketed citation markers.
func extractiveAnswer(passages []string) string {
	var b strings.Builder
	for i, p := range passages {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "%s [%d]\n", strings.TrimSpace(p), i+1)
	}
	return strings.TrimSpace(b.String())
}
