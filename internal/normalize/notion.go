package normalize

import (
	"context"
	"encoding/json"

	"github.com/hivemindhq/hivemind/internal/domain"
)

type notionPayload struct {
	PageID   string `json:"page_id"`
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Editor   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"editor"`
}

// NotionNormalizer handles page create/update events. Notion edits are
// document churn, not significant moments, so no observations are emitted
// unless the page records a decision.
type NotionNormalizer struct{}

func (n *NotionNormalizer) Normalize(ctx context.Context, env *domain.Envelope) (*Draft, error) {
	var p notionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMalformedPayload, "notion payload is not valid JSON", err)
	}
	if p.PageID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedPayload, "notion payload requires page_id")
	}
	if p.Title == "" && p.Content == "" {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedPayload, "notion payload requires title or content")
	}

	body := p.Title
	if p.Content != "" {
		body += "\n\n" + p.Content
	}

	draft := &Draft{
		Document: DocumentDraft{
			SourceID:       p.PageID,
			ParentSourceID: p.ParentID,
			Title:          p.Title,
			Body:           body,
			OccurredAt:     env.OccurredAt,
		},
	}

	if env.Action == "page.decision_logged" {
		obs := ObservationDraft{
			OccurredAt:      env.OccurredAt,
			ActorType:       domain.ActorTypeUser,
			ActorID:         p.Editor.ID,
			ActorName:       p.Editor.Name,
			ObservationType: domain.ObservationTypeDecision,
			Title:           p.Title,
			Content:         p.Content,
		}
		obs.Importance = ScoreImportance(obs.ObservationType, obs.Title, obs.Content)
		draft.Observations = append(draft.Observations, obs)
	}
	return draft, nil
}
