package normalize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hivemindhq/hivemind/internal/domain"
)

type linearPayload struct {
	IssueID     string   `json:"issue_id"`
	Identifier  string   `json:"identifier"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	Priority    int      `json:"priority"`
	Labels      []string `json:"labels,omitempty"`
	Assignee    struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"assignee"`
}

// LinearNormalizer handles Linear issue lifecycle events.
type LinearNormalizer struct{}

func (n *LinearNormalizer) Normalize(ctx context.Context, env *domain.Envelope) (*Draft, error) {
	var p linearPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMalformedPayload, "linear payload is not valid JSON", err)
	}
	if p.IssueID == "" || p.Title == "" {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedPayload, "linear payload requires issue_id and title")
	}

	body := p.Title
	if p.Description != "" {
		body += "\n\n" + p.Description
	}
	if p.State != "" {
		body += fmt.Sprintf("\n\nState: %s", p.State)
	}

	draft := &Draft{
		Document: DocumentDraft{
			SourceID:   p.IssueID,
			Title:      p.Title,
			Body:       body,
			OccurredAt: env.OccurredAt,
		},
	}

	if obs, ok := n.observationFor(env, &p); ok {
		draft.Observations = append(draft.Observations, obs)
	}
	return draft, nil
}

func (n *LinearNormalizer) observationFor(env *domain.Envelope, p *linearPayload) (ObservationDraft, bool) {
	var obsType domain.ObservationType
	var title string

	switch env.Action {
	case "issue.completed":
		obsType = domain.ObservationTypeChange
		title = fmt.Sprintf("Completed %s: %s", p.Identifier, p.Title)
	case "issue.created":
		// Only urgent work is worth an observation on creation.
		if p.Priority > 1 {
			return ObservationDraft{}, false
		}
		obsType = domain.ObservationTypeHighlight
		title = fmt.Sprintf("Urgent issue %s: %s", p.Identifier, p.Title)
	case "issue.canceled":
		obsType = domain.ObservationTypeDecision
		title = fmt.Sprintf("Canceled %s: %s", p.Identifier, p.Title)
	default:
		return ObservationDraft{}, false
	}

	return ObservationDraft{
		OccurredAt:      env.OccurredAt,
		ActorType:       domain.ActorTypeUser,
		ActorID:         p.Assignee.ID,
		ActorName:       p.Assignee.Name,
		ObservationType: obsType,
		Title:           title,
		Content:         p.Description,
		Topics:          p.Labels,
		Importance:      ScoreImportance(obsType, title, p.Description),
	}, true
}
