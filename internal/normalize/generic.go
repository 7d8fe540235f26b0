package normalize

import (
	"context"
	"encoding/json"

	"github.com/hivemindhq/hivemind/internal/domain"
)

type genericPayload struct {
	ResourceID string `json:"resource_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Kind       string `json:"kind,omitempty"`
	Actor      struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type,omitempty"`
	} `json:"actor"`
}

// GenericNormalizer accepts any source that speaks the plain
// resource/title/body shape. Incidents are the only generic action that
// also spawns an observation.
type GenericNormalizer struct{}

func (n *GenericNormalizer) Normalize(ctx context.Context, env *domain.Envelope) (*Draft, error) {
	var p genericPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMalformedPayload, "generic payload is not valid JSON", err)
	}
	if p.ResourceID == "" || p.Body == "" {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedPayload, "generic payload requires resource_id and body")
	}

	title := p.Title
	if title == "" {
		title = p.ResourceID
	}

	draft := &Draft{
		Document: DocumentDraft{
			SourceID:   p.ResourceID,
			Title:      title,
			Body:       p.Body,
			OccurredAt: env.OccurredAt,
		},
	}

	if env.Action == "incident.reported" {
		actorType := domain.ActorType(p.Actor.Type)
		if actorType == "" {
			actorType = domain.ActorTypeService
		}
		obs := ObservationDraft{
			OccurredAt:      env.OccurredAt,
			ActorType:       actorType,
			ActorID:         p.Actor.ID,
			ActorName:       p.Actor.Name,
			ObservationType: domain.ObservationTypeIncident,
			Title:           title,
			Content:         p.Body,
		}
		obs.Importance = ScoreImportance(obs.ObservationType, obs.Title, obs.Content)
		draft.Observations = append(draft.Observations, obs)
	}
	return draft, nil
}
