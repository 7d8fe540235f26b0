package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hivemindhq/hivemind/internal/domain"
)

// githubPayload is the subset of a GitHub webhook delivery the normalizer
// consumes. Validated at the boundary; unrecognized fields are ignored.
type githubPayload struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Diff       string `json:"diff,omitempty"`
	Author     struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"author"`
	Labels []string `json:"labels,omitempty"`
	Merged bool     `json:"merged,omitempty"`
}

// GitHubNormalizer handles pull request and issue events.
type GitHubNormalizer struct{}

func (n *GitHubNormalizer) Normalize(ctx context.Context, env *domain.Envelope) (*Draft, error) {
	var p githubPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeMalformedPayload, "github payload is not valid JSON", err)
	}
	if p.Repository == "" || p.Number == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedPayload, "github payload requires repository and number")
	}
	if p.Title == "" {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedPayload, "github payload requires title")
	}

	kind := "issue"
	if strings.HasPrefix(env.Action, "pull_request") {
		kind = "pr"
	}
	sourceID := fmt.Sprintf("%s#%s-%d", p.Repository, kind, p.Number)

	body := p.Title
	if p.Body != "" {
		body += "\n\n" + p.Body
	}
	if len(p.Labels) > 0 {
		body += "\n\nLabels: " + strings.Join(p.Labels, ", ")
	}

	draft := &Draft{
		Document: DocumentDraft{
			SourceID:   sourceID,
			Title:      p.Title,
			Body:       body,
			OccurredAt: env.OccurredAt,
		},
	}

	if p.Diff != "" {
		draft.RawArtifacts = append(draft.RawArtifacts, RawArtifact{
			Name:        "diff.patch",
			ContentType: "text/x-diff",
			Data:        []byte(p.Diff),
		})
	}

	if obs, ok := n.observationFor(env, &p, sourceID); ok {
		draft.Observations = append(draft.Observations, obs)
	}

	return draft, nil
}

// observationFor applies the GitHub event heuristics: merges are
// decisions, opened PRs are highlights, closed issues are changes, failed
// workflows are incidents. Other actions produce no observation.
func (n *GitHubNormalizer) observationFor(env *domain.Envelope, p *githubPayload, sourceID string) (ObservationDraft, bool) {
	var obsType domain.ObservationType
	var title string

	switch env.Action {
	case "pull_request.merged":
		obsType = domain.ObservationTypeDecision
		title = fmt.Sprintf("Merged %s: %s", sourceID, p.Title)
	case "pull_request.opened":
		obsType = domain.ObservationTypeHighlight
		title = fmt.Sprintf("Opened %s: %s", sourceID, p.Title)
	case "issue.closed":
		obsType = domain.ObservationTypeChange
		title = fmt.Sprintf("Closed %s: %s", sourceID, p.Title)
	case "workflow_run.failed", "check_suite.failed":
		obsType = domain.ObservationTypeIncident
		title = fmt.Sprintf("CI failure in %s: %s", p.Repository, p.Title)
	default:
		return ObservationDraft{}, false
	}

	return ObservationDraft{
		OccurredAt:      env.OccurredAt,
		ActorType:       domain.ActorTypeUser,
		ActorID:         p.Author.ID,
		ActorName:       p.Author.Login,
		ObservationType: obsType,
		Title:           title,
		Content:         p.Body,
		Topics:          p.Labels,
		Importance:      ScoreImportance(obsType, title, p.Body),
	}, true
}
