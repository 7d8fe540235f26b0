package normalize

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(source domain.SourceType, action string, payload any) *domain.Envelope {
	data, _ := json.Marshal(payload)
	return &domain.Envelope{
		WorkspaceID: "ws-1",
		Source:      source,
		Action:      action,
		OccurredAt:  time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Payload:     data,
	}
}

func TestRegistry_Normalize_DispatchesBySource(t *testing.T) {
	ctx := context.Background()
	registry := DefaultRegistry()

	env := testEnvelope(domain.SourceTypeGeneric, "resource.updated", map[string]any{
		"resource_id": "runbook-7",
		"title":       "Deploy runbook",
		"body":        "Steps to roll the API tier.",
	})

	draft, err := registry.Normalize(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "runbook-7", draft.Document.SourceID)
	assert.Equal(t, "ws-1", draft.Document.WorkspaceID)
	assert.Equal(t, domain.SourceTypeGeneric, draft.Document.SourceType)
}

func TestRegistry_Normalize_UnknownSource(t *testing.T) {
	ctx := context.Background()
	registry := DefaultRegistry()

	env := testEnvelope("jira", "issue.updated", map[string]any{"key": "X-1"})

	_, err := registry.Normalize(ctx, env)
	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeMalformedPayload, domainErr.Code)
}

func TestRegistry_Normalize_RejectsInvalidEnvelope(t *testing.T) {
	ctx := context.Background()
	registry := DefaultRegistry()

	tests := []struct {
		name   string
		mutate func(*domain.Envelope)
	}{
		{"missing workspace", func(e *domain.Envelope) { e.WorkspaceID = "" }},
		{"missing source", func(e *domain.Envelope) { e.Source = "" }},
		{"missing action", func(e *domain.Envelope) { e.Action = "" }},
		{"missing payload", func(e *domain.Envelope) { e.Payload = nil }},
		{"zero occurred_at", func(e *domain.Envelope) { e.OccurredAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnvelope(domain.SourceTypeGeneric, "resource.updated", map[string]any{
				"resource_id": "r-1",
				"body":        "content",
			})
			tt.mutate(env)
			_, err := registry.Normalize(ctx, env)
			var domainErr *domain.DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, domain.ErrCodeMalformedPayload, domainErr.Code)
		})
	}
}

func TestRegistry_Normalize_FillsDerivedFields(t *testing.T) {
	ctx := context.Background()
	registry := DefaultRegistry()

	env := testEnvelope(domain.SourceTypeGeneric, "resource.updated", map[string]any{
		"resource_id": "doc-1",
		"body":        "A short body.",
	})

	draft, err := registry.Normalize(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, ContentHash("A short body."), draft.Document.ContentHash)
	require.NotEmpty(t, draft.Chunks)
	assert.Equal(t, 0, draft.Chunks[0].ChunkIndex)
	assert.Equal(t, env.OccurredAt, draft.Document.OccurredAt)
}

func TestContentHash_StableUnderWhitespaceChurn(t *testing.T) {
	base := ContentHash("Title\n\nFirst paragraph.\nSecond line.")

	assert.Equal(t, base, ContentHash("Title\r\n\r\nFirst paragraph.\r\nSecond line."))
	assert.Equal(t, base, ContentHash("Title  \n\nFirst paragraph.\t\nSecond line.\n\n"))
	assert.NotEqual(t, base, ContentHash("Title\n\nFirst paragraph changed.\nSecond line."))
}

func TestDeriveIdempotencyKey_Deterministic(t *testing.T) {
	env := testEnvelope(domain.SourceTypeGitHub, "pull_request.merged", map[string]any{})

	first := domain.DeriveIdempotencyKey(env, "acme/api#pr-42")
	second := domain.DeriveIdempotencyKey(env, "acme/api#pr-42")
	assert.Equal(t, first, second)

	other := domain.DeriveIdempotencyKey(env, "acme/api#pr-43")
	assert.NotEqual(t, first, other)
}
