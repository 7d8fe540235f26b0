// Package normalize transforms source-specific event payloads into the
// generic draft shape the persistence coordinator consumes.
package normalize

import (
	"context"
	"fmt"

	"github.com/hivemindhq/hivemind/internal/domain"
)

// Normalizer turns one source's envelopes into drafts. Implementations are
// read-only against source APIs and perform no writes.
type Normalizer interface {
	Normalize(ctx context.Context, env *domain.Envelope) (*Draft, error)
}

// Registry is an immutable mapping from source type to its normalizer,
// built once at startup.
type Registry struct {
	normalizers map[domain.SourceType]Normalizer
}

// NewRegistry builds a registry over the given normalizers. Later entries
// for the same source type are rejected rather than silently replaced.
func NewRegistry(entries map[domain.SourceType]Normalizer) *Registry {
	copied := make(map[domain.SourceType]Normalizer, len(entries))
	for src, n := range entries {
		copied[src] = n
	}
	return &Registry{normalizers: copied}
}

// DefaultRegistry wires the built-in source normalizers.
func DefaultRegistry() *Registry {
	return NewRegistry(map[domain.SourceType]Normalizer{
		domain.SourceTypeGitHub:  &GitHubNormalizer{},
		domain.SourceTypeLinear:  &LinearNormalizer{},
		domain.SourceTypeNotion:  &NotionNormalizer{},
		domain.SourceTypeGeneric: &GenericNormalizer{},
	})
}

// Lookup returns the normalizer for a source type.
func (r *Registry) Lookup(source domain.SourceType) (Normalizer, error) {
	n, ok := r.normalizers[source]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeMalformedPayload,
			fmt.Sprintf("no normalizer registered for source %q", source))
	}
	return n, nil
}

// Normalize validates the envelope, dispatches to the source's normalizer
// and finalizes the draft (hash, chunking).
func (r *Registry) Normalize(ctx context.Context, env *domain.Envelope) (*Draft, error) {
	if err := domain.ValidateEnvelope(env); err != nil {
		return nil, err
	}
	n, err := r.Lookup(env.Source)
	if err != nil {
		return nil, err
	}
	draft, err := n.Normalize(ctx, env)
	if err != nil {
		return nil, err
	}
	finalizeDraft(draft, env)
	return draft, nil
}

// finalizeDraft fills the derived fields every source shares: the content
// hash over the normalized body, chunking, and workspace/source plumbing.
func finalizeDraft(d *Draft, env *domain.Envelope) {
	d.Document.WorkspaceID = env.WorkspaceID
	d.Document.SourceType = env.Source
	if d.Document.OccurredAt.IsZero() {
		d.Document.OccurredAt = env.OccurredAt
	}
	if d.Document.ContentHash == "" {
		d.Document.ContentHash = ContentHash(d.Document.Body)
	}
	if len(d.Chunks) == 0 {
		d.Chunks = ChunkBody(d.Document.Body, DefaultChunkConfig())
	}
	for i := range d.Observations {
		if d.Observations[i].OccurredAt.IsZero() {
			d.Observations[i].OccurredAt = env.OccurredAt
		}
	}
}
