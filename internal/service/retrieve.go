package service

import (
	"context"
	"log"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// SignalHit is one raw hit from a candidate generator, before fusion.
// Hits within a list are ordered best first; rank position, not the raw
// engine score, feeds fusion.
type SignalHit struct {
	Kind       CandidateKind
	ID         string
	DocumentID string
	OccurredAt time.Time
	Importance float64
	// Snippet carries display text for kinds without a hydration path
	// (temporal states).
	Snippet string
}

// SearchIndex is the candidate-generation surface over primary storage:
// lexical full-text and dense vector search per family, plus the
// actor/temporal generators.
type SearchIndex interface {
	LexicalChunks(ctx context.Context, workspaceID, query string, limit int) ([]SignalHit, error)
	LexicalObservations(ctx context.Context, workspaceID, query string, limit int) ([]SignalHit, error)
	DenseChunks(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]SignalHit, error)
	DenseObservations(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]SignalHit, error)
	DenseSummaries(ctx context.Context, workspaceID string, vector []float32, model string, limit int) ([]SignalHit, error)
	// ProfileNeighbors finds observations near actor-profile centroids.
	ProfileNeighbors(ctx context.Context, workspaceID string, actorHints []string, vector []float32, model string, limit int) ([]SignalHit, error)
	TemporalStates(ctx context.Context, workspaceID string, window TimeWindow, limit int) ([]SignalHit, error)
	ObservationsInWindow(ctx context.Context, workspaceID string, window TimeWindow, limit int) ([]SignalHit, error)
}

// Reranker is the optional second-stage scorer. Implementations reorder
// or drop candidates; a nil reranker passes candidates through.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []FusedResult) ([]FusedResult, error)
}

// ContentHydrator resolves result references to display content. Backed
// by the read-through cache; misses fall through to primary storage.
type ContentHydrator interface {
	HydrateChunk(ctx context.Context, id string) (*domain.Chunk, error)
	HydrateObservation(ctx context.Context, id string) (*domain.Observation, error)
	HydrateSummary(ctx context.Context, id string) (*domain.Summary, error)
}

// RetrieveOptions are per-request knobs. Mode overrides classification
// when set.
type RetrieveOptions struct {
	Mode   RetrievalMode
	Limit  int
	Fusion *FusionConfig
}

// RankedResult is one hydrated retrieval hit.
type RankedResult struct {
	Kind       CandidateKind `json:"kind"`
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id,omitempty"`
	Score      float64       `json:"score"`
	Signals    []Signal      `json:"signals"`
	Title      string        `json:"title,omitempty"`
	Snippet    string        `json:"snippet"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// RetrieveResult is the full response of one retrieval call.
type RetrieveResult struct {
	Mode    RetrievalMode  `json:"mode"`
	Results []RankedResult `json:"results"`
	// Degraded reports that one or more candidate generators were
	// unavailable and the ranking was built from the rest.
	Degraded bool `json:"degraded,omitempty"`
}

// RetrieveConfig tunes the retrieval orchestrator.
type RetrieveConfig struct {
	CandidateLimit int
	DefaultLimit   int
	// RerankBudget is the slice of the request deadline granted to the
	// reranker. On expiry the pre-rerank order stands.
	RerankBudget time.Duration
	SnippetLimit int
}

// DefaultRetrieveConfig returns the documented defaults.
func DefaultRetrieveConfig() RetrieveConfig {
	return RetrieveConfig{
		CandidateLimit: 50,
		DefaultLimit:   10,
		RerankBudget:   300 * time.Millisecond,
		SnippetLimit:   280,
	}
}

// RetrieveService routes queries, fans out candidate generation, fuses
// signals and hydrates the top results. Generator failures degrade the
// response instead of failing it; only zero generators is an error.
type RetrieveService struct {
	index    SearchIndex
	embedder Embedder
	hydrator ContentHydrator
	reranker Reranker
	fusion   FusionConfig
	cfg      RetrieveConfig
	now      func() time.Time
}

// NewRetrieveService creates a new RetrieveService instance. fusion must
// validate; embedder and reranker may be nil for lexical-only operation.
func NewRetrieveService(index SearchIndex, embedder Embedder, hydrator ContentHydrator, reranker Reranker, fusion FusionConfig, cfg RetrieveConfig) (*RetrieveService, error) {
	if err := fusion.Validate(); err != nil {
		return nil, err
	}
	if cfg.CandidateLimit <= 0 {
		cfg = DefaultRetrieveConfig()
	}
	return &RetrieveService{
		index:    index,
		embedder: embedder,
		hydrator: hydrator,
		reranker: reranker,
		fusion:   fusion,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Retrieve answers one query for one workspace.
func (s *RetrieveService) Retrieve(ctx context.Context, workspaceID, query string, opts RetrieveOptions) (*RetrieveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrieveService.Retrieve", telemetry.SpanAttributes{
		WorkspaceID: workspaceID,
		Operation:   "retrieve",
	})
	defer span.End()

	if query == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "query is required")
	}

	now := s.now()
	classification := ClassifyQuery(query, now)
	if opts.Mode != "" {
		classification.Mode = opts.Mode
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	fusion := s.fusion
	if opts.Fusion != nil {
		if err := opts.Fusion.Validate(); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid fusion weights", err)
		}
		fusion = *opts.Fusion
	}

	candidates, degraded := s.gatherCandidates(ctx, workspaceID, query, classification)
	if len(candidates) == 0 {
		return &RetrieveResult{Mode: classification.Mode, Results: []RankedResult{}, Degraded: degraded}, nil
	}

	fused := Fuse(fusion, candidates, now, limit*3)
	fused = s.rerank(ctx, query, fused)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := s.hydrate(ctx, fused)
	return &RetrieveResult{Mode: classification.Mode, Results: results, Degraded: degraded}, nil
}

// gatherCandidates fans out to the generators the mode calls for. Each
// generator failure is logged and skipped; the ranking is built from
// whatever succeeded.
func (s *RetrieveService) gatherCandidates(ctx context.Context, workspaceID, query string, c QueryClassification) ([]Candidate, bool) {
	var out []Candidate
	degraded := false

	collect := func(signal Signal, hits []SignalHit, err error, label string) {
		if err != nil {
			degraded = true
			log.Printf("retrieval generator %s failed: %v", label, err)
			telemetry.AddBreadcrumb(ctx, "retrieve", "generator "+label+" unavailable")
			return
		}
		scores := rankScores(len(hits))
		for i, h := range hits {
			out = append(out, Candidate{
				Kind:       h.Kind,
				ID:         h.ID,
				DocumentID: h.DocumentID,
				Scores:     map[Signal]float64{signal: scores[i]},
				OccurredAt: h.OccurredAt,
				Importance: h.Importance,
				Snippet:    h.Snippet,
			})
		}
	}

	limit := s.cfg.CandidateLimit
	mode := c.Mode

	var queryVec []float32
	if s.embedder != nil {
		vecs, err := s.embedder.GenerateEmbeddings(ctx, []string{query})
		if err != nil {
			degraded = true
			log.Printf("query embedding unavailable, lexical-only retrieval: %v", err)
		} else {
			queryVec = vecs[0]
		}
	}
	model := ""
	if s.embedder != nil {
		model = s.embedder.Model()
	}

	wantKnowledge := mode == ModeKnowledge || mode == ModeHybrid || mode == ModeActor
	wantNeural := mode == ModeNeural || mode == ModeHybrid || mode == ModeActor || mode == ModeTemporal

	if wantKnowledge {
		hits, err := s.index.LexicalChunks(ctx, workspaceID, query, limit)
		collect(SignalKnowledge, hits, err, "lexical_chunks")
		if queryVec != nil {
			hits, err = s.index.DenseChunks(ctx, workspaceID, queryVec, model, limit)
			collect(SignalKnowledge, hits, err, "dense_chunks")
		}
	}
	if wantNeural {
		hits, err := s.index.LexicalObservations(ctx, workspaceID, query, limit)
		collect(SignalNeural, hits, err, "lexical_observations")
		if queryVec != nil {
			hits, err = s.index.DenseObservations(ctx, workspaceID, queryVec, model, limit)
			collect(SignalNeural, hits, err, "dense_observations")
			hits, err = s.index.DenseSummaries(ctx, workspaceID, queryVec, model, limit)
			collect(SignalNeural, hits, err, "dense_summaries")
		}
	}
	if mode == ModeActor {
		hits, err := s.index.ProfileNeighbors(ctx, workspaceID, c.ActorHints, queryVec, model, limit)
		collect(SignalActor, hits, err, "profile_neighbors")
	}
	if mode == ModeTemporal || mode == ModeActor {
		window := TimeWindow{Start: s.now().Add(-7 * 24 * time.Hour), End: s.now()}
		if c.TimeWindow != nil {
			window = *c.TimeWindow
		}
		hits, err := s.index.TemporalStates(ctx, workspaceID, window, limit)
		collect(SignalTemporal, hits, err, "temporal_states")
		hits, err = s.index.ObservationsInWindow(ctx, workspaceID, window, limit)
		collect(SignalTemporal, hits, err, "observations_in_window")
	}

	return out, degraded
}

// rerank applies the optional second stage under its own deadline slice.
// Budget expiry or reranker failure keeps the fused order.
func (s *RetrieveService) rerank(ctx context.Context, query string, fused []FusedResult) []FusedResult {
	if s.reranker == nil || len(fused) == 0 {
		return fused
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RerankBudget)
	defer cancel()

	reranked, err := s.reranker.Rerank(rctx, query, fused)
	if err != nil {
		log.Printf("rerank skipped: %v", err)
		return fused
	}
	return reranked
}

func (s *RetrieveService) hydrate(ctx context.Context, fused []FusedResult) []RankedResult {
	results := make([]RankedResult, 0, len(fused))
	for _, f := range fused {
		r := RankedResult{
			Kind:       f.Kind,
			ID:         f.ID,
			DocumentID: f.DocumentID,
			Score:      f.Score,
			Signals:    f.Signals,
			OccurredAt: f.OccurredAt,
		}
		switch f.Kind {
		case KindChunk:
			chunk, err := s.hydrator.HydrateChunk(ctx, f.ID)
			if err != nil {
				continue
			}
			r.Title = chunk.SectionLabel
			r.Snippet = truncate(chunk.Text, s.cfg.SnippetLimit)
			if r.DocumentID == "" {
				r.DocumentID = chunk.DocumentID
			}
		case KindObservation:
			obs, err := s.hydrator.HydrateObservation(ctx, f.ID)
			if err != nil {
				continue
			}
			r.Title = obs.Title
			r.Snippet = truncate(obs.Content, s.cfg.SnippetLimit)
		case KindSummary:
			summary, err := s.hydrator.HydrateSummary(ctx, f.ID)
			if err != nil {
				continue
			}
			r.Title = summary.Scope
			r.Snippet = truncate(summary.Content, s.cfg.SnippetLimit)
		default:
			r.Snippet = truncate(f.Snippet, s.cfg.SnippetLimit)
		}
		results = append(results, r)
	}
	return results
}
