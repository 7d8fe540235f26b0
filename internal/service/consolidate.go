package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/telemetry"
)

// ObservationConsolidationRepository reads the consolidation backlog and
// marks observations summarized.
type ObservationConsolidationRepository interface {
	// ListUnconsolidated returns observations with embeddings but no
	// SummarizedAt, oldest first.
	ListUnconsolidated(ctx context.Context, workspaceID string, limit int) ([]*domain.Observation, error)
	MarkSummarized(ctx context.Context, ids []string, at time.Time) error
	WorkspacesWithPending(ctx context.Context, limit int) ([]string, error)
}

// SummaryRepositoryInterface persists consolidated summaries.
type SummaryRepositoryInterface interface {
	Insert(ctx context.Context, s *domain.Summary) error
}

// ConsolidationTxRepositories exposes the repositories one cluster's
// writes go through inside a single transaction.
type ConsolidationTxRepositories interface {
	Summaries() SummaryRepositoryInterface
	EmbeddingJobs() EmbeddingJobRepositoryInterface
	Observations() ObservationConsolidationRepository
}

// ConsolidationTxRunner runs a cluster's summary insert, embedding-job
// enqueue and summarized-marking as one transaction. A failure part way
// through rolls all three back, so the next run re-clusters the same
// observations instead of finding a committed summary they were never
// marked into.
type ConsolidationTxRunner interface {
	WithConsolidationTx(ctx context.Context, fn func(repos ConsolidationTxRepositories) error) error
}

// ProfileRepositoryInterface reads and writes actor profiles.
type ProfileRepositoryInterface interface {
	GetByActor(ctx context.Context, workspaceID string, profileType domain.ActorType, actorID string) (*domain.ActorProfile, error)
	Upsert(ctx context.Context, p *domain.ActorProfile) error
}

// TemporalStateRepositoryInterface persists current-work snapshots.
type TemporalStateRepositoryInterface interface {
	Upsert(ctx context.Context, t *domain.TemporalState) error
}

// LeaseRepositoryInterface implements the TTL lock that keeps two
// consolidation runs for the same scope from overlapping.
type LeaseRepositoryInterface interface {
	// Acquire claims the lease; false means a live lease is held
	// elsewhere. Expired leases are claimable.
	Acquire(ctx context.Context, scope, workspaceID, holderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, scope, workspaceID, holderID string) error
}

// Summarizer condenses a cluster of observation texts. A nil summarizer
// falls back to the deterministic rollup.
type Summarizer interface {
	Summarize(ctx context.Context, scope string, observations []string) (*SummaryDraft, error)
}

// SummaryDraft is what a summarizer returns for one cluster.
type SummaryDraft struct {
	Content   string
	KeyPoints []string
	Entities  []string
}

// ConsolidateConfig tunes clustering and profile decay.
type ConsolidateConfig struct {
	// Epsilon is the minimum cosine similarity for an observation to join
	// an existing cluster.
	Epsilon float64
	// MinClusterSize is the smallest cluster that produces a summary.
	// Smaller clusters stay in the backlog for a later run.
	MinClusterSize int
	// BatchLimit caps observations consolidated per run.
	BatchLimit int
	// LeaseTTL bounds how long a crashed run can block the scope.
	LeaseTTL time.Duration
	// ProfileHalfLife is the decay half-life for profile signals. Older
	// activity counts for less as an actor's focus moves.
	ProfileHalfLife time.Duration
	// TemporalWindow is how far back current-work snapshots look.
	TemporalWindow time.Duration
}

// DefaultConsolidateConfig returns the documented defaults.
func DefaultConsolidateConfig() ConsolidateConfig {
	return ConsolidateConfig{
		Epsilon:         0.80,
		MinClusterSize:  2,
		BatchLimit:      200,
		LeaseTTL:        5 * time.Minute,
		ProfileHalfLife: 30 * 24 * time.Hour,
		TemporalWindow:  7 * 24 * time.Hour,
	}
}

// ConsolidationReport summarizes what one consolidation run did.
type ConsolidationReport struct {
	WorkspaceID      string
	ObservationsSeen int
	SummariesCreated int
	ProfilesUpdated  int
}

// ConsolidateService clusters unconsolidated observations into summaries
// and folds them into actor profiles and temporal state. Runs are
// serialized per workspace with a TTL lease; profile updates are
// incremental so cost tracks new observations, not total history.
type ConsolidateService struct {
	observations ObservationConsolidationRepository
	tx           ConsolidationTxRunner
	profiles     ProfileRepositoryInterface
	temporal     TemporalStateRepositoryInterface
	leases       LeaseRepositoryInterface
	summarizer   Summarizer
	cfg          ConsolidateConfig
	holderID     string
	uuidGen      UUIDGenerator
	now          func() time.Time
}

// NewConsolidateService creates a new ConsolidateService instance.
// holderID identifies this worker in lease ownership, typically the
// hostname plus a random suffix.
func NewConsolidateService(
	observations ObservationConsolidationRepository,
	tx ConsolidationTxRunner,
	profiles ProfileRepositoryInterface,
	temporal TemporalStateRepositoryInterface,
	leases LeaseRepositoryInterface,
	summarizer Summarizer,
	cfg ConsolidateConfig,
	holderID string,
) *ConsolidateService {
	if cfg.Epsilon <= 0 {
		cfg = DefaultConsolidateConfig()
	}
	return &ConsolidateService{
		observations: observations,
		tx:           tx,
		profiles:     profiles,
		temporal:     temporal,
		leases:       leases,
		summarizer:   summarizer,
		cfg:          cfg,
		holderID:     holderID,
		uuidGen:      &DefaultUUIDGenerator{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PendingWorkspaces lists workspaces with a consolidation backlog.
func (s *ConsolidateService) PendingWorkspaces(ctx context.Context, limit int) ([]string, error) {
	return s.observations.WorkspacesWithPending(ctx, limit)
}

// ConsolidateWorkspace runs one consolidation pass for a workspace.
// Returns ErrLeaseContention when another worker holds the scope.
func (s *ConsolidateService) ConsolidateWorkspace(ctx context.Context, workspaceID string) (*ConsolidationReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConsolidateService.ConsolidateWorkspace", telemetry.SpanAttributes{
		WorkspaceID: workspaceID,
		Operation:   "consolidate",
	})
	defer span.End()

	scope := "consolidation"
	acquired, err := s.leases.Acquire(ctx, scope, workspaceID, s.holderID, s.cfg.LeaseTTL)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to acquire consolidation lease: %w", err)
	}
	if !acquired {
		return nil, domain.ErrLeaseContention
	}
	defer func() {
		if err := s.leases.Release(ctx, scope, workspaceID, s.holderID); err != nil {
			log.Printf("failed to release consolidation lease for workspace %s: %v", workspaceID, err)
		}
	}()

	batch, err := s.observations.ListUnconsolidated(ctx, workspaceID, s.cfg.BatchLimit)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to list consolidation backlog: %w", err)
	}

	report := &ConsolidationReport{WorkspaceID: workspaceID, ObservationsSeen: len(batch)}
	if len(batch) == 0 {
		return report, nil
	}

	clusters := clusterByContent(batch, s.cfg.Epsilon)
	for _, cluster := range clusters {
		if len(cluster) < s.cfg.MinClusterSize {
			continue
		}
		if err := s.summarizeCluster(ctx, workspaceID, cluster); err != nil {
			span.SetError(err)
			return report, err
		}
		report.SummariesCreated++
	}

	updated, err := s.updateProfiles(ctx, workspaceID, batch, clusters)
	if err != nil {
		span.SetError(err)
		return report, err
	}
	report.ProfilesUpdated = updated

	if err := s.updateTemporalStates(ctx, workspaceID, batch); err != nil {
		span.SetError(err)
		return report, err
	}
	return report, nil
}

// clusterByContent greedily assigns each observation to the first cluster
// whose centroid is within epsilon cosine similarity, else starts a new
// cluster. Centroids are running means. Input order (oldest first) makes
// the assignment deterministic.
func clusterByContent(batch []*domain.Observation, epsilon float64) [][]*domain.Observation {
	type cluster struct {
		members  []*domain.Observation
		centroid []float64
	}
	var clusters []*cluster

	for _, obs := range batch {
		if len(obs.ContentEmbedding) == 0 {
			continue
		}
		vec := toFloat64(obs.ContentEmbedding)

		var best *cluster
		bestSim := epsilon
		for _, c := range clusters {
			if sim := cosineSimilarity(vec, c.centroid); sim >= bestSim {
				best, bestSim = c, sim
			}
		}
		if best == nil {
			clusters = append(clusters, &cluster{
				members:  []*domain.Observation{obs},
				centroid: vec,
			})
			continue
		}
		n := float64(len(best.members))
		for i := range best.centroid {
			best.centroid[i] = (best.centroid[i]*n + vec[i]) / (n + 1)
		}
		best.members = append(best.members, obs)
	}

	out := make([][]*domain.Observation, len(clusters))
	for i, c := range clusters {
		out[i] = c.members
	}
	return out
}

func (s *ConsolidateService) summarizeCluster(ctx context.Context, workspaceID string, cluster []*domain.Observation) error {
	scope := clusterScope(cluster)
	draft := s.draftSummary(ctx, scope, cluster)

	ids := make([]string, len(cluster))
	start, end := cluster[0].OccurredAt, cluster[0].OccurredAt
	for i, obs := range cluster {
		ids[i] = obs.ID
		if obs.OccurredAt.Before(start) {
			start = obs.OccurredAt
		}
		if obs.OccurredAt.After(end) {
			end = obs.OccurredAt
		}
	}

	now := s.now()
	summary := &domain.Summary{
		ID:              s.uuidGen.NewString(),
		WorkspaceID:     workspaceID,
		SummaryType:     domain.SummaryTypeTopic,
		Scope:           scope,
		PeriodStart:     start,
		PeriodEnd:       end,
		ObservationIDs:  ids,
		KeyPoints:       draft.KeyPoints,
		Content:         draft.Content,
		PrimaryEntities: draft.Entities,
		CreatedAt:       now,
	}
	if err := domain.ValidateSummary(summary); err != nil {
		return fmt.Errorf("consolidator produced invalid summary: %w", err)
	}
	return s.tx.WithConsolidationTx(ctx, func(repos ConsolidationTxRepositories) error {
		if err := repos.Summaries().Insert(ctx, summary); err != nil {
			return fmt.Errorf("failed to insert summary: %w", err)
		}
		if err := repos.EmbeddingJobs().Create(ctx, &domain.EmbeddingJob{
			ID:          s.uuidGen.NewString(),
			WorkspaceID: workspaceID,
			SummaryID:   summary.ID,
			Status:      domain.EmbeddingJobStatusPending,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("failed to enqueue summary embedding: %w", err)
		}
		if err := repos.Observations().MarkSummarized(ctx, ids, now); err != nil {
			return fmt.Errorf("failed to mark observations summarized: %w", err)
		}
		return nil
	})
}

// draftSummary asks the model when one is wired, otherwise rolls up
// titles deterministically. Model failure degrades to the deterministic
// path rather than stalling the backlog.
func (s *ConsolidateService) draftSummary(ctx context.Context, scope string, cluster []*domain.Observation) *SummaryDraft {
	if s.summarizer != nil {
		texts := make([]string, len(cluster))
		for i, obs := range cluster {
			texts[i] = obs.Title + ": " + truncate(obs.Content, 600)
		}
		draft, err := s.summarizer.Summarize(ctx, scope, texts)
		if err == nil && draft != nil {
			return draft
		}
		log.Printf("model summarization failed for scope %s, using deterministic rollup: %v", scope, err)
	}

	points := make([]string, 0, 5)
	entities := map[string]struct{}{}
	for _, obs := range cluster {
		if len(points) < 5 {
			points = append(points, obs.Title)
		}
		if obs.ActorName != "" {
			entities[obs.ActorName] = struct{}{}
		}
	}
	return &SummaryDraft{
		Content:   fmt.Sprintf("%d related observations about %s between %s and %s.", len(cluster), scope, cluster[0].OccurredAt.Format("2006-01-02"), cluster[len(cluster)-1].OccurredAt.Format("2006-01-02")),
		KeyPoints: points,
		Entities:  sortedKeys(entities),
	}
}

// clusterScope names a cluster by its most frequent topic, falling back
// to the oldest member's title.
func clusterScope(cluster []*domain.Observation) string {
	counts := map[string]int{}
	for _, obs := range cluster {
		for _, t := range obs.Topics {
			counts[t]++
		}
	}
	best, bestCount := "", 0
	for t, c := range counts {
		if c > bestCount || (c == bestCount && t < best) {
			best, bestCount = t, c
		}
	}
	if best == "" {
		return cluster[0].Title
	}
	return best
}

// updateProfiles folds the batch into per-actor profiles with exponential
// decay: a gap of one half-life halves the weight of everything already
// in the profile before the new observations land.
func (s *ConsolidateService) updateProfiles(ctx context.Context, workspaceID string, batch []*domain.Observation, clusters [][]*domain.Observation) (int, error) {
	byActor := map[string][]*domain.Observation{}
	for _, obs := range batch {
		if obs.ActorID == "" {
			continue
		}
		key := string(obs.ActorType) + "|" + obs.ActorID
		byActor[key] = append(byActor[key], obs)
	}
	cooccurrence := collaboratorCounts(clusters)

	updated := 0
	for _, group := range byActor {
		first := group[0]
		profile, err := s.profiles.GetByActor(ctx, workspaceID, first.ActorType, first.ActorID)
		if err != nil && !isNotFound(err) {
			return updated, fmt.Errorf("failed to load actor profile: %w", err)
		}
		if profile == nil {
			profile = &domain.ActorProfile{
				ID:                    s.uuidGen.NewString(),
				WorkspaceID:           workspaceID,
				ProfileType:           first.ActorType,
				ActorID:               first.ActorID,
				ActorName:             first.ActorName,
				ExpertiseVectors:      map[string]float64{},
				ContributionTypes:     map[string]float64{},
				FrequentCollaborators: map[string]int64{},
				CreatedAt:             s.now(),
			}
		}
		s.foldIntoProfile(profile, group, cooccurrence[first.ActorID])
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			return updated, fmt.Errorf("failed to upsert actor profile: %w", err)
		}
		updated++
	}
	return updated, nil
}

// collaboratorCounts counts, per actor, how often each other actor
// appeared in the same topical cluster this run.
func collaboratorCounts(clusters [][]*domain.Observation) map[string]map[string]int64 {
	counts := map[string]map[string]int64{}
	for _, cluster := range clusters {
		actors := map[string]struct{}{}
		for _, obs := range cluster {
			if obs.ActorID != "" {
				actors[obs.ActorID] = struct{}{}
			}
		}
		if len(actors) < 2 {
			continue
		}
		for a := range actors {
			for b := range actors {
				if a == b {
					continue
				}
				if counts[a] == nil {
					counts[a] = map[string]int64{}
				}
				counts[a][b]++
			}
		}
	}
	return counts
}

func (s *ConsolidateService) foldIntoProfile(p *domain.ActorProfile, group []*domain.Observation, collaborators map[string]int64) {
	now := s.now()
	if p.ExpertiseVectors == nil {
		p.ExpertiseVectors = map[string]float64{}
	}
	if p.ContributionTypes == nil {
		p.ContributionTypes = map[string]float64{}
	}
	if p.FrequentCollaborators == nil {
		p.FrequentCollaborators = map[string]int64{}
	}

	decay := 1.0
	if !p.LastActiveAt.IsZero() && s.cfg.ProfileHalfLife > 0 {
		gap := now.Sub(p.LastActiveAt)
		decay = math.Pow(0.5, gap.Hours()/s.cfg.ProfileHalfLife.Hours())
	}
	for k := range p.ExpertiseVectors {
		p.ExpertiseVectors[k] *= decay
	}
	for k, v := range p.FrequentCollaborators {
		if dv := int64(float64(v) * decay); dv > 0 {
			p.FrequentCollaborators[k] = dv
		} else {
			delete(p.FrequentCollaborators, k)
		}
	}
	for k, v := range collaborators {
		p.FrequentCollaborators[k] += v
	}

	effectiveCount := float64(p.ObservationCount) * decay
	centroid := toFloat64(p.CentroidEmbedding)

	// ContributionTypes holds fractions summing to 1. Scale back to
	// decayed counts so new observations merge at their true weight, then
	// renormalize below. Fractions are scale-invariant, so the decay only
	// shifts how much the history counts against the new work.
	for k := range p.ContributionTypes {
		p.ContributionTypes[k] *= effectiveCount
	}

	for _, obs := range group {
		for _, t := range obs.Topics {
			p.ExpertiseVectors[t] += obs.Importance
		}
		p.ContributionTypes[string(obs.ObservationType)] += 1
		p.ActiveHours[obs.OccurredAt.UTC().Hour()] += 1
		if obs.ActorName != "" {
			p.ActorName = obs.ActorName
		}
		if obs.OccurredAt.After(p.LastActiveAt) {
			p.LastActiveAt = obs.OccurredAt
		}

		if len(obs.ContentEmbedding) == 0 {
			continue
		}
		vec := toFloat64(obs.ContentEmbedding)
		if len(centroid) != len(vec) {
			centroid = make([]float64, len(vec))
			effectiveCount = 0
		}
		for i := range centroid {
			centroid[i] = (centroid[i]*effectiveCount + vec[i]) / (effectiveCount + 1)
		}
		effectiveCount++
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = obs.EmbeddingModel
		}
	}

	if total := float64(p.ObservationCount)*decay + float64(len(group)); total > 0 {
		for k := range p.ContributionTypes {
			p.ContributionTypes[k] /= total
		}
	}

	p.CentroidEmbedding = toFloat32(centroid)
	p.ObservationCount += int64(len(group))
	p.UpdatedAt = now
}

// updateTemporalStates refreshes each actor's current-work snapshot from
// their observations inside the temporal window.
func (s *ConsolidateService) updateTemporalStates(ctx context.Context, workspaceID string, batch []*domain.Observation) error {
	now := s.now()
	cutoff := now.Add(-s.cfg.TemporalWindow)

	byActor := map[string][]*domain.Observation{}
	for _, obs := range batch {
		if obs.ActorID == "" || obs.OccurredAt.Before(cutoff) {
			continue
		}
		byActor[obs.ActorID] = append(byActor[obs.ActorID], obs)
	}

	for actorID, group := range byActor {
		sort.Slice(group, func(i, j int) bool { return group[i].OccurredAt.After(group[j].OccurredAt) })
		titles := make([]string, 0, 3)
		windowStart := group[len(group)-1].OccurredAt
		for i, obs := range group {
			if i < 3 {
				titles = append(titles, obs.Title)
			}
		}
		state := &domain.TemporalState{
			ID:          s.uuidGen.NewString(),
			WorkspaceID: workspaceID,
			ActorID:     actorID,
			StateText:   strings.Join(titles, "; "),
			WindowStart: windowStart,
			WindowEnd:   group[0].OccurredAt,
			UpdatedAt:   now,
		}
		if err := s.temporal.Upsert(ctx, state); err != nil {
			return fmt.Errorf("failed to upsert temporal state: %w", err)
		}
	}
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
