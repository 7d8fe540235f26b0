package service

import (
	"context"
	"testing"
	"time"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObservationConsolidationRepository struct {
	mock.Mock
}

func (m *MockObservationConsolidationRepository) ListUnconsolidated(ctx context.Context, workspaceID string, limit int) ([]*domain.Observation, error) {
	args := m.Called(ctx, workspaceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Observation), args.Error(1)
}

func (m *MockObservationConsolidationRepository) MarkSummarized(ctx context.Context, ids []string, at time.Time) error {
	args := m.Called(ctx, ids, at)
	return args.Error(0)
}

func (m *MockObservationConsolidationRepository) WorkspacesWithPending(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockSummaryRepository struct {
	mock.Mock
}

func (m *MockSummaryRepository) Insert(ctx context.Context, s *domain.Summary) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetByActor(ctx context.Context, workspaceID string, profileType domain.ActorType, actorID string) (*domain.ActorProfile, error) {
	args := m.Called(ctx, workspaceID, profileType, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActorProfile), args.Error(1)
}

func (m *MockProfileRepository) Upsert(ctx context.Context, p *domain.ActorProfile) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

type MockTemporalStateRepository struct {
	mock.Mock
}

func (m *MockTemporalStateRepository) Upsert(ctx context.Context, t *domain.TemporalState) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

type MockLeaseRepository struct {
	mock.Mock
}

func (m *MockLeaseRepository) Acquire(ctx context.Context, scope, workspaceID, holderID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, scope, workspaceID, holderID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLeaseRepository) Release(ctx context.Context, scope, workspaceID, holderID string) error {
	args := m.Called(ctx, scope, workspaceID, holderID)
	return args.Error(0)
}

// fakeConsolidationTxRunner bundles the mocks behind the transactional
// facade and counts how many write sets came back with an error, which
// the real runner would roll back.
type fakeConsolidationTxRunner struct {
	summaries    *MockSummaryRepository
	jobs         *MockEmbeddingJobRepository
	observations *MockObservationConsolidationRepository
	rolledBack   int
}

func (r *fakeConsolidationTxRunner) WithConsolidationTx(ctx context.Context, fn func(repos ConsolidationTxRepositories) error) error {
	if err := fn(r); err != nil {
		r.rolledBack++
		return err
	}
	return nil
}

func (r *fakeConsolidationTxRunner) Summaries() SummaryRepositoryInterface { return r.summaries }
func (r *fakeConsolidationTxRunner) EmbeddingJobs() EmbeddingJobRepositoryInterface {
	return r.jobs
}
func (r *fakeConsolidationTxRunner) Observations() ObservationConsolidationRepository {
	return r.observations
}

type consolidateFixture struct {
	observations *MockObservationConsolidationRepository
	summaries    *MockSummaryRepository
	profiles     *MockProfileRepository
	temporal     *MockTemporalStateRepository
	leases       *MockLeaseRepository
	jobs         *MockEmbeddingJobRepository
	tx           *fakeConsolidationTxRunner
	service      *ConsolidateService
}

func newConsolidateFixture(t *testing.T, now time.Time) *consolidateFixture {
	t.Helper()
	f := &consolidateFixture{
		observations: new(MockObservationConsolidationRepository),
		summaries:    new(MockSummaryRepository),
		profiles:     new(MockProfileRepository),
		temporal:     new(MockTemporalStateRepository),
		leases:       new(MockLeaseRepository),
		jobs:         new(MockEmbeddingJobRepository),
	}
	f.tx = &fakeConsolidationTxRunner{
		summaries:    f.summaries,
		jobs:         f.jobs,
		observations: f.observations,
	}
	f.service = NewConsolidateService(
		f.observations, f.tx, f.profiles, f.temporal, f.leases,
		nil, DefaultConsolidateConfig(), "worker-1",
	)
	f.service.now = func() time.Time { return now }
	return f
}

// three distinct topic directions in a toy embedding space
var (
	topicAuth    = []float32{1, 0, 0}
	topicBilling = []float32{0, 1, 0}
	topicDeploy  = []float32{0, 0, 1}
)

func clusterObservation(id, actorID, topic string, vec []float32, at time.Time) *domain.Observation {
	return &domain.Observation{
		ID:               id,
		WorkspaceID:      "ws-1",
		OccurredAt:       at,
		ActorType:        domain.ActorTypeUser,
		ActorID:          actorID,
		ActorName:        actorID,
		ObservationType:  domain.ObservationTypeChange,
		Title:            "work on " + topic,
		Content:          "details about " + topic,
		Topics:           []string{topic},
		Importance:       0.5,
		ContentEmbedding: vec,
		EmbeddingModel:   "text-embedding-3-small",
	}
}

func TestClusterByContent_ThreeTopicsThreeClusters(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	batch := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now.Add(-3*time.Hour)),
		clusterObservation("o-2", "sam", "billing", topicBilling, now.Add(-2*time.Hour)),
		clusterObservation("o-3", "priya", "auth", []float32{0.95, 0.05, 0}, now.Add(-90*time.Minute)),
		clusterObservation("o-4", "priya", "deploy", topicDeploy, now.Add(-time.Hour)),
		clusterObservation("o-5", "sam", "billing", []float32{0.1, 0.9, 0}, now.Add(-30*time.Minute)),
		clusterObservation("o-6", "dana", "deploy", []float32{0, 0.1, 0.95}, now.Add(-10*time.Minute)),
	}

	clusters := clusterByContent(batch, 0.80)
	require.Len(t, clusters, 3)
	for _, c := range clusters {
		assert.Len(t, c, 2)
	}
}

func TestClusterByContent_SkipsUnembeddedObservations(t *testing.T) {
	now := time.Now()
	batch := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now),
		clusterObservation("o-2", "sam", "auth", nil, now),
	}

	clusters := clusterByContent(batch, 0.80)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0], 1)
}

func TestConsolidateWorkspace_LeaseContention(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	f.leases.On("Acquire", mock.Anything, "consolidation", "ws-1", "worker-1", mock.Anything).Return(false, nil)

	_, err := f.service.ConsolidateWorkspace(ctx, "ws-1")
	assert.ErrorIs(t, err, domain.ErrLeaseContention)
	f.observations.AssertNotCalled(t, "ListUnconsolidated", mock.Anything, mock.Anything, mock.Anything)
}

func TestConsolidateWorkspace_EmptyBacklog(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	f.leases.On("Acquire", mock.Anything, "consolidation", "ws-1", "worker-1", mock.Anything).Return(true, nil)
	f.leases.On("Release", mock.Anything, "consolidation", "ws-1", "worker-1").Return(nil)
	f.observations.On("ListUnconsolidated", mock.Anything, "ws-1", mock.Anything).Return([]*domain.Observation{}, nil)

	report, err := f.service.ConsolidateWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Zero(t, report.ObservationsSeen)
	assert.Zero(t, report.SummariesCreated)
	f.leases.AssertExpectations(t)
}

func TestConsolidateWorkspace_SummarizesClustersAndMarks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	batch := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now.Add(-3*time.Hour)),
		clusterObservation("o-2", "priya", "auth", []float32{0.97, 0.03, 0}, now.Add(-2*time.Hour)),
		clusterObservation("o-3", "dana", "deploy", topicDeploy, now.Add(-time.Hour)),
	}

	f.leases.On("Acquire", mock.Anything, "consolidation", "ws-1", "worker-1", mock.Anything).Return(true, nil)
	f.leases.On("Release", mock.Anything, "consolidation", "ws-1", "worker-1").Return(nil)
	f.observations.On("ListUnconsolidated", mock.Anything, "ws-1", mock.Anything).Return(batch, nil)

	f.summaries.On("Insert", mock.Anything, mock.MatchedBy(func(s *domain.Summary) bool {
		return s.SummaryType == domain.SummaryTypeTopic &&
			s.Scope == "auth" &&
			len(s.ObservationIDs) == 2 &&
			s.PeriodStart.Equal(now.Add(-3*time.Hour)) &&
			s.PeriodEnd.Equal(now.Add(-2*time.Hour))
	})).Return(nil).Once()
	f.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.EmbeddingJob) bool {
		return j.SummaryID != "" && j.Status == domain.EmbeddingJobStatusPending
	})).Return(nil).Once()
	f.observations.On("MarkSummarized", mock.Anything, []string{"o-1", "o-2"}, now).Return(nil).Once()

	f.profiles.On("GetByActor", mock.Anything, "ws-1", domain.ActorTypeUser, mock.Anything).Return(nil, domain.ErrProfileNotFound)
	f.profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	f.temporal.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	report, err := f.service.ConsolidateWorkspace(ctx, "ws-1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.ObservationsSeen)
	assert.Equal(t, 1, report.SummariesCreated, "the singleton deploy cluster stays in the backlog")
	assert.Equal(t, 3, report.ProfilesUpdated)
	f.summaries.AssertExpectations(t)
	f.jobs.AssertExpectations(t)
	f.observations.AssertExpectations(t)
}

func TestConsolidateWorkspace_FailedClusterWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	batch := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now.Add(-2*time.Hour)),
		clusterObservation("o-2", "priya", "auth", []float32{0.97, 0.03, 0}, now.Add(-time.Hour)),
	}

	f.leases.On("Acquire", mock.Anything, "consolidation", "ws-1", "worker-1", mock.Anything).Return(true, nil)
	f.leases.On("Release", mock.Anything, "consolidation", "ws-1", "worker-1").Return(nil)
	f.observations.On("ListUnconsolidated", mock.Anything, "ws-1", mock.Anything).Return(batch, nil)

	f.summaries.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.jobs.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.observations.On("MarkSummarized", mock.Anything, []string{"o-1", "o-2"}, now).Return(assert.AnError)

	report, err := f.service.ConsolidateWorkspace(ctx, "ws-1")
	require.Error(t, err)
	assert.Zero(t, report.SummariesCreated)
	assert.Equal(t, 1, f.tx.rolledBack, "the cluster's summary and job must not outlive the failed marking")
	f.profiles.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestUpdateProfiles_CountsClusterCollaborators(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	// sam and priya share the auth cluster; dana works alone on deploys.
	batch := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now.Add(-3*time.Hour)),
		clusterObservation("o-2", "priya", "auth", []float32{0.97, 0.03, 0}, now.Add(-2*time.Hour)),
		clusterObservation("o-3", "dana", "deploy", topicDeploy, now.Add(-time.Hour)),
	}
	clusters := clusterByContent(batch, 0.80)

	f.profiles.On("GetByActor", mock.Anything, "ws-1", domain.ActorTypeUser, mock.Anything).Return(nil, domain.ErrProfileNotFound)
	upserted := map[string]*domain.ActorProfile{}
	f.profiles.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		p := args.Get(1).(*domain.ActorProfile)
		upserted[p.ActorID] = p
	}).Return(nil)

	updated, err := f.service.updateProfiles(ctx, "ws-1", batch, clusters)
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	require.Contains(t, upserted, "sam")
	assert.Equal(t, int64(1), upserted["sam"].FrequentCollaborators["priya"])
	assert.Equal(t, int64(1), upserted["priya"].FrequentCollaborators["sam"])
	assert.Empty(t, upserted["dana"].FrequentCollaborators)
}

func TestFoldIntoProfile_NewActorAccumulates(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	profile := &domain.ActorProfile{
		ID:                    "p-1",
		WorkspaceID:           "ws-1",
		ProfileType:           domain.ActorTypeUser,
		ActorID:               "sam",
		ExpertiseVectors:      map[string]float64{},
		ContributionTypes:     map[string]float64{},
		FrequentCollaborators: map[string]int64{},
	}

	group := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now.Add(-2*time.Hour)),
		clusterObservation("o-2", "sam", "auth", topicAuth, now.Add(-time.Hour)),
	}

	f.service.foldIntoProfile(profile, group, nil)

	assert.InDelta(t, 1.0, profile.ExpertiseVectors["auth"], 1e-9, "importance 0.5 twice")
	assert.InDelta(t, 1.0, profile.ContributionTypes[string(domain.ObservationTypeChange)], 1e-9, "all activity is one type")
	assert.Equal(t, int64(2), profile.ObservationCount)
	assert.Equal(t, now.Add(-time.Hour), profile.LastActiveAt)
	require.Len(t, profile.CentroidEmbedding, 3)
	assert.InDelta(t, 1.0, float64(profile.CentroidEmbedding[0]), 1e-6)
	assert.InDelta(t, 2.0, profile.ActiveHours[10]+profile.ActiveHours[11], 1e-9)
}

func TestFoldIntoProfile_DecayHalvesAfterHalfLife(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	profile := &domain.ActorProfile{
		ID:                    "p-1",
		WorkspaceID:           "ws-1",
		ProfileType:           domain.ActorTypeUser,
		ActorID:               "sam",
		ExpertiseVectors:      map[string]float64{"billing": 2.0},
		ContributionTypes:     map[string]float64{"change": 0.5, "discussion": 0.5},
		FrequentCollaborators: map[string]int64{"priya": 4},
		ObservationCount:      4,
		LastActiveAt:          now.Add(-30 * 24 * time.Hour), // exactly one half-life
	}

	group := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now),
	}

	f.service.foldIntoProfile(profile, group, nil)

	assert.InDelta(t, 1.0, profile.ExpertiseVectors["billing"], 1e-9, "old expertise halves")
	assert.InDelta(t, 0.5, profile.ExpertiseVectors["auth"], 1e-9, "new work lands at full weight")
	// Four observations decay to an effective two (one change, one
	// discussion); one new change makes it two of three.
	assert.InDelta(t, 2.0/3.0, profile.ContributionTypes["change"], 1e-9)
	assert.InDelta(t, 1.0/3.0, profile.ContributionTypes["discussion"], 1e-9)
	assert.Equal(t, int64(2), profile.FrequentCollaborators["priya"], "collaborator counts halve too")
}

func TestFoldIntoProfile_ContributionFractionsSumToOne(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	profile := &domain.ActorProfile{
		ID: "p-1", WorkspaceID: "ws-1", ProfileType: domain.ActorTypeUser, ActorID: "sam",
		ExpertiseVectors:      map[string]float64{},
		ContributionTypes:     map[string]float64{},
		FrequentCollaborators: map[string]int64{},
	}

	change := clusterObservation("o-1", "sam", "auth", topicAuth, now)
	decision := clusterObservation("o-2", "sam", "auth", topicAuth, now)
	decision.ObservationType = domain.ObservationTypeDecision

	f.service.foldIntoProfile(profile, []*domain.Observation{change, change, decision}, nil)

	var sum float64
	for _, v := range profile.ContributionTypes {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 2.0/3.0, profile.ContributionTypes[string(domain.ObservationTypeChange)], 1e-9)
}

func TestFoldIntoProfile_IncrementalMatchesBatch(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	obs := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", []float32{1, 0, 0}, now),
		clusterObservation("o-2", "sam", "auth", []float32{0, 1, 0}, now),
		clusterObservation("o-3", "sam", "auth", []float32{0, 0, 1}, now),
	}

	newProfile := func() *domain.ActorProfile {
		return &domain.ActorProfile{
			ID: "p", WorkspaceID: "ws-1", ProfileType: domain.ActorTypeUser, ActorID: "sam",
			ExpertiseVectors:      map[string]float64{},
			ContributionTypes:     map[string]float64{},
			FrequentCollaborators: map[string]int64{},
		}
	}

	// All at once.
	batch := newProfile()
	f.service.foldIntoProfile(batch, obs, nil)

	// One at a time. Same timestamps means no decay gap between folds.
	incremental := newProfile()
	for _, o := range obs {
		f.service.foldIntoProfile(incremental, []*domain.Observation{o}, nil)
	}

	require.Len(t, incremental.CentroidEmbedding, 3)
	for i := range batch.CentroidEmbedding {
		assert.InDelta(t, float64(batch.CentroidEmbedding[i]), float64(incremental.CentroidEmbedding[i]), 1e-6)
	}
	assert.Equal(t, batch.ObservationCount, incremental.ObservationCount)
	assert.InDelta(t, batch.ExpertiseVectors["auth"], incremental.ExpertiseVectors["auth"], 1e-9)
}

func TestUpdateTemporalStates_WindowAndOrdering(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	recent := clusterObservation("o-1", "sam", "auth", topicAuth, now.Add(-time.Hour))
	older := clusterObservation("o-2", "sam", "billing", topicBilling, now.Add(-2*time.Hour))
	ancient := clusterObservation("o-3", "sam", "deploy", topicDeploy, now.Add(-30*24*time.Hour))

	f.temporal.On("Upsert", mock.Anything, mock.MatchedBy(func(s *domain.TemporalState) bool {
		return s.ActorID == "sam" &&
			s.StateText == "work on auth; work on billing" &&
			s.WindowStart.Equal(older.OccurredAt) &&
			s.WindowEnd.Equal(recent.OccurredAt)
	})).Return(nil).Once()

	err := f.service.updateTemporalStates(ctx, "ws-1", []*domain.Observation{older, ancient, recent})
	require.NoError(t, err)
	f.temporal.AssertExpectations(t)
}

func TestDraftSummary_DeterministicFallback(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	cluster := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now.Add(-2*time.Hour)),
		clusterObservation("o-2", "priya", "auth", topicAuth, now.Add(-time.Hour)),
	}

	draft := f.service.draftSummary(context.Background(), "auth", cluster)
	require.NotNil(t, draft)
	assert.Contains(t, draft.Content, "2 related observations about auth")
	assert.Equal(t, []string{"work on auth", "work on auth"}, draft.KeyPoints)
	assert.Equal(t, []string{"priya", "sam"}, draft.Entities)
}

type MockSummarizer struct {
	mock.Mock
}

func (m *MockSummarizer) Summarize(ctx context.Context, scope string, observations []string) (*SummaryDraft, error) {
	args := m.Called(ctx, scope, observations)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SummaryDraft), args.Error(1)
}

func TestDraftSummary_ModelFailureDegradesToRollup(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f := newConsolidateFixture(t, now)

	summarizer := new(MockSummarizer)
	summarizer.On("Summarize", mock.Anything, "auth", mock.Anything).Return(nil, assert.AnError)
	f.service.summarizer = summarizer

	cluster := []*domain.Observation{
		clusterObservation("o-1", "sam", "auth", topicAuth, now),
	}

	draft := f.service.draftSummary(context.Background(), "auth", cluster)
	require.NotNil(t, draft)
	assert.Contains(t, draft.Content, "related observations")
	summarizer.AssertExpectations(t)
}
