package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ProfileRepository handles actor profiles and temporal states. The
// histogram and map fields live in jsonb columns; the centroid is a
// pgvector column so profile-seeded searches stay in SQL.
type ProfileRepository struct {
	db dbtx
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: pool}
}

func NewProfileRepositoryWithTx(tx pgx.Tx) *ProfileRepository {
	return &ProfileRepository{db: tx}
}

func (r *ProfileRepository) GetByActor(ctx context.Context, workspaceID string, profileType domain.ActorType, actorID string) (*domain.ActorProfile, error) {
	var p domain.ActorProfile
	var actorName, embeddingModel *string
	var expertise, contributions, hours, collaborators []byte
	var centroid *pgvector.Vector
	err := r.db.QueryRow(ctx,
		`SELECT id, workspace_id, profile_type, actor_id, actor_name, expertise_vectors, contribution_types, active_hours, frequent_collaborators, centroid_embedding, embedding_model, observation_count, last_active_at, created_at, updated_at
		 FROM workspace_actor_profiles
		 WHERE workspace_id = $1 AND profile_type = $2 AND actor_id = $3`,
		workspaceID, profileType, actorID,
	).Scan(&p.ID, &p.WorkspaceID, &p.ProfileType, &p.ActorID, &actorName, &expertise, &contributions, &hours, &collaborators, &centroid, &embeddingModel, &p.ObservationCount, &p.LastActiveAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	p.ActorName = stringOrEmpty(actorName)
	p.EmbeddingModel = stringOrEmpty(embeddingModel)
	if err := unmarshalProfileMaps(&p, expertise, contributions, hours, collaborators); err != nil {
		return nil, err
	}
	if centroid != nil {
		p.CentroidEmbedding = centroid.Slice()
	}
	return &p, nil
}

// Upsert writes the profile keyed by (workspace_id, profile_type,
// actor_id); repeated consolidation runs update in place.
func (r *ProfileRepository) Upsert(ctx context.Context, p *domain.ActorProfile) error {
	expertise, err := json.Marshal(p.ExpertiseVectors)
	if err != nil {
		return err
	}
	contributions, err := json.Marshal(p.ContributionTypes)
	if err != nil {
		return err
	}
	hours, err := json.Marshal(p.ActiveHours)
	if err != nil {
		return err
	}
	collaborators, err := json.Marshal(p.FrequentCollaborators)
	if err != nil {
		return err
	}
	var centroid *pgvector.Vector
	if len(p.CentroidEmbedding) > 0 {
		v := pgvector.NewVector(p.CentroidEmbedding)
		centroid = &v
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO workspace_actor_profiles
			(id, workspace_id, profile_type, actor_id, actor_name, expertise_vectors, contribution_types, active_hours, frequent_collaborators, centroid_embedding, embedding_model, observation_count, last_active_at, created_at, updated_at)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (workspace_id, profile_type, actor_id) DO UPDATE SET
			actor_name = EXCLUDED.actor_name,
			expertise_vectors = EXCLUDED.expertise_vectors,
			contribution_types = EXCLUDED.contribution_types,
			active_hours = EXCLUDED.active_hours,
			frequent_collaborators = EXCLUDED.frequent_collaborators,
			centroid_embedding = EXCLUDED.centroid_embedding,
			embedding_model = EXCLUDED.embedding_model,
			observation_count = EXCLUDED.observation_count,
			last_active_at = EXCLUDED.last_active_at,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.WorkspaceID, p.ProfileType, p.ActorID, nullableString(p.ActorName),
		expertise, contributions, hours, collaborators, centroid, nullableString(p.EmbeddingModel),
		p.ObservationCount, p.LastActiveAt, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// UpsertTemporalState writes an actor's current-work snapshot, one row
// per (workspace_id, actor_id).
func (r *ProfileRepository) UpsertTemporalState(ctx context.Context, t *domain.TemporalState) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO workspace_temporal_states
			(id, workspace_id, actor_id, state_text, window_start, window_end, updated_at)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (workspace_id, actor_id) DO UPDATE SET
			state_text = EXCLUDED.state_text,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.WorkspaceID, t.ActorID, t.StateText, t.WindowStart, t.WindowEnd, t.UpdatedAt,
	)
	return err
}

func unmarshalProfileMaps(p *domain.ActorProfile, expertise, contributions, hours, collaborators []byte) error {
	p.ExpertiseVectors = map[string]float64{}
	p.ContributionTypes = map[string]float64{}
	p.FrequentCollaborators = map[string]int64{}
	if len(expertise) > 0 {
		if err := json.Unmarshal(expertise, &p.ExpertiseVectors); err != nil {
			return err
		}
	}
	if len(contributions) > 0 {
		if err := json.Unmarshal(contributions, &p.ContributionTypes); err != nil {
			return err
		}
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &p.ActiveHours); err != nil {
			return err
		}
	}
	if len(collaborators) > 0 {
		if err := json.Unmarshal(collaborators, &p.FrequentCollaborators); err != nil {
			return err
		}
	}
	return nil
}
