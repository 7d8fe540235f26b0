//go:build integration

package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hivemindhq/hivemind/internal/domain"
	"github.com/hivemindhq/hivemind/internal/normalize"
	"github.com/hivemindhq/hivemind/internal/service"
	"github.com/hivemindhq/hivemind/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWorkspace(ctx context.Context, t *testing.T, pool *pgxpool.Pool) *domain.Workspace {
	t.Helper()
	ws := &domain.Workspace{
		ID:        uuid.NewString(),
		Name:      "Test Workspace",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, NewWorkspaceRepository(pool).Create(ctx, ws))
	return ws
}

func draftFor(workspaceID, sourceID, body, hash string) *normalize.Draft {
	return &normalize.Draft{
		Document: normalize.DocumentDraft{
			WorkspaceID: workspaceID,
			SourceType:  domain.SourceTypeGitHub,
			SourceID:    sourceID,
			Title:       "Cap the connection pool",
			Body:        body,
			ContentHash: hash,
			OccurredAt:  time.Now().UTC(),
		},
		Chunks: []normalize.ChunkDraft{
			{ChunkIndex: 0, Text: body, TokenCount: 8},
		},
	}
}

func TestDocumentRepository_ConcurrentPersistsKeepVersionsMonotonic(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	ws := setupWorkspace(ctx, t, pool)
	persist := service.NewPersistService(NewTxRunner(pool), nil, "text-embedding-3-small")

	// Three writers race on the same lineage with distinct content. The
	// unique index on (workspace_id, source_type, source_id, version)
	// forces losers to re-read and retry, so every writer lands on its
	// own version.
	const writers = 3
	sourceID := "acme/api#pr-42"
	var wg sync.WaitGroup
	results := make([]*service.PersistResult, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("revision %d of the pool cap", i)
			results[i], errs[i] = persist.Persist(ctx, draftFor(ws.ID, sourceID, body, fmt.Sprintf("hash-%d", i)))
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		require.True(t, results[i].DidChange)
		assert.False(t, seen[results[i].Version], "two writers committed version %d", results[i].Version)
		seen[results[i].Version] = true
	}

	docRepo := NewDocumentRepository(pool)
	versions, err := docRepo.ListVersions(ctx, ws.ID, domain.SourceTypeGitHub, sourceID)
	require.NoError(t, err)
	require.Len(t, versions, writers)
	for i, d := range versions {
		assert.Equal(t, int64(writers-i), d.Version, "lineage is dense and newest first")
	}

	// Only the newest version's chunks stay live.
	chunkRepo := NewChunkRepository(pool)
	chunks, err := chunkRepo.ListByDocument(ctx, versions[0].ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].SupersededAt)
}

func TestDocumentRepository_InsertVersion_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	ws := setupWorkspace(ctx, t, pool)
	repo := NewDocumentRepository(pool)

	base := &domain.Document{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		SourceType:  domain.SourceTypeGitHub,
		SourceID:    "acme/api#pr-7",
		Title:       "First",
		ContentHash: "hash-a",
		Version:     1,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.InsertVersion(ctx, base))

	dup := *base
	dup.ID = uuid.NewString()
	dup.ContentHash = "hash-b"
	err := repo.InsertVersion(ctx, &dup)
	assert.ErrorIs(t, err, domain.ErrPersistenceConflict)
}

func TestDocumentRepository_FindByReference_CompositeSourceIDs(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	ws := setupWorkspace(ctx, t, pool)
	repo := NewDocumentRepository(pool)

	insert := func(sourceType domain.SourceType, sourceID string, version int64) string {
		d := &domain.Document{
			ID:          uuid.NewString(),
			WorkspaceID: ws.ID,
			SourceType:  sourceType,
			SourceID:    sourceID,
			Title:       sourceID,
			ContentHash: uuid.NewString(),
			Version:     version,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		require.NoError(t, repo.InsertVersion(ctx, d))
		return d.ID
	}

	insert(domain.SourceTypeGitHub, "acme/api#issue-412", 1)
	latestIssue := insert(domain.SourceTypeGitHub, "acme/api#issue-412", 2)
	ticket := insert(domain.SourceTypeLinear, "ENG-88", 1)
	insert(domain.SourceTypeGitHub, "acme/api#pr-4120", 1) // near miss

	// A bare "#412" in prose must land on the composite GitHub ID.
	doc, err := repo.FindByReference(ctx, ws.ID, "#412")
	require.NoError(t, err)
	assert.Equal(t, latestIssue, doc.ID, "newest version of the referenced issue")

	doc, err = repo.FindByReference(ctx, ws.ID, "ENG-88")
	require.NoError(t, err)
	assert.Equal(t, ticket, doc.ID)

	_, err = repo.FindByReference(ctx, ws.ID, "#999")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
