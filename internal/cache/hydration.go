// Package cache provides a read-through LRU in front of primary storage
// for retrieval hydration. Misses fall through to Postgres; writes
// invalidate by document lineage so stale chunk text never surfaces
// after a re-sync.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hivemindhq/hivemind/internal/domain"
)

const (
	// DefaultChunkCacheSize bounds the chunk cache. Chunks dominate
	// hydration traffic so they get the largest share.
	DefaultChunkCacheSize = 4096

	// DefaultObservationCacheSize bounds the observation cache
	DefaultObservationCacheSize = 2048

	// DefaultSummaryCacheSize bounds the summary cache
	DefaultSummaryCacheSize = 512
)

// ChunkSource loads chunks from primary storage
type ChunkSource interface {
	GetByID(ctx context.Context, id string) (*domain.Chunk, error)
}

// ObservationSource loads observations from primary storage
type ObservationSource interface {
	GetByID(ctx context.Context, id string) (*domain.Observation, error)
}

// SummarySource loads summaries from primary storage
type SummarySource interface {
	GetByID(ctx context.Context, id string) (*domain.Summary, error)
}

// HydrationCache is a read-through cache over chunk, observation, and
// summary content. Safe for concurrent use.
type HydrationCache struct {
	chunks       *lru.Cache[string, *domain.Chunk]
	observations *lru.Cache[string, *domain.Observation]
	summaries    *lru.Cache[string, *domain.Summary]

	chunkSource       ChunkSource
	observationSource ObservationSource
	summarySource     SummarySource
}

// NewHydrationCache creates a new HydrationCache instance
func NewHydrationCache(chunks ChunkSource, observations ObservationSource, summaries SummarySource) (*HydrationCache, error) {
	chunkCache, err := lru.New[string, *domain.Chunk](DefaultChunkCacheSize)
	if err != nil {
		return nil, err
	}
	observationCache, err := lru.New[string, *domain.Observation](DefaultObservationCacheSize)
	if err != nil {
		return nil, err
	}
	summaryCache, err := lru.New[string, *domain.Summary](DefaultSummaryCacheSize)
	if err != nil {
		return nil, err
	}
	return &HydrationCache{
		chunks:            chunkCache,
		observations:      observationCache,
		summaries:         summaryCache,
		chunkSource:       chunks,
		observationSource: observations,
		summarySource:     summaries,
	}, nil
}

// HydrateChunk returns the chunk from cache, loading it on a miss
func (c *HydrationCache) HydrateChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	if chunk, ok := c.chunks.Get(id); ok {
		return chunk, nil
	}
	chunk, err := c.chunkSource.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.chunks.Add(id, chunk)
	return chunk, nil
}

// HydrateObservation returns the observation from cache, loading it on a miss
func (c *HydrationCache) HydrateObservation(ctx context.Context, id string) (*domain.Observation, error) {
	if obs, ok := c.observations.Get(id); ok {
		return obs, nil
	}
	obs, err := c.observationSource.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.observations.Add(id, obs)
	return obs, nil
}

// HydrateSummary returns the summary from cache, loading it on a miss
func (c *HydrationCache) HydrateSummary(ctx context.Context, id string) (*domain.Summary, error) {
	if summary, ok := c.summaries.Get(id); ok {
		return summary, nil
	}
	summary, err := c.summarySource.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.summaries.Add(id, summary)
	return summary, nil
}

// InvalidateDocument evicts every cached chunk and observation derived
// from the given document. Called after a new version commits so the
// next hydration reads the fresh rows.
func (c *HydrationCache) InvalidateDocument(documentID string) {
	for _, key := range c.chunks.Keys() {
		if chunk, ok := c.chunks.Peek(key); ok && chunk.DocumentID == documentID {
			c.chunks.Remove(key)
		}
	}
	for _, key := range c.observations.Keys() {
		obs, ok := c.observations.Peek(key)
		if !ok {
			continue
		}
		for _, ref := range obs.SourceReferences {
			if ref.DocumentID == documentID {
				c.observations.Remove(key)
				break
			}
		}
	}
}

// Purge drops every cached entry
func (c *HydrationCache) Purge() {
	c.chunks.Purge()
	c.observations.Purge()
	c.summaries.Purge()
}
