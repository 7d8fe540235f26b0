package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from text-embedding-3-small
	DefaultEmbeddingDimensions = 1536
	// DefaultRequestsPerSecond bounds outbound embedding traffic per process
	DefaultRequestsPerSecond = 10
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has unexpected dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingClient wraps the OpenAI embeddings API with batching,
// dimension checks and client-side rate limiting.
type EmbeddingClient struct {
	api        EmbeddingAPI
	model      string
	dimensions int
	limiter    *rate.Limiter
}

type openAIEmbeddingAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func newOpenAIEmbeddingAdapter(apiKey string, model openai.EmbeddingModel) *openAIEmbeddingAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &openAIEmbeddingAdapter{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings for a batch
// of inputs. Output order matches input order.
func (a *openAIEmbeddingAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	RequestsPerSecond   float64
}

// NewEmbeddingClient creates an embedding client using defaults.
func NewEmbeddingClient(apiKey string) *EmbeddingClient {
	return NewEmbeddingClientWithConfig(EmbeddingConfig{APIKey: apiKey})
}

// NewEmbeddingClientWithConfig creates an embedding client with explicit
// configuration.
func NewEmbeddingClientWithConfig(cfg EmbeddingConfig) *EmbeddingClient {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	return &EmbeddingClient{
		api:        newOpenAIEmbeddingAdapter(cfg.APIKey, model),
		model:      string(model),
		dimensions: dimensions,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

// NewEmbeddingClientFromEnv creates an embedding client using the
// OPENAI_API_KEY environment variable.
func NewEmbeddingClientFromEnv() (*EmbeddingClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewEmbeddingClient(apiKey), nil
}

// Model reports the embedding model identifier recorded alongside vectors.
func (c *EmbeddingClient) Model() string {
	return c.model
}

// GenerateEmbedding generates an embedding for a single text.
func (c *EmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings generates embeddings for a batch of texts in one API
// call. Empty inputs are rejected before the call is made.
func (c *EmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	vectors, err := c.api.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	for _, v := range vectors {
		if len(v) != c.dimensions && c.dimensions > 0 {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(v))
		}
	}
	return vectors, nil
}
