package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// APIConfig holds configuration for the OpenAI-compatible API provider.
type APIConfig struct {
	// BaseURL is the base URL for the embeddings API.
	BaseURL string

	// Model is the embedding model to use.
	Model string

	// APIKey authenticates requests. Optional for local servers.
	APIKey string
}

// Validate validates the configuration.
func (c APIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// APIProvider generates embeddings through an OpenAI-compatible endpoint
// using langchaingo's embedder. Works with OpenAI, Ollama, and TEI when
// they expose the /embeddings route.
type APIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	model     string
	dimension int
}

// NewAPIProvider creates a new API embedding provider.
func NewAPIProvider(cfg APIConfig) (*APIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &APIProvider{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: detectDimensionFromModel(cfg.Model),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *APIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *APIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *APIProvider) Dimension() int {
	return p.dimension
}

// Close releases resources. The underlying client is stateless HTTP.
func (p *APIProvider) Close() error {
	return nil
}

// Ensure APIProvider implements Provider.
var _ Provider = (*APIProvider)(nil)
