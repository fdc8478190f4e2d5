package vectorstore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/othentic-ai/ideationd/internal/sanitize"
)

var qdrantTracer = otel.Tracer("ideationd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant backend.
type QdrantConfig struct {
	// URL is the Qdrant server URL (e.g., http://localhost:6333).
	URL string

	// Collection is the Qdrant collection name.
	Collection string
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: URL required", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	return sanitize.ValidateCollectionName(c.Collection)
}

// QdrantStore implements the Store interface against an external Qdrant
// server using langchaingo's vector store wrapper.
type QdrantStore struct {
	store  qdrant.Store
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore creates a new QdrantStore with the given configuration.
// The collection must already exist on the server.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	qdrantURL, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing Qdrant URL: %w", err)
	}

	store, err := qdrant.New(
		qdrant.WithURL(*qdrantURL),
		qdrant.WithCollectionName(config.Collection),
		qdrant.WithEmbedder(embedder),
	)
	if err != nil {
		return nil, fmt.Errorf("creating Qdrant store: %w", err)
	}

	logger.Info("qdrant store initialized",
		zap.String("url", config.URL),
		zap.String("collection", config.Collection),
	)

	return &QdrantStore{
		store:  store,
		config: config,
		logger: logger,
	}, nil
}

// AddDocuments adds documents to the vector store.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.AddDocuments")
	defer span.End()

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	schemaDocs := make([]schema.Document, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		schemaDocs[i] = schema.Document{
			PageContent: doc.Content,
			Metadata:    doc.Metadata,
		}

		// Qdrant assigns its own point IDs; carry ours in metadata.
		if schemaDocs[i].Metadata == nil {
			schemaDocs[i].Metadata = make(map[string]interface{})
		}
		schemaDocs[i].Metadata["id"] = doc.ID
		ids[i] = doc.ID
	}

	if _, err := s.store.AddDocuments(ctx, schemaDocs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents to store: %w", err)
	}

	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("added documents to qdrant",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)

	return ids, nil
}

// Search performs similarity search.
func (s *QdrantStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return s.SearchWithFilters(ctx, query, k, nil)
}

// SearchWithFilters performs similarity search with metadata filters.
func (s *QdrantStore) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.SearchWithFilters")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	var opts []vectorstores.Option
	if len(filters) > 0 {
		opts = append(opts, vectorstores.WithFilters(qdrantFilter(filters)))
	}

	docs, err := s.store.SimilaritySearch(ctx, query, k, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	results := make([]SearchResult, len(docs))
	for i, doc := range docs {
		result := SearchResult{
			Content:  doc.PageContent,
			Metadata: doc.Metadata,
			Score:    doc.Score,
		}
		if id, ok := doc.Metadata["id"].(string); ok {
			result.ID = id
		}
		results[i] = result
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")

	return results, nil
}

// qdrantFilter builds a Qdrant filter clause matching all conditions.
// Payload keys are nested under "metadata" by langchaingo's qdrant store.
func qdrantFilter(filters map[string]interface{}) map[string]interface{} {
	must := make([]map[string]interface{}, 0, len(filters))
	for key, value := range filters {
		must = append(must, map[string]interface{}{
			"key":   "metadata." + key,
			"match": map[string]interface{}{"value": value},
		})
	}
	return map[string]interface{}{"must": must}
}

// Count is not supported by the langchaingo Qdrant wrapper.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	return 0, fmt.Errorf("count not supported by qdrant backend")
}

// Close releases resources. The underlying client is HTTP and stateless.
func (s *QdrantStore) Close() error {
	return nil
}

// Ensure QdrantStore implements Store interface.
var _ Store = (*QdrantStore)(nil)
