// Package vectorstore provides vector storage for evaluation records.
//
// Two backends are supported: chromem-go for embedded zero-dependency
// storage (the default) and Qdrant via langchaingo for deployments
// with an external vector database.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)

// Embedder generates vector embeddings from text.
//
// The method set matches langchaingo's embeddings.Embedder so a single
// implementation serves both backends.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface for vector storage operations.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant server via langchaingo
type Store interface {
	// AddDocuments embeds and stores documents, returning their IDs.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Search performs similarity search and returns up to k results
	// ordered by similarity score (highest first).
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)

	// SearchWithFilters performs similarity search restricted to documents
	// whose metadata matches ALL filter conditions.
	SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error)

	// Count returns the number of documents stored.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}
