package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/othentic-ai/ideationd/internal/config"
)

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "word2vec"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewAPIProvider_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  APIConfig
	}{
		{"missing base url", APIConfig{Model: "text-embedding-3-small"}},
		{"missing model", APIConfig{BaseURL: "http://localhost:8080/v1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAPIProvider(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-large-en-v1.5", 1024},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"unknown-model", 384},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimensionFromModel(tt.model))
		})
	}
}
