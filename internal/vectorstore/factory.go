package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/othentic-ai/ideationd/internal/config"
)

// NewStore creates a Store based on the configuration.
//
// The provider field selects the implementation:
//   - "chromem" (default): embedded ChromemStore, no external services
//   - "qdrant": external Qdrant server via langchaingo
func NewStore(cfg config.StoreConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Collection: cfg.Collection,
		}, embedder, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			URL:        cfg.URL,
			Collection: cfg.Collection,
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
