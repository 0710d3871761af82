package embedding

import (
	"fmt"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/pkg/utils"
	"go.uber.org/zap"
)

// NewEmbedder creates the configured embedding provider. When the ONNX provider
// cannot start (no CGO, missing model file), it falls back to HashingEmbedder and
// logs a warning; records embedded by the fallback carry a different model
// identifier, so the indexer re-embeds them once ONNX becomes available.
func NewEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	switch cfg.Provider {
	case config.ProviderHashing:
		return NewHashingEmbedder(cfg.Dimensions, cfg.CacheSize), nil
	case config.ProviderONNX, "":
		e, err := NewONNXEmbedder(cfg.ModelIdentifier, cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
		if err != nil {
			logger.Warn("onnx embedder unavailable, using hashing embedder",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			return NewHashingEmbedder(cfg.Dimensions, cfg.CacheSize), nil
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
