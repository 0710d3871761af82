// Package embedding turns normalized issue text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmbedding is returned when a provider cannot vectorize text.
var ErrEmbedding = errors.New("embedding error")

// MaxTextBytes is the longest input any provider accepts.
const MaxTextBytes = 64 * 1024

// Embedder produces vector embeddings for text. Implementations are deterministic:
// the same text always yields the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model identifies the model producing the vectors.
	Model() string
	Close() error
}

// ValidateText rejects input no provider can embed.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", ErrEmbedding)
	}
	if len(text) > MaxTextBytes {
		return fmt.Errorf("%w: text is %d bytes, limit is %d", ErrEmbedding, len(text), MaxTextBytes)
	}
	return nil
}

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
