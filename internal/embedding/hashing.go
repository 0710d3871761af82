package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/hyperjump/quickref/pkg/utils"
)

// HashingModel is the model identifier reported by HashingEmbedder.
const HashingModel = "feature-hashing-v1"

// HashingEmbedder is a deterministic bag-of-words embedder using the hashing trick.
// Each lower-cased word and its character trigrams land in a signed bucket; the
// result is L2-normalized so inner product equals cosine similarity. It needs no
// model file, so it backs tests and deployments without ONNX runtime.
type HashingEmbedder struct {
	dimensions int
	cache      *EmbeddingCache
}

// NewHashingEmbedder returns a hashing embedder with the given dimensions.
func NewHashingEmbedder(dimensions, cacheSize int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingEmbedder{dimensions: dimensions, cache: NewEmbeddingCache(cacheSize)}
}

// Embed returns the hashed embedding for text.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	emb := make([]float32, e.dimensions)
	for _, word := range tokenizeWords(text) {
		e.add(emb, "w:"+word, 1)
		for _, g := range trigrams(word) {
			e.add(emb, "g:"+g, 0.5)
		}
	}
	utils.NormalizeL2(emb)
	e.cache.Set(text, emb)
	return emb, nil
}

func (e *HashingEmbedder) add(emb []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	emb[bucket] += weight
}

// EmbedBatch calls Embed for each text.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns HashingModel.
func (e *HashingEmbedder) Model() string {
	return HashingModel
}

// Close is a no-op for HashingEmbedder.
func (e *HashingEmbedder) Close() error {
	return nil
}

func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func trigrams(word string) []string {
	padded := []rune("^" + word + "$")
	if len(padded) < 3 {
		return nil
	}
	out := make([]string, 0, len(padded)-2)
	for i := 0; i+3 <= len(padded); i++ {
		out = append(out, string(padded[i:i+3]))
	}
	return out
}
