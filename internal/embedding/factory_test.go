package embedding

import (
	"path/filepath"
	"testing"

	"github.com/hyperjump/quickref/internal/config"
)

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(&config.EmbeddingConfig{Provider: config.ProviderHashing, Dimensions: 16}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Model() != HashingModel || e.Dimensions() != 16 {
		t.Errorf("got model=%s dims=%d", e.Model(), e.Dimensions())
	}

	missing := filepath.Join(t.TempDir(), "missing.onnx")
	e, err = NewEmbedder(&config.EmbeddingConfig{Provider: config.ProviderONNX, ModelPath: missing, Dimensions: 16}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Model() != HashingModel {
		t.Errorf("missing model should fall back to hashing, got %s", e.Model())
	}

	if _, err := NewEmbedder(&config.EmbeddingConfig{Provider: "bogus", Dimensions: 16}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
