// Package config provides configuration loading and structs for the QuickRef server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Finder    FinderConfig    `yaml:"finder"`
	Training  TrainingConfig  `yaml:"training"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds inbox directories watched for tabular drops.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the record database and derived indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	IndexDir         string `yaml:"index_dir"`
	StagingDir       string `yaml:"staging_dir"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// ModelIdentifier names the model; stored next to cached embeddings so a
	// model swap is detected.
	ModelIdentifier string `yaml:"model_identifier"`
	// Provider is "onnx" or "hashing".
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexConfig holds ANN forest parameters.
type IndexConfig struct {
	NumTrees     int   `yaml:"num_trees"`
	LeafSize     int   `yaml:"leaf_size"`
	SearchK      int   `yaml:"search_k"`
	StagingLimit int   `yaml:"staging_limit"`
	Seed         int64 `yaml:"seed"`
}

// FinderConfig holds reference finder defaults.
type FinderConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
	MaxTopK             int     `yaml:"max_top_k"`
	Overfetch           int     `yaml:"overfetch"`
}

// TrainingConfig gates whether submissions are persisted and indexed.
type TrainingConfig struct {
	Enabled        bool     `yaml:"enabled"`
	SeedPath       string   `yaml:"seed_path"`
	RequiredFields []string `yaml:"required_fields"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.StagingDir = expandPath(cfg.Storage.StagingDir, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Training.SeedPath != "" {
		cfg.Training.SeedPath = expandPath(cfg.Training.SeedPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Validate rejects settings the index cannot work with.
func Validate(cfg *Config) error {
	if cfg.Finder.SimilarityThreshold < 0 || cfg.Finder.SimilarityThreshold > 1 {
		return fmt.Errorf("finder.similarity_threshold must be within [0, 1], got %v", cfg.Finder.SimilarityThreshold)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", cfg.Embedding.Dimensions)
	}
	switch cfg.Embedding.Provider {
	case ProviderONNX, ProviderHashing:
	default:
		return fmt.Errorf("unknown embedding.provider %q (supported: %s, %s)", cfg.Embedding.Provider, ProviderONNX, ProviderHashing)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
