package config

// Embedding providers.
const (
	ProviderONNX    = "onnx"
	ProviderHashing = "hashing"
)

// DefaultSimilarityThreshold is used when finder.similarity_threshold is unset.
const DefaultSimilarityThreshold = 0.55

// DefaultRequiredFields are the export columns a tabular row must populate.
var DefaultRequiredFields = []string{"Issue Type", "Issue key", "Issue id", "Summary"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/quickref/data/records.db"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "/usr/local/var/quickref/data/index"
	}
	if cfg.Storage.StagingDir == "" {
		cfg.Storage.StagingDir = "/usr/local/var/quickref/data/staging"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/quickref/data/keyword"
	}
	if cfg.Embedding.ModelIdentifier == "" {
		cfg.Embedding.ModelIdentifier = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/quickref/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Index.NumTrees == 0 {
		cfg.Index.NumTrees = 50
	}
	if cfg.Index.StagingLimit == 0 {
		cfg.Index.StagingLimit = 256
	}
	if cfg.Index.Seed == 0 {
		cfg.Index.Seed = 42
	}
	if cfg.Finder.SimilarityThreshold == 0 {
		cfg.Finder.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Finder.TopK == 0 {
		cfg.Finder.TopK = 5
	}
	if cfg.Finder.MaxTopK == 0 {
		cfg.Finder.MaxTopK = 50
	}
	if cfg.Finder.Overfetch == 0 {
		cfg.Finder.Overfetch = 3
	}
	if cfg.Training.RequiredFields == nil {
		cfg.Training.RequiredFields = append([]string(nil), DefaultRequiredFields...)
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".csv", ".xlsx"}
	}
}
