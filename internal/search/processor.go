package search

import (
	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/internal/models"
)

// ProcessQuery validates the triage query and fills in finder defaults.
func ProcessQuery(query *models.TriageQuery, cfg *config.FinderConfig) error {
	return query.Validate(cfg.TopK, cfg.MaxTopK, cfg.SimilarityThreshold)
}
