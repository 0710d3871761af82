package search

import (
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/pkg/utils"
)

// Excerpt returns the matched record's summary cut to maxLen characters for listings.
func Excerpt(m *models.Match, maxLen int) string {
	if m == nil || m.Record == nil {
		return ""
	}
	return utils.Truncate(m.Record.Summary(), maxLen)
}
