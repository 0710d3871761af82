// Package recommend turns matched reference issues into recommended actions.
package recommend

import (
	"strings"

	"github.com/hyperjump/quickref/internal/models"
)

// Recommender returns the actions to suggest for a set of ranked matches.
type Recommender interface {
	Recommend(matches []*models.Match) []string
}

// FirstOccurrence recommends the distinct non-empty actions of the matches in rank
// order; when two matches share an action the higher-ranked one places it.
type FirstOccurrence struct{}

// NewFirstOccurrence returns the default recommender.
func NewFirstOccurrence() *FirstOccurrence {
	return &FirstOccurrence{}
}

// Recommend implements Recommender. The result is never nil.
func (FirstOccurrence) Recommend(matches []*models.Match) []string {
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if m == nil || m.Record == nil {
			continue
		}
		action := strings.TrimSpace(m.Record.RecommendedAction)
		if action == "" {
			continue
		}
		if _, dup := seen[action]; dup {
			continue
		}
		seen[action] = struct{}{}
		out = append(out, action)
	}
	return out
}

var _ Recommender = FirstOccurrence{}
