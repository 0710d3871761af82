package search

import "github.com/hyperjump/quickref/internal/models"

// PotentialAssignee returns the most frequent non-empty assignee among matches, which
// must be sorted by descending score. A tie goes to the candidate whose best match
// ranks highest. It returns nil when no match carries an assignee.
func PotentialAssignee(matches []*models.Match) *string {
	counts := make(map[string]int)
	firstRank := make(map[string]int)
	for i, m := range matches {
		if m.Record == nil || m.Record.Assignee == "" {
			continue
		}
		name := m.Record.Assignee
		if _, ok := firstRank[name]; !ok {
			firstRank[name] = i
		}
		counts[name]++
	}

	var best string
	for name, n := range counts {
		switch {
		case best == "":
			best = name
		case n > counts[best]:
			best = name
		case n == counts[best] && firstRank[name] < firstRank[best]:
			best = name
		}
	}
	if best == "" {
		return nil
	}
	return &best
}
