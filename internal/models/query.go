package models

import "fmt"

// TriageQuery is a request to find reference issues for one submitted issue.
type TriageQuery struct {
	Issue     IssueInput `json:"issue"`
	TopK      int        `json:"top_k,omitempty"`
	Threshold *float64   `json:"threshold,omitempty"`
	// Train persists the submitted issue into the record store and index when
	// training is enabled.
	Train bool `json:"train,omitempty"`
	// ExcludeID drops the record with this id from the matches (self-skip).
	ExcludeID string `json:"exclude_id,omitempty"`
}

// Validate ensures the query carries usable text and applies defaults.
// maxTopK caps TopK; defaultTopK and defaultThreshold fill in zero values.
func (q *TriageQuery) Validate(defaultTopK, maxTopK int, defaultThreshold float64) error {
	if err := q.Issue.Validate(); err != nil {
		return err
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	if q.Threshold == nil {
		t := defaultThreshold
		q.Threshold = &t
	}
	if *q.Threshold < 0 || *q.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0, 1], got %v", ErrValidation, *q.Threshold)
	}
	return nil
}
