package models

// Match is one reference issue found for a query.
type Match struct {
	Record   *IssueRecord `json:"record"`
	Score    float64      `json:"score"`
	Distance float64      `json:"distance"`
	Position int          `json:"-"`
	Rank     int          `json:"rank"`
}

// FindResult is the output of the reference finder.
type FindResult struct {
	Matches []*Match `json:"matches"`
	// PotentialAssignee is nil exactly when no match carries an assignee.
	PotentialAssignee *string `json:"potential_assignee"`
	// IndexReady is false when the index had nothing to search.
	IndexReady bool `json:"index_ready"`
}

// Records returns the matched records in rank order.
func (r *FindResult) Records() []*IssueRecord {
	out := make([]*IssueRecord, 0, len(r.Matches))
	for _, m := range r.Matches {
		out = append(out, m.Record)
	}
	return out
}

// TriageResult is the response for one triaged issue.
type TriageResult struct {
	InputKey           string   `json:"input_key"`
	InputSummary       string   `json:"input_summary"`
	Matches            []*Match `json:"matches"`
	PotentialAssignee  *string  `json:"potential_assignee"`
	RecommendedActions []string `json:"recommended_actions"`
	IndexReady         bool     `json:"index_ready"`
	Trained            bool     `json:"trained"`
	QueryTime          int64    `json:"query_time_ms"`
}

// IngestSummary reports what happened to a batch of submitted issues.
type IngestSummary struct {
	Loaded            int      `json:"loaded"`
	SkippedDuplicates int      `json:"skipped_duplicates"`
	Invalid           int      `json:"invalid"`
	Existing          int64    `json:"existing"`
	Indexed           int      `json:"indexed"`
	Unindexed         int      `json:"unindexed"`
	RecordIDs         []string `json:"record_ids,omitempty"`
}

// AssigneeCount is how many stored issues name an assignee.
type AssigneeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// UnassignedName labels records without an assignee in assignee counts.
const UnassignedName = "<unassigned>"
