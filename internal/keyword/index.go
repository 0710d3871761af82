// Package keyword provides full-text search over issue records for the record viewer.
package keyword

import (
	"context"

	"github.com/hyperjump/quickref/internal/models"
)

// RecordQuery selects records for the viewer. Empty fields do not filter.
type RecordQuery struct {
	// Text is matched against summary, description, comments and action text.
	Text      string
	Assignee  string
	Status    string
	IssueType string
	Priority  string
	// Fuzzy matches each text term within Fuzziness edits (default 1).
	Fuzzy     bool
	Fuzziness int
	Offset    int
	Limit     int
}

// SearchPage is one page of matching record ids in relevance order.
type SearchPage struct {
	IDs   []string
	Total uint64
}

// RecordIndex defines record search operations.
type RecordIndex interface {
	Index(ctx context.Context, rec *models.IssueRecord) error
	IndexBatch(ctx context.Context, recs []*models.IssueRecord) error
	Search(ctx context.Context, q *RecordQuery) (*SearchPage, error)
	// DocCount returns the number of indexed records.
	DocCount() (uint64, error)
	Close() error
}

// TermDictionary provides access to the indexed vocabulary for spell checking.
type TermDictionary interface {
	// GetAllTerms returns all unique terms in the text fields.
	GetAllTerms() ([]string, error)
	// GetTermFrequency returns the number of records containing the term.
	GetTermFrequency(term string) (int, error)
}
