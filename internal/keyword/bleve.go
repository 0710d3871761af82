package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/quickref/internal/models"
)

// Indexed field names.
const (
	fieldID          = "id"
	fieldSummary     = "summary"
	fieldDescription = "description"
	fieldComments    = "comments"
	fieldAction      = "recommended_action"
	fieldAssignee    = "assignee"
	fieldReporter    = "reporter"
	fieldStatus      = "status"
	fieldPriority    = "priority"
	fieldIssueType   = "issue_type"
)

var textFields = []string{fieldSummary, fieldDescription, fieldComments, fieldAction}

// BleveIndex implements RecordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the
// index in memory. The index is derived from the record store, so after a mapping
// change remove the directory and it is rebuilt at startup.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := recordMapping()

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func recordMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize without stemming, so "login"
	// does not also match "logging".
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	for _, f := range textFields {
		docMapping.AddFieldMappingsAt(f, text)
	}
	exact := bleve.NewKeywordFieldMapping()
	for _, f := range []string{fieldID, fieldAssignee, fieldReporter, fieldStatus, fieldPriority, fieldIssueType} {
		docMapping.AddFieldMappingsAt(f, exact)
	}

	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	return im
}

func recordDocument(rec *models.IssueRecord) map[string]interface{} {
	assignee := rec.Assignee
	if assignee == "" {
		assignee = models.UnassignedName
	}
	return map[string]interface{}{
		fieldID:          rec.ID,
		fieldSummary:     rec.Field(models.FieldSummary),
		fieldDescription: rec.Field(models.FieldDescription),
		fieldComments:    rec.Field(models.FieldComments),
		fieldAction:      rec.RecommendedAction,
		fieldAssignee:    assignee,
		fieldReporter:    rec.Reporter,
		fieldStatus:      rec.Status,
		fieldPriority:    rec.Priority,
		fieldIssueType:   rec.IssueType,
	}
}

// Index indexes one record under its id.
func (b *BleveIndex) Index(ctx context.Context, rec *models.IssueRecord) error {
	return b.index.Index(rec.ID, recordDocument(rec))
}

// IndexBatch indexes records in a single Bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, recs []*models.IssueRecord) error {
	batch := b.index.NewBatch()
	for _, rec := range recs {
		if err := batch.Index(rec.ID, recordDocument(rec)); err != nil {
			return fmt.Errorf("failed to batch record %s: %w", rec.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search returns record ids matching q. With text, hits are ordered by relevance;
// without, by id.
func (b *BleveIndex) Search(ctx context.Context, q *RecordQuery) (*SearchPage, error) {
	var conjuncts []blevequery.Query
	text := strings.TrimSpace(q.Text)
	if text != "" {
		if q.Fuzzy {
			fuzziness := q.Fuzziness
			if fuzziness <= 0 {
				fuzziness = 1
			}
			conjuncts = append(conjuncts, buildFuzzyQuery(text, fuzziness))
		} else {
			conjuncts = append(conjuncts, buildTextQuery(text))
		}
	}
	for field, value := range map[string]string{
		fieldAssignee:  q.Assignee,
		fieldStatus:    q.Status,
		fieldIssueType: q.IssueType,
		fieldPriority:  q.Priority,
	} {
		if value == "" {
			continue
		}
		tq := bleve.NewTermQuery(value)
		tq.SetField(field)
		conjuncts = append(conjuncts, tq)
	}

	var query blevequery.Query
	switch len(conjuncts) {
	case 0:
		query = bleve.NewMatchAllQuery()
	case 1:
		query = conjuncts[0]
	default:
		query = bleve.NewConjunctionQuery(conjuncts...)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	req := bleve.NewSearchRequestOptions(query, limit, q.Offset, false)
	if text != "" {
		req.SortBy([]string{"-_score", "_id"})
	} else {
		req.SortBy([]string{"_id"})
	}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	page := &SearchPage{IDs: make([]string, len(results.Hits)), Total: results.Total}
	for i, hit := range results.Hits {
		page.IDs[i] = hit.ID
	}
	return page, nil
}

// buildTextQuery matches text against every text field.
func buildTextQuery(text string) blevequery.Query {
	queries := make([]blevequery.Query, 0, len(textFields))
	for _, f := range textFields {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(f)
		queries = append(queries, mq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in each text field.
func buildFuzzyQuery(text string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(text)
	if len(terms) == 0 {
		return buildTextQuery(text)
	}
	queries := make([]blevequery.Query, 0, len(terms)*len(textFields))
	for _, term := range terms {
		for _, f := range textFields {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			fq.SetField(f)
			queries = append(queries, fq)
		}
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of indexed records.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// GetTermFrequency returns the number of records containing term in a text field.
func (b *BleveIndex) GetTermFrequency(term string) (int, error) {
	req := bleve.NewSearchRequestOptions(buildTextQuery(term), 0, 0, false)
	results, err := b.index.Search(req)
	if err != nil {
		return 0, fmt.Errorf("failed to search for term frequency: %w", err)
	}
	return int(results.Total), nil
}

// GetAllTerms returns all unique terms from the text field dictionaries.
func (b *BleveIndex) GetAllTerms() ([]string, error) {
	terms := make([]string, 0)
	seen := make(map[string]struct{})
	for _, field := range textFields {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s dictionary: %w", field, err)
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if _, ok := seen[entry.Term]; !ok {
				terms = append(terms, entry.Term)
				seen[entry.Term] = struct{}{}
			}
		}
		_ = dict.Close()
	}
	return terms, nil
}
