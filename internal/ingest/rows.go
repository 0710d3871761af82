package ingest

import (
	"strings"

	"github.com/hyperjump/quickref/internal/models"
)

// Export column names.
const (
	ColIssueKey          = "Issue key"
	ColIssueID           = "Issue id"
	ColIssueType         = "Issue Type"
	ColSummary           = "Summary"
	ColDescription       = "Description"
	ColComments          = "Custom field (Comments)"
	ColAssignee          = "Assignee"
	ColReporter          = "Reporter"
	ColPriority          = "Priority"
	ColStatus            = "Status"
	ColRecommendedAction = "Recommended Action"
)

var inputColumns = []string{
	ColIssueKey, ColIssueID, ColIssueType, ColSummary, ColDescription, ColComments,
	ColAssignee, ColReporter, ColPriority, ColStatus, ColRecommendedAction,
}

var placeholders = map[string]struct{}{
	"": {}, "None": {}, "none": {}, "NULL": {}, "null": {}, "########": {}, "N/A": {}, "NA": {}, "-": {},
}

// IsPlaceholder reports whether a trimmed cell stands for a missing value.
func IsPlaceholder(v string) bool {
	_, ok := placeholders[strings.TrimSpace(v)]
	return ok
}

// Batch is the outcome of turning table rows into issue inputs.
type Batch struct {
	Inputs []models.IssueInput
	// Skipped counts rows whose required fields were missing or placeholders.
	Skipped int
	// MissingColumns lists required columns absent from the header.
	MissingColumns []string
}

// Parse maps table rows onto issue inputs. A row is kept only when every
// required column is present and holds a real value.
func Parse(t *Table, required []string) *Batch {
	col := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		if _, dup := col[h]; !dup {
			col[h] = i
		}
	}
	b := &Batch{Inputs: make([]models.IssueInput, 0, len(t.Rows))}
	for _, r := range required {
		if _, ok := col[r]; !ok {
			b.MissingColumns = append(b.MissingColumns, r)
		}
	}

	for _, row := range t.Rows {
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			if IsPlaceholder(row[i]) {
				return ""
			}
			return row[i]
		}
		if blankRow(row) {
			continue
		}
		populated := true
		for _, r := range required {
			if get(r) == "" {
				populated = false
				break
			}
		}
		if !populated {
			b.Skipped++
			continue
		}
		b.Inputs = append(b.Inputs, models.IssueInput{
			Key:               get(ColIssueKey),
			IssueID:           get(ColIssueID),
			IssueType:         get(ColIssueType),
			Summary:           get(ColSummary),
			Description:       get(ColDescription),
			Comments:          get(ColComments),
			Assignee:          get(ColAssignee),
			Reporter:          get(ColReporter),
			Priority:          get(ColPriority),
			Status:            get(ColStatus),
			RecommendedAction: get(ColRecommendedAction),
		})
	}
	return b
}

func blankRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

// Records converts inputs to records. Inputs that fail validation are counted
// and left out.
func Records(inputs []models.IssueInput) ([]*models.IssueRecord, int) {
	recs := make([]*models.IssueRecord, 0, len(inputs))
	invalid := 0
	for i := range inputs {
		rec, err := inputs[i].ToRecord()
		if err != nil {
			invalid++
			continue
		}
		recs = append(recs, rec)
	}
	return recs, invalid
}

// LoadFile reads and parses the export at path.
func LoadFile(path string, required []string) (*Batch, error) {
	t, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(t, required), nil
}
