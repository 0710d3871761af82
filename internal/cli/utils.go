// Package cli provides output helpers for the QuickRef command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/internal/search"
	"github.com/hyperjump/quickref/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json" (case-insensitive).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (use text or json)", s)
}

// WriteTriageResults writes triage results to w in the given format.
func WriteTriageResults(w io.Writer, results []*models.TriageResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, results)
	}
	for _, res := range results {
		writeTriageText(w, res)
	}
	return nil
}

// WriteIngestSummary writes an ingest summary to w in the given format.
func WriteIngestSummary(w io.Writer, summary *models.IngestSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, summary)
	}
	fmt.Fprintf(w, "Loaded %d (existing %d, skipped duplicates %d, invalid %d)\n",
		summary.Loaded, summary.Existing, summary.SkippedDuplicates, summary.Invalid)
	fmt.Fprintf(w, "Indexed %d, unindexed %d\n", summary.Indexed, summary.Unindexed)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTriageText(w io.Writer, res *models.TriageResult) {
	key := res.InputKey
	if key == "" {
		key = "(no key)"
	}
	fmt.Fprintf(w, "\n%s: %s\n", key, utils.Truncate(res.InputSummary, 80))
	fmt.Fprintf(w, "Found %d reference issues in %dms", len(res.Matches), res.QueryTime)
	if res.Trained {
		fmt.Fprint(w, " (trained)")
	}
	fmt.Fprintln(w)
	if !res.IndexReady {
		fmt.Fprintln(w, "Index is empty; nothing to compare against.")
		return
	}
	for _, m := range res.Matches {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | ID: %s\n", m.Rank, m.Score, m.Record.ID)
		if m.Record.Assignee != "" {
			fmt.Fprintf(w, "Assignee: %s\n", m.Record.Assignee)
		}
		fmt.Fprintf(w, "%s\n", search.Excerpt(m, 200))
	}
	if len(res.Matches) > 0 {
		fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
	}
	if res.PotentialAssignee != nil {
		fmt.Fprintf(w, "Potential assignee: %s\n", *res.PotentialAssignee)
	}
	if len(res.RecommendedActions) > 0 {
		fmt.Fprintln(w, "Recommended actions:")
		for i, a := range res.RecommendedActions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, TruncateWords(a, 40))
		}
	}
}

// PrintTriageResults prints triage results to stdout in text format.
func PrintTriageResults(results []*models.TriageResult) {
	_ = WriteTriageResults(os.Stdout, results, OutputText)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
