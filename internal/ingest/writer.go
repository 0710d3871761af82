package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/quickref/internal/models"
)

// stagingTimeFormat names staged batches input_20060102T150405Z.csv.
const stagingTimeFormat = "20060102T150405Z"

var recordColumns = append(append([]string(nil), inputColumns...), "Created")

func inputRows(inputs []models.IssueInput) [][]string {
	rows := make([][]string, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, []string{
			in.Key, in.IssueID, in.IssueType, in.Summary, in.Description, in.Comments,
			in.Assignee, in.Reporter, in.Priority, in.Status, in.RecommendedAction,
		})
	}
	return rows
}

// WriteInputsCSV writes inputs with the export header.
func WriteInputsCSV(w io.Writer, inputs []models.IssueInput) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(inputColumns); err != nil {
		return err
	}
	if err := cw.WriteAll(inputRows(inputs)); err != nil {
		return fmt.Errorf("write CSV: %w", err)
	}
	return nil
}

// WriteRecordsCSV writes stored records with the export header plus a Created column.
// The output reads back through ReadBytes and Parse.
func WriteRecordsCSV(w io.Writer, recs []*models.IssueRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordColumns); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.ID, "", r.IssueType, r.Field(models.FieldSummary), r.Field(models.FieldDescription),
			r.Field(models.FieldComments), r.Assignee, r.Reporter, r.Priority, r.Status,
			r.RecommendedAction, r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write CSV: %w", err)
	}
	return nil
}

// StageBatch writes inputs to dir as input_<UTC timestamp>.csv and returns the path.
// A second batch within the same second gets a numeric suffix.
func StageBatch(dir string, inputs []models.IssueInput, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	base := "input_" + now.UTC().Format(stagingTimeFormat)
	var (
		f    *os.File
		path string
		err  error
	)
	for n := 0; n < 100; n++ {
		name := base + ".csv"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.csv", base, n)
		}
		path = filepath.Join(dir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil || !os.IsExist(err) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if err := WriteInputsCSV(f, inputs); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return path, nil
}
