// Package ingest reads issue exports (CSV and XLSX) into issue inputs, and writes
// inputs and records back out as CSV.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/quickref/internal/models"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Table is a header row plus data rows, cells trimmed.
type Table struct {
	Header []string
	Rows   [][]string
}

// Supported reports whether ext (with leading dot) names a readable format.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// ReadFile reads the table in the file at path.
func ReadFile(path string) (*Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ReadBytes(content, filepath.Ext(path))
}

// ReadBytes parses content based on the given extension, which includes the
// leading dot (e.g. ".csv").
func ReadBytes(content []byte, ext string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(ext) {
	case ".csv":
		rows, err = readCSV(content)
	case ".xlsx":
		rows, err = readXLSX(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return newTable(rows)
}

func newTable(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file is empty or missing headers", models.ErrValidation)
	}
	header := trimAll(rows[0])
	blank := true
	for _, h := range header {
		if h != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil, fmt.Errorf("%w: header row is empty", models.ErrValidation)
	}
	t := &Table{Header: header, Rows: make([][]string, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		t.Rows = append(t.Rows, trimAll(row))
	}
	return t, nil
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
