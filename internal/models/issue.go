// Package models defines core data structures for issue records, triage queries, and results.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/quickref/pkg/utils"
)

// ErrValidation is returned when an issue record or input is malformed.
var ErrValidation = errors.New("validation error")

// Standard text field names, in the order they are concatenated for embedding.
const (
	FieldSummary     = "summary"
	FieldDescription = "description"
	FieldComments    = "comments"
)

// TextField is one named piece of normalized issue text.
type TextField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// IssueRecord is a normalized historical issue. Embedding is derived from TextFields.
type IssueRecord struct {
	ID                string      `json:"id" db:"id"`
	IssueType         string      `json:"issue_type,omitempty" db:"issue_type"`
	TextFields        []TextField `json:"text_fields" db:"text_fields"`
	Assignee          string      `json:"assignee,omitempty" db:"assignee"`
	Reporter          string      `json:"reporter,omitempty" db:"reporter"`
	Priority          string      `json:"priority,omitempty" db:"priority"`
	Status            string      `json:"status,omitempty" db:"status"`
	RecommendedAction string      `json:"recommended_action,omitempty" db:"recommended_action"`
	Embedding         []float32   `json:"-" db:"embedding"`
	EmbeddingModel    string      `json:"-" db:"embedding_model"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// Field returns the value of the named text field, or "" when absent.
func (r *IssueRecord) Field(name string) string {
	for _, f := range r.TextFields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Summary returns the summary text field.
func (r *IssueRecord) Summary() string {
	return r.Field(FieldSummary)
}

// EmbeddingText returns the text the embedding is derived from.
func (r *IssueRecord) EmbeddingText() string {
	return EmbeddingText(r.TextFields)
}

// EmbeddingText joins normalized non-empty field values in order.
func EmbeddingText(fields []TextField) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if v := utils.NormalizeText(f.Value); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

// NormalizeFields trims names and normalizes values, dropping empty fields.
func NormalizeFields(fields []TextField) []TextField {
	out := make([]TextField, 0, len(fields))
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		value := utils.NormalizeText(f.Value)
		if name == "" || value == "" {
			continue
		}
		out = append(out, TextField{Name: name, Value: value})
	}
	return out
}

// Normalize trims every scalar field and normalizes the text fields in place.
func (r *IssueRecord) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.IssueType = strings.TrimSpace(r.IssueType)
	r.Assignee = strings.TrimSpace(r.Assignee)
	r.Reporter = strings.TrimSpace(r.Reporter)
	r.Priority = strings.TrimSpace(r.Priority)
	r.Status = strings.TrimSpace(r.Status)
	r.RecommendedAction = strings.TrimSpace(r.RecommendedAction)
	r.TextFields = NormalizeFields(r.TextFields)
}

// Validate reports ErrValidation when the record has no id or no usable text.
func (r *IssueRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if r.EmbeddingText() == "" {
		return fmt.Errorf("%w: record %s has no text after normalization", ErrValidation, r.ID)
	}
	return nil
}

// NewRecordID returns a fresh random record id for issues submitted without a key.
func NewRecordID() string {
	return uuid.New().String()
}
