package models

import (
	"fmt"
	"strings"
	"time"
)

// IssueInput is an issue as submitted through a form, API call, or tabular upload row.
type IssueInput struct {
	Key               string `json:"key,omitempty"`
	IssueID           string `json:"issue_id,omitempty"`
	IssueType         string `json:"issue_type,omitempty"`
	Summary           string `json:"summary"`
	Description       string `json:"description,omitempty"`
	Comments          string `json:"comments,omitempty"`
	Assignee          string `json:"assignee,omitempty"`
	Reporter          string `json:"reporter,omitempty"`
	Priority          string `json:"priority,omitempty"`
	Status            string `json:"status,omitempty"`
	RecommendedAction string `json:"recommended_action,omitempty"`
}

// RecordID returns the key, falling back to the issue id. Empty when neither is set.
func (in *IssueInput) RecordID() string {
	if k := strings.TrimSpace(in.Key); k != "" {
		return k
	}
	return strings.TrimSpace(in.IssueID)
}

// TextFields returns the input's text in embedding order (summary first).
func (in *IssueInput) TextFields() []TextField {
	return NormalizeFields([]TextField{
		{Name: FieldSummary, Value: in.Summary},
		{Name: FieldDescription, Value: in.Description},
		{Name: FieldComments, Value: in.Comments},
	})
}

// Validate checks that the input carries a summary.
func (in *IssueInput) Validate() error {
	if EmbeddingText([]TextField{{Name: FieldSummary, Value: in.Summary}}) == "" {
		return fmt.Errorf("%w: summary is required", ErrValidation)
	}
	return nil
}

// ToRecord converts the input into a normalized IssueRecord. A missing key gets a
// generated id. The recommended action defaults to the comments, which is what
// historical exports carry for resolved issues.
func (in *IssueInput) ToRecord() (*IssueRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	id := in.RecordID()
	if id == "" {
		id = NewRecordID()
	}
	action := in.RecommendedAction
	if strings.TrimSpace(action) == "" {
		action = in.Comments
	}
	rec := &IssueRecord{
		ID:                id,
		IssueType:         in.IssueType,
		TextFields:        in.TextFields(),
		Assignee:          in.Assignee,
		Reporter:          in.Reporter,
		Priority:          in.Priority,
		Status:            in.Status,
		RecommendedAction: action,
		CreatedAt:         time.Now().UTC(),
	}
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
