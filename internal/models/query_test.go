package models

import (
	"errors"
	"testing"
)

func TestTriageQuery_Validate(t *testing.T) {
	neg := -0.1
	half := 0.5
	tests := []struct {
		name    string
		query   *TriageQuery
		wantErr bool
	}{
		{"empty summary", &TriageQuery{Issue: IssueInput{Summary: "  "}}, true},
		{"valid query", &TriageQuery{Issue: IssueInput{Summary: "login fails"}}, false},
		{"sets default top_k", &TriageQuery{Issue: IssueInput{Summary: "x"}, TopK: 0}, false},
		{"caps top_k", &TriageQuery{Issue: IssueInput{Summary: "x"}, TopK: 500}, false},
		{"keeps explicit threshold", &TriageQuery{Issue: IssueInput{Summary: "x"}, Threshold: &half}, false},
		{"rejects negative threshold", &TriageQuery{Issue: IssueInput{Summary: "x"}, Threshold: &neg}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(5, 50, 0.55)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if tt.query.TopK <= 0 || tt.query.TopK > 50 {
				t.Errorf("TopK = %d, want within (0, 50]", tt.query.TopK)
			}
			if tt.query.Threshold == nil {
				t.Fatal("expected threshold to be set")
			}
			if tt.name == "keeps explicit threshold" && *tt.query.Threshold != 0.5 {
				t.Errorf("threshold = %v, want 0.5", *tt.query.Threshold)
			}
			if tt.name == "sets default top_k" && (tt.query.TopK != 5 || *tt.query.Threshold != 0.55) {
				t.Errorf("defaults not applied: top_k=%d threshold=%v", tt.query.TopK, *tt.query.Threshold)
			}
		})
	}
}
