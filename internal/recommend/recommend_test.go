package recommend

import (
	"reflect"
	"testing"

	"github.com/hyperjump/quickref/internal/models"
)

func match(action string) *models.Match {
	return &models.Match{Record: &models.IssueRecord{RecommendedAction: action}}
}

func TestFirstOccurrence_Recommend(t *testing.T) {
	tests := []struct {
		name    string
		matches []*models.Match
		want    []string
	}{
		{"empty", nil, []string{}},
		{"single", []*models.Match{match("reset password")}, []string{"reset password"}},
		{"duplicates collapse", []*models.Match{
			match("reset password"), match("retry payment"), match("reset password"),
		}, []string{"reset password", "retry payment"}},
		{"empty actions skipped", []*models.Match{
			match(""), match("  "), match("clear cache"),
		}, []string{"clear cache"}},
		{"rank order kept", []*models.Match{
			match("b"), match("a"), match("c"), match("a"),
		}, []string{"b", "a", "c"}},
		{"nil record ignored", []*models.Match{{}, match("x")}, []string{"x"}},
	}
	r := NewFirstOccurrence()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Recommend(tt.matches)
			if got == nil {
				t.Fatal("Recommend returned nil")
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Recommend() = %v, want %v", got, tt.want)
			}
		})
	}
}
