package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/quickref/internal/models"
)

func testRecords() []*models.IssueRecord {
	rec := func(id, summary, desc, assignee, status, action string) *models.IssueRecord {
		return &models.IssueRecord{
			ID: id,
			TextFields: []models.TextField{
				{Name: models.FieldSummary, Value: summary},
				{Name: models.FieldDescription, Value: desc},
			},
			Assignee:          assignee,
			Status:            status,
			RecommendedAction: action,
		}
	}
	return []*models.IssueRecord{
		rec("QR-1", "Login fails", "users see an error page", "Alice", "Done", "reset password"),
		rec("QR-2", "Login failure after update", "since version 2.3", "Bob", "Open", "reset password"),
		rec("QR-3", "Payment timeout", "checkout hangs", "", "Open", "retry payment"),
	}
}

func newTestIndex(t *testing.T, path string) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	if err := idx.IndexBatch(context.Background(), testRecords()); err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}
	return idx
}

func search(t *testing.T, idx *BleveIndex, q RecordQuery) *SearchPage {
	t.Helper()
	page, err := idx.Search(context.Background(), &q)
	if err != nil {
		t.Fatalf("Search(%+v): %v", q, err)
	}
	return page
}

func TestBleveIndex_TextSearch(t *testing.T) {
	idx := newTestIndex(t, "")

	page := search(t, idx, RecordQuery{Text: "login"})
	if page.Total != 2 {
		t.Fatalf("Total = %d, want 2 (ids %v)", page.Total, page.IDs)
	}

	page = search(t, idx, RecordQuery{Text: "checkout"})
	if len(page.IDs) != 1 || page.IDs[0] != "QR-3" {
		t.Errorf("description match: got %v", page.IDs)
	}

	page = search(t, idx, RecordQuery{Text: "retry"})
	if len(page.IDs) != 1 || page.IDs[0] != "QR-3" {
		t.Errorf("action match: got %v", page.IDs)
	}
}

func TestBleveIndex_Filters(t *testing.T) {
	idx := newTestIndex(t, "")

	page := search(t, idx, RecordQuery{Text: "login", Assignee: "Bob"})
	if len(page.IDs) != 1 || page.IDs[0] != "QR-2" {
		t.Errorf("text+assignee: got %v", page.IDs)
	}

	page = search(t, idx, RecordQuery{Status: "Open"})
	if page.Total != 2 || page.IDs[0] != "QR-2" || page.IDs[1] != "QR-3" {
		t.Errorf("status filter: got %v (total %d)", page.IDs, page.Total)
	}

	page = search(t, idx, RecordQuery{Assignee: models.UnassignedName})
	if len(page.IDs) != 1 || page.IDs[0] != "QR-3" {
		t.Errorf("unassigned filter: got %v", page.IDs)
	}

	page = search(t, idx, RecordQuery{Limit: 2, Offset: 1})
	if page.Total != 3 || len(page.IDs) != 2 || page.IDs[0] != "QR-2" {
		t.Errorf("paging: got %v (total %d)", page.IDs, page.Total)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t, "")

	if page := search(t, idx, RecordQuery{Text: "logn"}); page.Total != 0 {
		t.Errorf("exact search for typo should miss, got %v", page.IDs)
	}
	page := search(t, idx, RecordQuery{Text: "logn", Fuzzy: true})
	if page.Total != 2 {
		t.Errorf("fuzzy search: got %v", page.IDs)
	}

	sc := NewSpellChecker(idx)
	corrected, changed, err := sc.Correct("paymnt")
	if err != nil {
		t.Fatal(err)
	}
	if !changed || corrected != "payment" {
		t.Errorf("Correct = %q, %v", corrected, changed)
	}
}

func TestBleveIndex_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(context.Background(), testRecords()[0]); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	n, err := reopened.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DocCount after reopen = %d, want 1", n)
	}
}

func TestSpellChecker_ReloadsWhenIndexGrows(t *testing.T) {
	idx := newTestIndex(t, "")
	sc := NewSpellChecker(idx)
	if got, _ := sc.Suggest("refnd"); len(got) != 0 {
		t.Fatalf("unexpected suggestions %+v", got)
	}
	rec := &models.IssueRecord{
		ID:         "QR-4",
		TextFields: []models.TextField{{Name: models.FieldSummary, Value: "refund not issued"}},
	}
	if err := idx.Index(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	got, err := sc.Suggest("refnd")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].Term != "refund" {
		t.Errorf("Suggest after indexing = %+v, want refund", got)
	}
}
