package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/internal/embedding"
	"github.com/hyperjump/quickref/internal/indexer"
	"github.com/hyperjump/quickref/internal/ingest"
	"github.com/hyperjump/quickref/internal/keyword"
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/internal/recommend"
	"github.com/hyperjump/quickref/internal/search"
	"github.com/hyperjump/quickref/internal/storage"
	"github.com/hyperjump/quickref/internal/vector"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   storage.RecordStore
	indexer *indexer.Indexer
	cfg     *config.Config
}

func newTestEnv(t *testing.T, training bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "records.db")
	cfg.Storage.IndexDir = filepath.Join(dir, "index")
	cfg.Storage.StagingDir = filepath.Join(dir, "staging")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "keyword")
	cfg.Embedding.Provider = config.ProviderHashing
	cfg.Embedding.Dimensions = 256
	cfg.Index.NumTrees = 4
	cfg.Training.Enabled = training
	config.ApplyDefaults(cfg)
	cfg.Training.RequiredFields = []string{"Issue key", "Summary"}

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	records, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = records.Close() })
	emb := embedding.NewHashingEmbedder(cfg.Embedding.Dimensions, 0)
	vec := vector.NewIndex(cfg.Storage.IndexDir, cfg.Index, cfg.Embedding.Dimensions)
	idx := indexer.NewIndexer(store, emb, vec, records, cfg.Index)
	t.Cleanup(func() { _ = idx.Close() })

	finder := search.NewFinder(store, emb, vec, &cfg.Finder)
	var trainer search.Trainer
	if training {
		trainer = idx
	}
	triager := search.NewTriager(finder, recommend.NewFirstOccurrence(), trainer, &cfg.Finder)
	srv := NewServer(triager, idx, store, records, cfg, nil)
	return &testEnv{srv: srv, handler: srv.Router(), store: store, indexer: idx, cfg: cfg}
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	recs, _ := ingest.Records([]models.IssueInput{
		{Key: "QR-1", Summary: "login fails", Assignee: "Alice", Status: "Done", RecommendedAction: "reset password"},
		{Key: "QR-2", Summary: "login failure after update", Assignee: "Bob", Status: "Open", RecommendedAction: "reset password"},
		{Key: "QR-3", Summary: "payment timeout", Assignee: "Carol", Status: "Open", RecommendedAction: "retry payment"},
	})
	if _, err := e.indexer.IngestBatch(context.Background(), recs); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleTriage(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t)

	w := env.do(t, http.MethodPost, "/api/v1/triage", map[string]interface{}{
		"issue": map[string]string{"summary": "login fails"},
		"top_k": 2,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var res models.TriageResult
	decode(t, w, &res)
	if !res.IndexReady || len(res.Matches) == 0 {
		t.Fatalf("expected matches, got %+v", res)
	}
	if res.Matches[0].Record.ID != "QR-1" || res.Matches[0].Score < 0.99 {
		t.Errorf("top match = %s (%.3f)", res.Matches[0].Record.ID, res.Matches[0].Score)
	}
	if len(res.RecommendedActions) == 0 || res.RecommendedActions[0] != "reset password" {
		t.Errorf("actions = %v", res.RecommendedActions)
	}
	if res.PotentialAssignee == nil || *res.PotentialAssignee != "Alice" {
		t.Errorf("assignee = %v", res.PotentialAssignee)
	}
}

func TestHandleTriage_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/triage", map[string]interface{}{"issue": map[string]string{"summary": " "}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty summary: got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/v1/triage", map[string]interface{}{
		"issue": map[string]string{"summary": "login fails"},
		"train": true,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("train while disabled: got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/triage", map[string]interface{}{"issue": map[string]string{"summary": "login fails"}})
	if w.Code != http.StatusOK {
		t.Fatalf("empty index: got %d", w.Code)
	}
	var res models.TriageResult
	decode(t, w, &res)
	if res.IndexReady || len(res.Matches) != 0 || res.PotentialAssignee != nil {
		t.Errorf("empty index should give an empty result, got %+v", res)
	}
}

func TestHandleTriage_TrainExcludesSelf(t *testing.T) {
	env := newTestEnv(t, true)
	env.seed(t)

	w := env.do(t, http.MethodPost, "/api/v1/triage", map[string]interface{}{
		"issue": map[string]string{"key": "QR-9", "summary": "login fails"},
		"train": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var res models.TriageResult
	decode(t, w, &res)
	if !res.Trained || res.InputKey != "QR-9" {
		t.Errorf("unexpected result: %+v", res)
	}
	for _, m := range res.Matches {
		if m.Record.ID == "QR-9" {
			t.Error("trained issue matched itself")
		}
	}
	if _, err := env.store.Get(context.Background(), "QR-9"); err != nil {
		t.Errorf("trained issue not stored: %v", err)
	}

	w = env.do(t, http.MethodPost, "/api/v1/triage", map[string]interface{}{
		"issue": map[string]string{"key": "QR-9", "summary": "again"},
		"train": true,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate train: got %d", w.Code)
	}
}

func TestHandleTriageBatch(t *testing.T) {
	env := newTestEnv(t, true)
	env.seed(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "upload.csv")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "Issue key,Summary,Assignee\nQR-10,payment timeout again,Dan\nQR-11,N/A,\nQR-12,login fails,Eve\n")
	_ = mw.WriteField("train", "true")
	_ = mw.WriteField("top_k", "3")
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/triage/batch", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}

	var resp batchResponse
	decode(t, w, &resp)
	if len(resp.Results) != 2 || resp.SkippedRows != 1 {
		t.Fatalf("results=%d skipped=%d", len(resp.Results), resp.SkippedRows)
	}
	if resp.Summary == nil || resp.Summary.Loaded != 2 || resp.Summary.Existing != 3 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if resp.Results[1].InputKey != "QR-12" || resp.Results[1].Matches[0].Record.ID != "QR-1" {
		t.Errorf("QR-12 should match QR-1, got %+v", resp.Results[1])
	}
	if _, err := os.Stat(resp.StagedPath); err != nil {
		t.Errorf("batch not staged: %v", err)
	}
}

func TestHandleTriageBatch_UnsupportedFile(t *testing.T) {
	env := newTestEnv(t, false)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "notes.pdf")
	fmt.Fprint(fw, "%PDF")
	_ = mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/triage/batch", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleAppendAndGetRecord(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodPost, "/api/v1/records", models.IssueInput{Key: "QR-5", Summary: "printer offline", Assignee: "Dan"})
	if w.Code != http.StatusCreated {
		t.Fatalf("append: got %d body %s", w.Code, w.Body.String())
	}
	var created struct {
		ID      string `json:"id"`
		Indexed bool   `json:"indexed"`
	}
	decode(t, w, &created)
	if created.ID != "QR-5" || !created.Indexed {
		t.Errorf("created = %+v", created)
	}

	w = env.do(t, http.MethodGet, "/api/v1/records/QR-5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	var rec models.IssueRecord
	decode(t, w, &rec)
	if rec.Summary() != "printer offline" || rec.Assignee != "Dan" {
		t.Errorf("record = %+v", rec)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/records/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/records", models.IssueInput{Key: "QR-5", Summary: "dup"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate: got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/records", models.IssueInput{Key: "QR-6"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid: got %d", w.Code)
	}
}

func TestHandleAppendRecord_TrainingDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodPost, "/api/v1/records", models.IssueInput{Key: "QR-5", Summary: "printer offline"})
	if w.Code != http.StatusForbidden {
		t.Errorf("got %d", w.Code)
	}
}

func TestHandleListRecords(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t)

	var page recordPage
	w := env.do(t, http.MethodGet, "/api/v1/records?limit=2&offset=1", nil)
	decode(t, w, &page)
	if page.Total != 3 || len(page.Records) != 2 || page.Records[0].ID != "QR-2" {
		t.Errorf("paged list = total %d, %d records", page.Total, len(page.Records))
	}

	page = recordPage{}
	w = env.do(t, http.MethodGet, "/api/v1/records?q=login&status=Open", nil)
	decode(t, w, &page)
	if page.Total != 1 || len(page.Records) != 1 || page.Records[0].ID != "QR-2" {
		t.Errorf("filtered list = %+v", page)
	}

	page = recordPage{}
	w = env.do(t, http.MethodGet, "/api/v1/records?q=paymnt", nil)
	decode(t, w, &page)
	if page.Total != 0 || page.DidYouMean != "payment" {
		t.Errorf("expected suggestion, got total=%d did_you_mean=%q", page.Total, page.DidYouMean)
	}
}

func TestHandleExportRecords(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t)

	w := env.do(t, http.MethodGet, "/api/v1/records/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	table, err := ingest.ReadBytes(w.Body.Bytes(), ".csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 3 || table.Rows[0][0] != "QR-1" {
		t.Errorf("export rows = %v", table.Rows)
	}
}

func TestHandleAssignees(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t)

	w := env.do(t, http.MethodGet, "/api/v1/assignees", nil)
	var out struct {
		Assignees []models.AssigneeCount `json:"assignees"`
	}
	decode(t, w, &out)
	if len(out.Assignees) != 3 || out.Assignees[0].Name != "Alice" {
		t.Errorf("assignees = %+v", out.Assignees)
	}
}

func TestHandleIndexAndStatus(t *testing.T) {
	env := newTestEnv(t, false)
	env.seed(t)

	w := env.do(t, http.MethodPost, "/api/v1/index/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild: got %d body %s", w.Code, w.Body.String())
	}
	var state vector.State
	decode(t, w, &state)
	if state.Size != 3 || !state.Built {
		t.Errorf("state = %+v", state)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/index/commit", nil); w.Code != http.StatusOK {
		t.Errorf("commit: got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/status", nil)
	var status map[string]interface{}
	decode(t, w, &status)
	if status["records"] != float64(3) {
		t.Errorf("records = %v", status["records"])
	}
	if b, ok := status["disk_usage_bytes"].(float64); !ok || b <= 0 {
		t.Errorf("disk_usage_bytes = %v", status["disk_usage_bytes"])
	}

	if w := env.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrValidation), http.StatusBadRequest},
		{ingest.ErrUnsupportedFormat, http.StatusBadRequest},
		{search.ErrTrainingDisabled, http.StatusForbidden},
		{storage.ErrRecordNotFound, http.StatusNotFound},
		{storage.ErrDuplicateRecord, http.StatusConflict},
		{vector.ErrDimensionMismatch, http.StatusConflict},
		{indexer.ErrRebuildRequired, http.StatusConflict},
		{fmt.Errorf("embed: %w", embedding.ErrEmbedding), http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
