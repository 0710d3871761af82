package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/quickref/internal/embedding"
	"github.com/hyperjump/quickref/internal/indexer"
	"github.com/hyperjump/quickref/internal/ingest"
	"github.com/hyperjump/quickref/internal/keyword"
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/internal/search"
	"github.com/hyperjump/quickref/internal/storage"
	"github.com/hyperjump/quickref/internal/vector"
)

const defaultPageSize = 50

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, ingest.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrTrainingDisabled):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateRecord),
		errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, indexer.ErrRebuildRequired):
		return http.StatusConflict
	case errors.Is(err, embedding.ErrEmbedding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	var query models.TriageQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("triage request", zap.String("key", query.Issue.RecordID()), zap.Int("top_k", query.TopK), zap.Bool("train", query.Train))
	result, err := s.triager.Triage(r.Context(), &query)
	if err != nil {
		s.fail(w, "triage failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

type batchResponse struct {
	Results        []*models.TriageResult `json:"results"`
	Summary        *models.IngestSummary  `json:"summary"`
	SkippedRows    int                    `json:"skipped_rows"`
	MissingColumns []string               `json:"missing_columns,omitempty"`
	StagedPath     string                 `json:"staged_path,omitempty"`
}

func (s *Server) handleTriageBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	table, err := ingest.ReadBytes(buf.Bytes(), filepath.Ext(header.Filename))
	if err != nil {
		s.fail(w, "batch upload rejected", err)
		return
	}
	batch := ingest.Parse(table, s.config.Training.RequiredFields)

	topK, _ := strconv.Atoi(r.FormValue("top_k"))
	var threshold *float64
	if v := r.FormValue("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		threshold = &f
	}
	train, _ := strconv.ParseBool(r.FormValue("train"))

	resp := batchResponse{SkippedRows: batch.Skipped, MissingColumns: batch.MissingColumns}
	if s.config.Storage.StagingDir != "" && len(batch.Inputs) > 0 {
		path, err := ingest.StageBatch(s.config.Storage.StagingDir, batch.Inputs, time.Now())
		if err != nil {
			s.fail(w, "failed to stage batch", err)
			return
		}
		resp.StagedPath = path
	}

	results, summary, err := s.triager.TriageBatch(r.Context(), batch.Inputs, topK, threshold, train)
	if err != nil {
		s.fail(w, "batch triage failed", err)
		return
	}
	s.logger.Info("Batch triaged",
		zap.String("file", header.Filename),
		zap.Int("rows", len(table.Rows)),
		zap.Int("skipped_rows", batch.Skipped),
		zap.Bool("train", train))
	resp.Results, resp.Summary = results, summary
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAppendRecord(w http.ResponseWriter, r *http.Request) {
	if !s.triager.TrainingEnabled() {
		s.fail(w, "append rejected", search.ErrTrainingDisabled)
		return
	}
	var input models.IssueInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := input.ToRecord()
	if err != nil {
		s.fail(w, "append rejected", err)
		return
	}
	indexed, err := s.indexer.Ingest(r.Context(), rec)
	if err != nil {
		s.fail(w, "append failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"id": rec.ID, "indexed": indexed})
}

type recordPage struct {
	Records    []*models.IssueRecord `json:"records"`
	Total      uint64                `json:"total"`
	Offset     int                   `json:"offset"`
	Limit      int                   `json:"limit"`
	DidYouMean string                `json:"did_you_mean,omitempty"`
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	fuzzy, _ := strconv.ParseBool(q.Get("fuzzy"))
	rq := &keyword.RecordQuery{
		Text:      q.Get("q"),
		Assignee:  q.Get("assignee"),
		Status:    q.Get("status"),
		IssueType: q.Get("issue_type"),
		Priority:  q.Get("priority"),
		Fuzzy:     fuzzy,
		Offset:    offset,
		Limit:     limit,
	}
	page := recordPage{Offset: offset, Limit: limit}

	filtered := rq.Text != "" || rq.Assignee != "" || rq.Status != "" || rq.IssueType != "" || rq.Priority != ""
	if !filtered || s.records == nil {
		recs, err := s.store.List(ctx, offset, limit)
		if err != nil {
			s.fail(w, "list records failed", err)
			return
		}
		count, err := s.store.Count(ctx)
		if err != nil {
			s.fail(w, "count records failed", err)
			return
		}
		page.Records, page.Total = recs, uint64(count)
		s.respondJSON(w, http.StatusOK, page)
		return
	}

	res, err := s.records.Search(ctx, rq)
	if err != nil {
		s.fail(w, "record search failed", err)
		return
	}
	found, err := s.store.GetMany(ctx, res.IDs)
	if err != nil {
		s.fail(w, "load records failed", err)
		return
	}
	page.Records = make([]*models.IssueRecord, 0, len(res.IDs))
	for _, id := range res.IDs {
		if rec, ok := found[id]; ok {
			page.Records = append(page.Records, rec)
		}
	}
	page.Total = res.Total
	if res.Total == 0 && rq.Text != "" && s.speller != nil {
		if corrected, changed, err := s.speller.Correct(rq.Text); err == nil && changed {
			page.DidYouMean = corrected
		}
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "get record failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.All(r.Context())
	if err != nil {
		s.fail(w, "export failed", err)
		return
	}
	var buf bytes.Buffer
	if err := ingest.WriteRecordsCSV(&buf, recs); err != nil {
		s.fail(w, "export failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="records.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAssignees(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.AssigneeCounts(r.Context())
	if err != nil {
		s.fail(w, "assignee counts failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"assignees": counts})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Index rebuild requested")
	state, err := s.indexer.Rebuild(r.Context())
	if err != nil {
		s.fail(w, "rebuild failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Commit(r.Context()); err != nil {
		s.fail(w, "commit failed", err)
		return
	}
	st, err := s.indexer.Status(r.Context())
	if err != nil {
		s.fail(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st.Index)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.indexer.Status(r.Context())
	if err != nil {
		s.fail(w, "status failed", err)
		return
	}
	resp := map[string]interface{}{
		"records":          st.Records,
		"index":            st.Index,
		"needs_rebuild":    st.NeedsRebuild,
		"embedding_model":  st.EmbeddingModel,
		"dimensions":       st.Dimensions,
		"keyword_docs":     st.KeywordDocs,
		"training_enabled": s.triager.TrainingEnabled(),
	}

	cfg := s.config
	resp["config"] = map[string]interface{}{
		"num_trees":            cfg.Index.NumTrees,
		"staging_limit":        cfg.Index.StagingLimit,
		"similarity_threshold": cfg.Finder.SimilarityThreshold,
		"top_k":                cfg.Finder.TopK,
		"embedding_provider":   cfg.Embedding.Provider,
		"database_path":        cfg.Storage.DatabasePath,
		"index_dir":            cfg.Storage.IndexDir,
	}
	usage, total, err := storage.DiskUsage(map[string]string{
		"records": cfg.Storage.DatabasePath,
		"index":   cfg.Storage.IndexDir,
		"keyword": cfg.Storage.KeywordIndexPath,
		"staging": cfg.Storage.StagingDir,
	})
	if err == nil {
		resp["disk_usage"] = usage
		resp["disk_usage_bytes"] = total
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
