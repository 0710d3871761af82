// Package server provides the HTTP API for QuickRef.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/internal/indexer"
	"github.com/hyperjump/quickref/internal/keyword"
	"github.com/hyperjump/quickref/internal/search"
	"github.com/hyperjump/quickref/internal/storage"
	"github.com/hyperjump/quickref/pkg/utils"
)

const maxUploadBytes = 32 << 20

// Server is the HTTP server for the QuickRef API.
type Server struct {
	triager *search.Triager
	indexer *indexer.Indexer
	store   storage.RecordStore
	records keyword.RecordIndex
	speller *keyword.SpellChecker
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. records may be nil, in
// which case the record list only pages through the store.
func NewServer(
	triager *search.Triager,
	idx *indexer.Indexer,
	store storage.RecordStore,
	records keyword.RecordIndex,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		triager: triager,
		indexer: idx,
		store:   store,
		records: records,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
	if dict, ok := records.(keyword.TermDictionary); ok {
		s.speller = keyword.NewSpellChecker(dict)
	}
	return s
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", s.handleTriage)
		r.Post("/triage/batch", s.handleTriageBatch)

		r.Post("/records", s.handleAppendRecord)
		r.Get("/records", s.handleListRecords)
		r.Get("/records/export", s.handleExportRecords)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Get("/assignees", s.handleAssignees)

		r.Post("/index/rebuild", s.handleRebuild)
		r.Post("/index/commit", s.handleCommit)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
