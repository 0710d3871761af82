// Package main is the QuickRef CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/quickref/internal/cli"
	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/internal/embedding"
	"github.com/hyperjump/quickref/internal/indexer"
	"github.com/hyperjump/quickref/internal/ingest"
	"github.com/hyperjump/quickref/internal/keyword"
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/internal/recommend"
	"github.com/hyperjump/quickref/internal/search"
	"github.com/hyperjump/quickref/internal/server"
	"github.com/hyperjump/quickref/internal/storage"
	"github.com/hyperjump/quickref/internal/vector"
	"github.com/hyperjump/quickref/internal/watcher"
	"github.com/hyperjump/quickref/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/quickref/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "triage":
		runTriage()
	case "ingest":
		runIngest()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("quickref version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (inbox events, index commits, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.Bool("training_enabled", cfg.Training.Enabled),
	)

	components, err := initializeComponents(context.Background(), cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	inbox := watcher.NewInbox(components.Indexer, cfg.Training.RequiredFields, cfg.Storage.StagingDir, logger)
	watchOpts := []watcher.WatcherOption{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(cfg.Watch.Directories, cfg.Watch.Extensions, inbox.HandleFile, watchOpts...)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Watch.Directories) > 0 {
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(
		components.Triager,
		components.Indexer,
		components.Store,
		components.Records,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildSummary joins all positional args with spaces so multi-word summaries
// work the same with or without shell quoting.
func buildSummary(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// thresholdFlag converts the -threshold flag into the query's optional threshold.
// Negative means "use the configured default".
func thresholdFlag(v float64) *float64 {
	if v < 0 {
		return nil
	}
	return &v
}

func printTriageUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: quickref triage [flags] <summary>\n")
	fmt.Fprintf(fs.Output(), "       quickref triage [flags] -file issues.csv\n\n")
	fmt.Fprintf(fs.Output(), "Summary is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
}

func runTriage() {
	fs := flag.NewFlagSet("triage", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	key := fs.String("key", "", "issue key")
	description := fs.String("description", "", "issue description")
	comments := fs.String("comments", "", "issue comments")
	file := fs.String("file", "", "CSV or XLSX export to triage as a batch")
	topK := fs.Int("top-k", 0, "number of reference issues per result (0 = config default)")
	threshold := fs.Float64("threshold", -1, "minimum similarity in [0, 1] (negative = config default)")
	train := fs.Bool("train", false, "store the submitted issues as reference records")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printTriageUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *file != "" {
		runTriageFile(*configPath, *serverURL, *file, *topK, thresholdFlag(*threshold), *train, format)
		return
	}

	summary := buildSummary(fs.Args())
	if summary == "" && *description == "" {
		printTriageUsage(fs)
		os.Exit(1)
	}
	query := &models.TriageQuery{
		Issue: models.IssueInput{
			Key:         *key,
			Summary:     summary,
			Description: *description,
			Comments:    *comments,
		},
		TopK:      *topK,
		Threshold: thresholdFlag(*threshold),
		Train:     *train,
	}

	var result *models.TriageResult
	if *serverURL != "" {
		result, err = triageViaHTTP(*serverURL, query)
	} else {
		err = withComponents(*configPath, func(ctx context.Context, c *Components, _ *config.Config) error {
			var triageErr error
			result, triageErr = c.Triager.Triage(ctx, query)
			return triageErr
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to triage: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteTriageResults(os.Stdout, []*models.TriageResult{result}, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runTriageFile(configPath, serverURL, path string, topK int, threshold *float64, train bool, format cli.OutputFormat) {
	var (
		results []*models.TriageResult
		summary *models.IngestSummary
		err     error
	)
	if serverURL != "" {
		var resp *batchResponse
		resp, err = triageBatchViaHTTP(serverURL, path, topK, threshold, train)
		if resp != nil {
			results, summary = resp.Results, resp.Summary
		}
	} else {
		err = withComponents(configPath, func(ctx context.Context, c *Components, cfg *config.Config) error {
			batch, loadErr := ingest.LoadFile(path, cfg.Training.RequiredFields)
			if loadErr != nil {
				return loadErr
			}
			if len(batch.MissingColumns) > 0 {
				fmt.Fprintf(os.Stderr, "Missing columns: %s\n", strings.Join(batch.MissingColumns, ", "))
			}
			if cfg.Storage.StagingDir != "" && len(batch.Inputs) > 0 {
				if _, stageErr := ingest.StageBatch(cfg.Storage.StagingDir, batch.Inputs, time.Now()); stageErr != nil {
					return stageErr
				}
			}
			var triageErr error
			results, summary, triageErr = c.Triager.TriageBatch(ctx, batch.Inputs, topK, threshold, train)
			if summary != nil {
				summary.Invalid += batch.Skipped
			}
			return triageErr
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to triage file: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteTriageResults(os.Stdout, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if summary != nil && format == cli.OutputText {
		_ = cli.WriteIngestSummary(os.Stdout, summary, format)
	}
}

func triageViaHTTP(serverURL string, query *models.TriageQuery) (*models.TriageResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/triage", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var result models.TriageResult
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// batchResponse is the shape of POST /api/v1/triage/batch response.
type batchResponse struct {
	Results        []*models.TriageResult `json:"results"`
	Summary        *models.IngestSummary  `json:"summary"`
	SkippedRows    int                    `json:"skipped_rows"`
	MissingColumns []string               `json:"missing_columns,omitempty"`
	StagedPath     string                 `json:"staged_path,omitempty"`
}

func triageBatchViaHTTP(serverURL, path string, topK int, threshold *float64, train bool) (*batchResponse, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	params := url.Values{}
	if topK > 0 {
		params.Set("top_k", strconv.Itoa(topK))
	}
	if threshold != nil {
		params.Set("threshold", strconv.FormatFloat(*threshold, 'f', -1, 64))
	}
	if train {
		params.Set("train", "true")
	}
	endpoint := serverURL + "/api/v1/triage/batch"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	resp, err := http.Post(endpoint, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var out batchResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func decodeResponse(resp *http.Response, v interface{}) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: quickref ingest [flags] <file.csv|file.xlsx>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var summary *models.IngestSummary
	err = withComponents(*configPath, func(ctx context.Context, c *Components, cfg *config.Config) error {
		batch, loadErr := ingest.LoadFile(path, cfg.Training.RequiredFields)
		if loadErr != nil {
			return loadErr
		}
		if len(batch.MissingColumns) > 0 {
			fmt.Fprintf(os.Stderr, "Missing columns: %s\n", strings.Join(batch.MissingColumns, ", "))
		}
		recs, invalid := ingest.Records(batch.Inputs)
		var ingestErr error
		summary, ingestErr = c.Indexer.IngestBatch(ctx, recs)
		if summary != nil {
			summary.Invalid += invalid + batch.Skipped
		}
		return ingestErr
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ingest: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteIngestSummary(os.Stdout, summary, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	_ = fs.Parse(os.Args[2:])

	var state vector.State
	var err error
	if *serverURL != "" {
		var resp *http.Response
		resp, err = http.Post(*serverURL+"/api/v1/index/rebuild", "application/json", nil)
		if err == nil {
			defer resp.Body.Close()
			err = decodeResponse(resp, &state)
		}
	} else {
		err = withComponents(*configPath, func(ctx context.Context, c *Components, _ *config.Config) error {
			var rebuildErr error
			state, rebuildErr = c.Indexer.Rebuild(ctx)
			return rebuildErr
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rebuild index: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Index rebuilt: %d vectors, %d trees, generation %d\n", state.Size, state.NumTrees, state.Generation)
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Records         int64               `json:"records"`
	Index           vector.State        `json:"index"`
	NeedsRebuild    bool                `json:"needs_rebuild"`
	EmbeddingModel  string              `json:"embedding_model"`
	Dimensions      int                 `json:"dimensions"`
	KeywordDocs     uint64              `json:"keyword_docs"`
	TrainingEnabled bool                `json:"training_enabled"`
	DiskUsage       []storage.PathUsage `json:"disk_usage,omitempty"`
	DiskUsageBytes  *int64              `json:"disk_usage_bytes,omitempty"`
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var status statusResponse
	if err := decodeResponse(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status *statusResponse
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		err = withComponents(*configPath, func(ctx context.Context, c *Components, cfg *config.Config) error {
			st, statusErr := c.Indexer.Status(ctx)
			if statusErr != nil {
				return statusErr
			}
			status = &statusResponse{
				Records:         st.Records,
				Index:           st.Index,
				NeedsRebuild:    st.NeedsRebuild,
				EmbeddingModel:  st.EmbeddingModel,
				Dimensions:      st.Dimensions,
				KeywordDocs:     st.KeywordDocs,
				TrainingEnabled: c.Triager.TrainingEnabled(),
			}
			usage, total, usageErr := storage.DiskUsage(map[string]string{
				"records": cfg.Storage.DatabasePath,
				"index":   cfg.Storage.IndexDir,
				"keyword": cfg.Storage.KeywordIndexPath,
				"staging": cfg.Storage.StagingDir,
			})
			if usageErr == nil {
				status.DiskUsage = usage
				status.DiskUsageBytes = &total
			}
			return nil
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := writeStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func writeStatus(w io.Writer, status *statusResponse, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(w, "records:            %d   # stored reference issues\n", status.Records)
	fmt.Fprintf(w, "index_size:         %d   # committed vectors\n", status.Index.Size)
	fmt.Fprintf(w, "index_staged:       %d   # vectors awaiting commit\n", status.Index.Staged)
	fmt.Fprintf(w, "index_generation:   %d\n", status.Index.Generation)
	fmt.Fprintf(w, "needs_rebuild:      %t\n", status.NeedsRebuild)
	fmt.Fprintf(w, "keyword_docs:       %d\n", status.KeywordDocs)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # store + indices on disk\n", *status.DiskUsageBytes)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "embedding_model:    %s\n", status.EmbeddingModel)
	fmt.Fprintf(w, "embedding_dims:     %d\n", status.Dimensions)
	fmt.Fprintf(w, "num_trees:          %d\n", status.Index.NumTrees)
	fmt.Fprintf(w, "training_enabled:   %t\n", status.TrainingEnabled)
	for _, u := range status.DiskUsage {
		if u.Path != "" {
			fmt.Fprintf(w, "%-19s %s\n", u.Name+"_path:", u.Path)
		}
	}
	return nil
}

// withComponents loads config, opens every component, runs fn and closes them.
func withComponents(configPath string, fn func(ctx context.Context, c *Components, cfg *config.Config) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, cfg.Debug)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer components.Close()
	return fn(ctx, components, cfg)
}

type Components struct {
	Store    storage.RecordStore
	Embedder embedding.Embedder
	Vector   *vector.Index
	Records  *keyword.BleveIndex
	Indexer  *indexer.Indexer
	Finder   *search.Finder
	Triager  *search.Triager
}

// Close commits staged vectors and releases every component.
func (c *Components) Close() {
	if c.Indexer != nil {
		_ = c.Indexer.Close()
	}
	if c.Vector != nil {
		_ = c.Vector.Close()
	}
	if c.Records != nil {
		_ = c.Records.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	logger = utils.OrNop(logger)
	c := &Components{}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Store = store

	embedder, err := embedding.NewEmbedder(&cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	vectorIndex, loadErr := vector.Open(cfg.Storage.IndexDir, cfg.Index, embedder.Dimensions(),
		vector.WithModel(embedder.Model()), vector.WithLogger(logger))
	switch {
	case errors.Is(loadErr, os.ErrNotExist):
		logger.Info("no saved vector index, building from records", zap.String("dir", cfg.Storage.IndexDir))
	case loadErr != nil:
		logger.Warn("vector index load skipped, rebuilding from records",
			zap.String("dir", cfg.Storage.IndexDir), zap.Error(loadErr))
	}
	c.Vector = vectorIndex

	records, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Records = records

	idxOpts := []indexer.IndexerOption{}
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	c.Indexer = indexer.NewIndexer(store, embedder, vectorIndex, records, cfg.Index, idxOpts...)
	if err := c.Indexer.Bootstrap(ctx, loadErr); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to bootstrap index: %w", err)
	}
	if err := seedStore(ctx, c, cfg, logger); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load seed records: %w", err)
	}

	var trainer search.Trainer
	if cfg.Training.Enabled {
		trainer = c.Indexer
	}
	c.Finder = search.NewFinder(store, embedder, vectorIndex, &cfg.Finder, search.WithLogger(logger))
	c.Triager = search.NewTriager(c.Finder, recommend.NewFirstOccurrence(), trainer, &cfg.Finder, search.WithTriageLogger(logger))
	return c, nil
}

// seedStore loads training.seed_path into an empty store.
func seedStore(ctx context.Context, c *Components, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Training.SeedPath == "" {
		return nil
	}
	n, err := c.Store.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	batch, err := ingest.LoadFile(cfg.Training.SeedPath, cfg.Training.RequiredFields)
	if err != nil {
		return err
	}
	recs, invalid := ingest.Records(batch.Inputs)
	summary, err := c.Indexer.Seed(ctx, recs)
	if err != nil {
		return err
	}
	if summary != nil {
		logger.Info("seed records loaded",
			zap.String("path", cfg.Training.SeedPath),
			zap.Int("loaded", summary.Loaded),
			zap.Int("invalid", summary.Invalid+invalid+batch.Skipped),
			zap.Int("indexed", summary.Indexed))
	}
	return nil
}

func printUsage() {
	fmt.Println(`quickref - Find reference issues for new support tickets

Usage:
  quickref server [flags]             Start the HTTP server
  quickref triage [flags] <summary>   Find reference issues for one issue
  quickref triage [flags] -file FILE  Triage every row of a CSV/XLSX export
  quickref ingest [flags] <file>      Add a CSV/XLSX export to the reference records
  quickref rebuild [flags]            Rebuild the vector index from stored records
  quickref status [flags]             Show store and index status
  quickref version                    Show version
  quickref help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/quickref/config.yaml)
  --debug            Enable debug logging

Triage Flags:
  --config string       Config file path (direct mode)
  --server string       Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --key string          Issue key
  --description string  Issue description
  --comments string     Issue comments
  --file string         CSV or XLSX export to triage as a batch
  --top-k int           Reference issues per result (default from config)
  --threshold float     Minimum similarity in [0, 1] (default from config)
  --train               Store the submitted issues as reference records (training must be enabled)
  --output string       Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Rebuild and Status Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    Output format for status: text or json (default: text)

Examples:
  quickref server
  quickref triage "login fails after password reset"
  quickref triage --top-k 3 --threshold 0.6 payment page times out
  quickref triage --file new-issues.xlsx --output json
  quickref ingest resolved-issues.csv
  quickref rebuild
  quickref status --output json`)
}
