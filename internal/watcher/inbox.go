package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/quickref/internal/ingest"
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/pkg/utils"
)

// Subdirectories of an inbox that hold handled files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// BatchIngester stores and indexes a batch of records.
type BatchIngester interface {
	IngestBatch(ctx context.Context, recs []*models.IssueRecord) (*models.IngestSummary, error)
}

// Inbox loads dropped exports into the record store. Each handled file is moved
// into ProcessedDir or FailedDir next to it, so it is not picked up again.
type Inbox struct {
	ingester   BatchIngester
	required   []string
	stagingDir string
	timeout    time.Duration
	logger     *zap.Logger
	mu         sync.Mutex // one file at a time
}

// NewInbox creates an inbox handler. stagingDir, when set, receives a copy of
// every loaded batch as input_<timestamp>.csv.
func NewInbox(ingester BatchIngester, required []string, stagingDir string, logger *zap.Logger) *Inbox {
	return &Inbox{
		ingester:   ingester,
		required:   required,
		stagingDir: stagingDir,
		timeout:    10 * time.Minute,
		logger:     utils.OrNop(logger),
	}
}

// HandleFile is the Watcher callback.
func (in *Inbox) HandleFile(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), in.timeout)
	defer cancel()
	if _, err := in.Process(ctx, path); err != nil {
		in.logger.Error("Failed to ingest inbox file", zap.String("path", path), zap.Error(err))
	}
}

// Process ingests the export at path and moves it aside.
func (in *Inbox) Process(ctx context.Context, path string) (*models.IngestSummary, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	summary, err := in.load(ctx, path)
	dest := ProcessedDir
	if err != nil {
		dest = FailedDir
	}
	if moveErr := moveInto(path, filepath.Join(filepath.Dir(path), dest)); moveErr != nil {
		in.logger.Warn("Failed to move inbox file", zap.String("path", path), zap.Error(moveErr))
	}
	if err != nil {
		return nil, err
	}
	in.logger.Info("Inbox file ingested",
		zap.String("path", path),
		zap.Int("loaded", summary.Loaded),
		zap.Int("skipped_duplicates", summary.SkippedDuplicates),
		zap.Int("invalid", summary.Invalid),
		zap.Int("unindexed", summary.Unindexed))
	return summary, nil
}

func (in *Inbox) load(ctx context.Context, path string) (*models.IngestSummary, error) {
	batch, err := ingest.LoadFile(path, in.required)
	if err != nil {
		return nil, err
	}
	if len(batch.MissingColumns) > 0 {
		in.logger.Warn("Export lacks required columns", zap.String("path", path), zap.Strings("columns", batch.MissingColumns))
	}
	if in.stagingDir != "" && len(batch.Inputs) > 0 {
		if _, err := ingest.StageBatch(in.stagingDir, batch.Inputs, time.Now()); err != nil {
			return nil, err
		}
	}
	recs, invalid := ingest.Records(batch.Inputs)
	summary, err := in.ingester.IngestBatch(ctx, recs)
	if err != nil {
		return nil, err
	}
	summary.Invalid += invalid + batch.Skipped
	return summary, nil
}

func moveInto(path, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := filepath.Base(path)
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, fmt.Sprintf("%s.%d", name, time.Now().UnixNano()))
	}
	return os.Rename(path, dest)
}
