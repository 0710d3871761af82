// Package indexer keeps the record store, the ANN index and the record search index
// in step: it appends issue records, embeds them, stages their vectors and commits
// the forest in the background.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/internal/embedding"
	"github.com/hyperjump/quickref/internal/keyword"
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/internal/storage"
	"github.com/hyperjump/quickref/internal/vector"
	"github.com/hyperjump/quickref/pkg/utils"
)

// ErrRebuildRequired is returned by Ingest when an earlier insert hit a dimension
// mismatch. The record is stored; Rebuild indexes it.
var ErrRebuildRequired = errors.New("index requires rebuild")

const defaultStagingLimit = 256

// Status reports the indexer's view of store and index.
type Status struct {
	Records        int64        `json:"records"`
	Index          vector.State `json:"index"`
	NeedsRebuild   bool         `json:"needs_rebuild"`
	EmbeddingModel string       `json:"embedding_model"`
	Dimensions     int          `json:"dimensions"`
	KeywordDocs    uint64       `json:"keyword_docs"`
}

// Indexer is the single writer for records and vectors.
type Indexer struct {
	store    storage.RecordStore
	embedder embedding.Embedder
	index    *vector.Index
	records  keyword.RecordIndex
	config   config.IndexConfig
	logger   *zap.Logger

	mu           sync.Mutex // held across store append and index insert
	needsRebuild atomic.Bool

	commits      singleflight.Group
	bgCtx        context.Context
	bgCancel     context.CancelFunc
	bg           sync.WaitGroup
	closeOnce    sync.Once
	embedWorkers int
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for ingest, commit and rebuild events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(i *Indexer) { i.logger = l }
}

// WithEmbedWorkers caps concurrent embedding calls during batches and rebuilds.
func WithEmbedWorkers(n int) IndexerOption {
	return func(i *Indexer) { i.embedWorkers = n }
}

// NewIndexer creates an indexer. records may be nil when record search is not used.
func NewIndexer(
	store storage.RecordStore,
	embedder embedding.Embedder,
	index *vector.Index,
	records keyword.RecordIndex,
	cfg config.IndexConfig,
	opts ...IndexerOption,
) *Indexer {
	ctx, cancel := context.WithCancel(context.Background())
	i := &Indexer{
		store:    store,
		embedder: embedder,
		index:    index,
		records:  records,
		config:   cfg,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.config.StagingLimit <= 0 {
		i.config.StagingLimit = defaultStagingLimit
	}
	if i.embedWorkers <= 0 {
		i.embedWorkers = runtime.GOMAXPROCS(0)
	}
	i.logger = utils.OrNop(i.logger)
	return i
}

// Bootstrap brings the index in line with the store at startup. loadErr is the
// error vector.Open reported; any load failure means the index is rebuilt from the
// store. Otherwise records the index does not know yet are embedded and committed.
func (i *Indexer) Bootstrap(ctx context.Context, loadErr error) error {
	if loadErr != nil {
		i.logger.Warn("Index unavailable, rebuilding from store", zap.Error(loadErr))
		_, err := i.Rebuild(ctx)
		return err
	}

	recs, err := i.store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	known := make(map[string]struct{}, len(recs))
	missing := make([]*models.IssueRecord, 0)
	for _, rec := range recs {
		known[rec.ID] = struct{}{}
		if !i.index.Contains(rec.ID) {
			missing = append(missing, rec)
		}
	}
	for pos := 0; pos < i.index.Size()+i.index.Staged(); pos++ {
		id, ok := i.index.PositionToID(pos)
		if !ok {
			break
		}
		if _, ok := known[id]; !ok {
			i.logger.Warn("Index holds a record the store does not, rebuilding", zap.String("record_id", id))
			_, err := i.Rebuild(ctx)
			return err
		}
	}

	if len(missing) > 0 {
		vectors := i.embedAll(ctx, missing, true)
		i.mu.Lock()
		for n, rec := range missing {
			if vectors[n] == nil {
				continue
			}
			if _, err := i.index.Insert(rec.ID, vectors[n]); err != nil {
				i.mu.Unlock()
				if errors.Is(err, vector.ErrDimensionMismatch) {
					i.logger.Warn("Index dimension changed, rebuilding", zap.Error(err))
					_, err := i.Rebuild(ctx)
					return err
				}
				return fmt.Errorf("failed to index %s: %w", rec.ID, err)
			}
		}
		i.mu.Unlock()
		i.logger.Info("Reconciled index with store", zap.Int("added", len(missing)))
		if err := i.Commit(ctx); err != nil {
			return err
		}
	}

	if i.records != nil {
		if err := i.records.IndexBatch(ctx, recs); err != nil {
			return fmt.Errorf("failed to index records for search: %w", err)
		}
	}
	return nil
}

// Seed loads recs through IngestBatch when the store is empty. It returns nil
// without touching the store otherwise.
func (i *Indexer) Seed(ctx context.Context, recs []*models.IssueRecord) (*models.IngestSummary, error) {
	count, err := i.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if count > 0 {
		return nil, nil
	}
	return i.IngestBatch(ctx, recs)
}

// Ingest appends rec to the store and stages its vector. indexed is false when the
// record is stored but not searchable: embedding failed, or the index awaits a
// rebuild. A duplicate id returns storage.ErrDuplicateRecord and changes nothing.
func (i *Indexer) Ingest(ctx context.Context, rec *models.IssueRecord) (bool, error) {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return false, err
	}
	vec, embedErr := i.embed(ctx, rec)
	if embedErr != nil && !errors.Is(embedErr, embedding.ErrEmbedding) {
		return false, embedErr
	}

	i.mu.Lock()
	if _, err := i.store.Append(ctx, rec); err != nil {
		i.mu.Unlock()
		return false, err
	}
	indexErr := embedErr
	if indexErr == nil {
		indexErr = i.insertLocked(rec.ID, vec)
	}
	i.mu.Unlock()

	i.indexForSearch(ctx, rec)
	if indexErr != nil {
		i.logger.Warn("Record stored but not indexed", zap.String("record_id", rec.ID), zap.Error(indexErr))
		return false, indexErr
	}
	i.logger.Debug("Record ingested", zap.String("record_id", rec.ID), zap.Int("staged", i.index.Staged()))
	i.maybeCommit()
	return true, nil
}

// IngestBatch appends recs in order, embedding them in parallel first. Duplicates
// and invalid records are counted and skipped; embedding failures leave the record
// stored but unindexed. Staged vectors are committed before it returns.
func (i *Indexer) IngestBatch(ctx context.Context, recs []*models.IssueRecord) (*models.IngestSummary, error) {
	existing, err := i.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	summary := &models.IngestSummary{Existing: existing}

	valid := make([]*models.IssueRecord, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		rec.Normalize()
		if err := rec.Validate(); err != nil {
			summary.Invalid++
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			summary.SkippedDuplicates++
			continue
		}
		seen[rec.ID] = struct{}{}
		valid = append(valid, rec)
	}

	vectors := i.embedAll(ctx, valid, false)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	added := make([]*models.IssueRecord, 0, len(valid))
	i.mu.Lock()
	for n, rec := range valid {
		if _, err := i.store.Append(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrDuplicateRecord) {
				summary.SkippedDuplicates++
				continue
			}
			i.mu.Unlock()
			return summary, fmt.Errorf("failed to store %s: %w", rec.ID, err)
		}
		summary.Loaded++
		summary.RecordIDs = append(summary.RecordIDs, rec.ID)
		added = append(added, rec)
		if vectors[n] == nil {
			summary.Unindexed++
			continue
		}
		if err := i.insertLocked(rec.ID, vectors[n]); err != nil {
			i.logger.Warn("Record stored but not indexed", zap.String("record_id", rec.ID), zap.Error(err))
			summary.Unindexed++
			continue
		}
		summary.Indexed++
	}
	i.mu.Unlock()

	if i.records != nil && len(added) > 0 {
		if err := i.records.IndexBatch(ctx, added); err != nil {
			i.logger.Warn("Failed to index batch for record search", zap.Error(err))
		}
	}
	if err := i.Commit(ctx); err != nil {
		return summary, err
	}
	i.logger.Info("Batch ingested",
		zap.Int("loaded", summary.Loaded),
		zap.Int("skipped_duplicates", summary.SkippedDuplicates),
		zap.Int("invalid", summary.Invalid),
		zap.Int("indexed", summary.Indexed),
		zap.Int("unindexed", summary.Unindexed))
	return summary, nil
}

// insertLocked stages vec under id. Callers hold i.mu.
func (i *Indexer) insertLocked(id string, vec []float32) error {
	if i.needsRebuild.Load() {
		return ErrRebuildRequired
	}
	if _, err := i.index.Insert(id, vec); err != nil {
		if errors.Is(err, vector.ErrDimensionMismatch) {
			i.needsRebuild.Store(true)
			i.logger.Error("Embedding dimension does not match index, inserts stopped until rebuild", zap.Error(err))
		}
		return err
	}
	return nil
}

// embed returns rec's vector, reusing the cached embedding when the model matches
// and caching a fresh one otherwise.
func (i *Indexer) embed(ctx context.Context, rec *models.IssueRecord) ([]float32, error) {
	model := i.embedder.Model()
	if len(rec.Embedding) > 0 && rec.EmbeddingModel == model && len(rec.Embedding) == i.embedder.Dimensions() {
		return rec.Embedding, nil
	}
	vec, err := i.embedder.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", rec.ID, err)
	}
	rec.Embedding, rec.EmbeddingModel = vec, model
	return vec, nil
}

// embedAll embeds recs concurrently. Records that fail to embed get a nil vector.
// With stored set, recs come from the store and fresh embeddings are cached there.
func (i *Indexer) embedAll(ctx context.Context, recs []*models.IssueRecord, stored bool) [][]float32 {
	vectors := make([][]float32, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.embedWorkers)
	for n, rec := range recs {
		n, rec := n, rec
		g.Go(func() error {
			cached := len(rec.Embedding) > 0 && rec.EmbeddingModel == i.embedder.Model()
			vec, err := i.embed(gctx, rec)
			if err != nil {
				if !errors.Is(err, embedding.ErrEmbedding) {
					return err
				}
				i.logger.Warn("Failed to embed record", zap.String("record_id", rec.ID), zap.Error(err))
				return nil
			}
			vectors[n] = vec
			if stored && !cached {
				if err := i.store.SetEmbedding(gctx, rec.ID, rec.EmbeddingModel, vec); err != nil {
					i.logger.Warn("Failed to cache embedding", zap.String("record_id", rec.ID), zap.Error(err))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		i.logger.Warn("Embedding interrupted", zap.Error(err))
	}
	return vectors
}

func (i *Indexer) indexForSearch(ctx context.Context, rec *models.IssueRecord) {
	if i.records == nil {
		return
	}
	if err := i.records.Index(ctx, rec); err != nil {
		i.logger.Warn("Failed to index record for search", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

// Commit folds staged vectors into the forest. Concurrent calls share one commit;
// a caller that joined a commit already in flight runs one more under its own ctx
// when that commit left vectors staged or was cancelled by its starter.
func (i *Indexer) Commit(ctx context.Context) error {
	_, err, shared := i.commits.Do("commit", func() (any, error) {
		return nil, i.index.Commit(ctx)
	})
	// A joined commit ran under the leader's context and may predate our inserts.
	if shared && ctx.Err() == nil && (isCancellation(err) || (err == nil && i.index.Staged() > 0)) {
		err = i.index.Commit(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// maybeCommit starts a background commit once enough vectors are staged.
func (i *Indexer) maybeCommit() {
	if i.index.Staged() < i.config.StagingLimit || i.bgCtx.Err() != nil {
		return
	}
	i.bg.Add(1)
	go func() {
		defer i.bg.Done()
		if err := i.Commit(i.bgCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				i.logger.Debug("Background commit cancelled")
				return
			}
			i.logger.Error("Background commit failed", zap.Error(err))
		}
	}()
}

// Rebuild embeds every stored record (reusing cached embeddings of the current
// model) and replaces the index with a fresh forest. Writers wait until it finishes.
func (i *Indexer) Rebuild(ctx context.Context) (vector.State, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	recs, err := i.store.All(ctx)
	if err != nil {
		return vector.State{}, fmt.Errorf("failed to list records: %w", err)
	}
	vectors := i.embedAll(ctx, recs, true)
	if err := ctx.Err(); err != nil {
		return vector.State{}, err
	}
	items := make([]vector.Item, 0, len(recs))
	for n, rec := range recs {
		if vectors[n] == nil {
			continue
		}
		items = append(items, vector.Item{ID: rec.ID, Vector: vectors[n]})
	}
	state, err := i.index.Build(ctx, items)
	if err != nil {
		return vector.State{}, fmt.Errorf("failed to build index: %w", err)
	}
	i.needsRebuild.Store(false)

	if i.records != nil {
		if err := i.records.IndexBatch(ctx, recs); err != nil {
			return state, fmt.Errorf("failed to index records for search: %w", err)
		}
	}
	i.logger.Info("Index rebuilt",
		zap.Int("records", len(recs)),
		zap.Int("index_size", state.Size),
		zap.Int("unindexed", len(recs)-len(items)),
		zap.Uint64("generation", state.Generation))
	return state, nil
}

// NeedsRebuild reports whether inserts are stopped until Rebuild runs.
func (i *Indexer) NeedsRebuild() bool {
	return i.needsRebuild.Load()
}

// Status returns record count and index state.
func (i *Indexer) Status(ctx context.Context) (*Status, error) {
	count, err := i.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	st := &Status{
		Records:        count,
		Index:          i.index.State(),
		NeedsRebuild:   i.needsRebuild.Load(),
		EmbeddingModel: i.embedder.Model(),
		Dimensions:     i.embedder.Dimensions(),
	}
	if i.records != nil {
		if n, err := i.records.DocCount(); err == nil {
			st.KeywordDocs = n
		}
	}
	return st, nil
}

// Close cancels any background commit, waits for it, then commits what is still
// staged. Close does not close the store, index or embedder.
func (i *Indexer) Close() error {
	var err error
	i.closeOnce.Do(func() {
		i.bgCancel()
		i.bg.Wait()
		if i.index.Staged() > 0 {
			err = i.Commit(context.Background())
		}
	})
	return err
}
