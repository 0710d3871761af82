// Package search finds reference issues for a submitted issue and assembles triage results.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/internal/embedding"
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/internal/storage"
	"github.com/hyperjump/quickref/internal/vector"
	"github.com/hyperjump/quickref/pkg/utils"
)

// Index is the part of the ANN index the finder reads. Query must return each
// neighbour's record id.
type Index interface {
	Query(vec []float32, k int) ([]vector.Neighbor, error)
}

// Finder runs reference lookups: embed, query the index, resolve records, filter.
type Finder struct {
	store    storage.RecordStore
	embedder embedding.Embedder
	index    Index
	config   *config.FinderConfig
	logger   *zap.Logger
}

// FinderOption configures a Finder.
type FinderOption func(*Finder)

// WithLogger sets a logger for lookup diagnostics.
func WithLogger(l *zap.Logger) FinderOption {
	return func(f *Finder) { f.logger = l }
}

// NewFinder creates a finder over the given store, embedder and index.
func NewFinder(
	store storage.RecordStore,
	embedder embedding.Embedder,
	index Index,
	cfg *config.FinderConfig,
	opts ...FinderOption,
) *Finder {
	f := &Finder{
		store:    store,
		embedder: embedder,
		index:    index,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = utils.OrNop(f.logger)
	return f
}

// FindOption adjusts a single lookup.
type FindOption func(*findOptions)

type findOptions struct {
	exclude map[string]struct{}
}

// ExcludeID drops the records with these ids from the matches. Empty ids are ignored.
func ExcludeID(ids ...string) FindOption {
	return func(o *findOptions) {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if o.exclude == nil {
				o.exclude = make(map[string]struct{})
			}
			o.exclude[id] = struct{}{}
		}
	}
}

func (o findOptions) excluded(id string) bool {
	_, ok := o.exclude[id]
	return ok
}

// Find returns up to k records similar to the given text fields with score at or
// above threshold, ordered by descending score, plus the potential assignee.
// On an empty index it returns an empty result together with vector.ErrIndexNotReady.
func (f *Finder) Find(ctx context.Context, fields []models.TextField, k int, threshold float64, opts ...FindOption) (*models.FindResult, error) {
	text := models.EmbeddingText(fields)
	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return f.FindVector(ctx, vec, k, threshold, opts...)
}

// FindVector is Find for an already embedded query.
func (f *Finder) FindVector(ctx context.Context, vec []float32, k int, threshold float64, opts ...FindOption) (*models.FindResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrValidation, k)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be within [0, 1], got %v", models.ErrValidation, threshold)
	}
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}

	result := &models.FindResult{Matches: []*models.Match{}}
	neighbors, err := f.index.Query(vec, f.candidates(k, o))
	if errors.Is(err, vector.ErrIndexNotReady) {
		return result, err
	}
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}
	result.IndexReady = true

	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.ID)
	}
	records, err := f.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched records: %w", err)
	}

	for _, n := range neighbors {
		rec, ok := records[n.ID]
		if !ok {
			f.logger.Warn("Indexed position has no record", zap.Int("position", n.Position), zap.String("record_id", n.ID))
			continue
		}
		score := vector.ScoreFromDistance(n.Distance)
		if score < threshold || o.excluded(rec.ID) {
			continue
		}
		result.Matches = append(result.Matches, &models.Match{
			Record:   rec,
			Score:    score,
			Distance: n.Distance,
			Position: n.Position,
		})
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].Score > result.Matches[j].Score
	})
	if len(result.Matches) > k {
		result.Matches = result.Matches[:k]
	}
	for i, m := range result.Matches {
		m.Rank = i + 1
	}
	result.PotentialAssignee = PotentialAssignee(result.Matches)

	f.logger.Debug("Reference lookup",
		zap.Int("neighbors", len(neighbors)),
		zap.Int("matches", len(result.Matches)),
		zap.Float64("threshold", threshold))
	return result, nil
}

// candidates is the number of neighbours requested from the index: k scaled by the
// overfetch factor so thresholding and self-skip still leave k matches.
func (f *Finder) candidates(k int, o findOptions) int {
	overfetch := 3
	if f.config != nil && f.config.Overfetch > 0 {
		overfetch = f.config.Overfetch
	}
	n := k
	if overfetch*k > n {
		n = overfetch * k
	}
	n += len(o.exclude)
	return n
}
