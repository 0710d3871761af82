// Package vector provides the ANN index: a persisted random-projection forest over
// issue embeddings plus an exact staging buffer for vectors inserted since the
// last commit.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/pkg/utils"
)

var (
	// ErrDimensionMismatch is returned when a vector length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrIndexNotReady is returned by Query when nothing has been indexed.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrDuplicateID is returned when inserting an id that is already mapped.
	ErrDuplicateID = errors.New("id already indexed")
	// ErrIndexCorrupt is returned by Load when persisted files are unreadable or disagree.
	ErrIndexCorrupt = errors.New("index files corrupt or inconsistent")
	// ErrModelMismatch is returned by Load when the saved vectors came from another embedding model.
	ErrModelMismatch = errors.New("index built with a different embedding model")
)

// Neighbor is one query hit. ID is resolved under the same lock as the search, so
// it always belongs to the vector the distance was measured against.
type Neighbor struct {
	ID       string  `json:"id"`
	Position int     `json:"position"`
	Distance float64 `json:"distance"`
}

// Item is an id and its embedding, as passed to Build.
type Item struct {
	ID     string
	Vector []float32
}

// State describes the index.
type State struct {
	Dimension  int    `json:"dimension"`
	NumTrees   int    `json:"num_trees"`
	Built      bool   `json:"built"`
	Size       int    `json:"size"`
	Staged     int    `json:"staged"`
	Generation uint64 `json:"generation"`
}

// snapshot is an immutable committed forest. Queries load it through an atomic pointer.
type snapshot struct {
	forest     *forest
	generation uint64
}

func (s *snapshot) size() int {
	if s == nil || s.forest == nil {
		return 0
	}
	return len(s.forest.vectors)
}

// Index is a two-tier ANN index. Positions are assigned in insertion order and never
// reused; positions below the committed size live in the forest, the rest in staging.
type Index struct {
	dir       string
	cfg       config.IndexConfig
	dimension int
	model     string
	logger    *zap.Logger

	snap atomic.Pointer[snapshot]

	mu        sync.RWMutex // guards ids, positions, staging and dimension
	ids       []string
	positions map[string]int
	staging   *staging

	commitMu sync.Mutex // one build or commit at a time
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithLogger sets a logger for build and commit events.
func WithLogger(l *zap.Logger) IndexOption {
	return func(idx *Index) { idx.logger = l }
}

// WithModel records the embedding model that produces the vectors. It is saved with
// the index, and Load refuses files written under another model.
func WithModel(name string) IndexOption {
	return func(idx *Index) { idx.model = name }
}

// NewIndex returns an empty index persisted under dir. dimension may be 0, in which
// case the first Build or Insert fixes it. An empty dir keeps the index in memory.
func NewIndex(dir string, cfg config.IndexConfig, dimension int, opts ...IndexOption) *Index {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = 50
	}
	idx := &Index{
		dir:       dir,
		cfg:       cfg,
		dimension: dimension,
		positions: make(map[string]int),
		staging:   newStaging(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// Build replaces the index contents with a fresh forest over items and persists it.
// Positions follow the order of items.
func (idx *Index) Build(ctx context.Context, items []Item) (State, error) {
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()

	dim := idx.Dimension()
	if len(items) > 0 {
		dim = len(items[0].Vector)
	}
	ids := make([]string, len(items))
	positions := make(map[string]int, len(items))
	vectors := make([][]float32, len(items))
	for i, it := range items {
		if len(it.Vector) != dim || dim == 0 {
			return State{}, fmt.Errorf("%w: item %s has %d dimensions, expected %d", ErrDimensionMismatch, it.ID, len(it.Vector), dim)
		}
		if _, dup := positions[it.ID]; dup {
			return State{}, fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
		}
		ids[i] = it.ID
		positions[it.ID] = i
		vectors[i] = utils.NormalizedCopy(it.Vector)
	}

	gen := idx.generation() + 1
	f, err := buildForest(ctx, vectors, dim, idx.numTrees(), idx.leafSize(dim), idx.cfg.Seed)
	if err != nil {
		return State{}, err
	}
	if err := idx.persist(f, ids, gen); err != nil {
		return State{}, err
	}

	idx.mu.Lock()
	idx.dimension = dim
	idx.ids = ids
	idx.positions = positions
	idx.staging = newStaging()
	idx.snap.Store(&snapshot{forest: f, generation: gen})
	idx.mu.Unlock()

	idx.logger.Info("Index built", zap.Int("index_size", len(ids)), zap.Int("dimensions", dim), zap.Uint64("generation", gen))
	return idx.State(), nil
}

// Insert appends vector into the staging buffer and returns its position.
// The vector is searchable immediately and folded into the forest by the next Commit.
func (idx *Index) Insert(id string, vector []float32) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.dimension == 0 {
		idx.dimension = len(vector)
	}
	if len(vector) != idx.dimension || len(vector) == 0 {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vector), idx.dimension)
	}
	if _, dup := idx.positions[id]; dup {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	pos := len(idx.ids)
	idx.ids = append(idx.ids, id)
	idx.positions[id] = pos
	idx.staging.add(pos, utils.NormalizedCopy(vector))
	return pos, nil
}

// Commit folds staged vectors into a new forest, persists it, and swaps it in. When
// ctx is cancelled the build is discarded and the previous snapshot keeps serving.
// Vectors inserted while a commit runs stay staged for the next one.
func (idx *Index) Commit(ctx context.Context) error {
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()

	idx.mu.RLock()
	cur := idx.snap.Load()
	staged := idx.staging.vectorsCopy()
	ids := append([]string(nil), idx.ids[:cur.size()+len(staged)]...)
	dim := idx.dimension
	idx.mu.RUnlock()

	if len(staged) == 0 {
		return nil
	}

	vectors := make([][]float32, 0, len(ids))
	if cur.size() > 0 {
		vectors = append(vectors, cur.forest.vectors...)
	}
	vectors = append(vectors, staged...)

	gen := cur.generationOrZero() + 1
	f, err := buildForest(ctx, vectors, dim, idx.numTrees(), idx.leafSize(dim), idx.cfg.Seed+int64(gen))
	if err != nil {
		return fmt.Errorf("commit cancelled or failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit cancelled: %w", err)
	}
	if err := idx.persist(f, ids, gen); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.staging.drop(len(staged))
	idx.snap.Store(&snapshot{forest: f, generation: gen})
	idx.mu.Unlock()

	idx.logger.Debug("Index committed",
		zap.Int("committed", len(staged)),
		zap.Int("index_size", len(vectors)),
		zap.Uint64("generation", gen))
	return nil
}

func (s *snapshot) generationOrZero() uint64 {
	if s == nil {
		return 0
	}
	return s.generation
}

// Query returns up to k neighbours of vector by ascending angular distance, ties
// broken by smaller position. The forest is searched approximately, staging exactly.
func (idx *Index) Query(vector []float32, k int) ([]Neighbor, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.ids) == 0 {
		return nil, ErrIndexNotReady
	}
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(vector), idx.dimension)
	}
	if k <= 0 {
		return nil, nil
	}
	q := utils.NormalizedCopy(vector)

	var out []Neighbor
	if cur := idx.snap.Load(); cur.size() > 0 {
		out = cur.forest.search(q, k, idx.searchK(k))
	}
	out = append(out, idx.staging.search(q, k)...)
	sortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].ID = idx.ids[out[i].Position]
	}
	return out, nil
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].Position < ns[j].Position
	})
}

// PositionToID resolves a position to its record id.
func (idx *Index) PositionToID(pos int) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if pos < 0 || pos >= len(idx.ids) {
		return "", false
	}
	return idx.ids[pos], true
}

// IDToPosition resolves a record id to its position.
func (idx *Index) IDToPosition(id string) (int, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.positions[id]
	return pos, ok
}

// Contains reports whether id has a position, committed or staged.
func (idx *Index) Contains(id string) bool {
	_, ok := idx.IDToPosition(id)
	return ok
}

// State returns a description of the index.
func (idx *Index) State() State {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	cur := idx.snap.Load()
	return State{
		Dimension:  idx.dimension,
		NumTrees:   idx.numTrees(),
		Built:      cur.size() > 0,
		Size:       cur.size(),
		Staged:     idx.staging.len(),
		Generation: cur.generationOrZero(),
	}
}

// Size returns the number of mapped positions, committed and staged.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Staged returns the number of vectors waiting for a commit.
func (idx *Index) Staged() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.staging.len()
}

// Dimension returns the fixed vector length, or 0 before the first build or insert.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Close is a no-op; committed state is already on disk.
func (idx *Index) Close() error {
	return nil
}

func (idx *Index) generation() uint64 {
	return idx.snap.Load().generationOrZero()
}

func (idx *Index) numTrees() int {
	return idx.cfg.NumTrees
}

func (idx *Index) leafSize(dim int) int {
	if idx.cfg.LeafSize > 0 {
		return idx.cfg.LeafSize
	}
	return defaultLeafSize(dim)
}

func (idx *Index) searchK(k int) int {
	if idx.cfg.SearchK > 0 {
		return idx.cfg.SearchK
	}
	return idx.numTrees() * k * 8
}
