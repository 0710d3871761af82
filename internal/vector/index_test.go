package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/pkg/utils"
)

func testConfig() config.IndexConfig {
	return config.IndexConfig{NumTrees: 10, Seed: 42, StagingLimit: 256}
}

func randomItems(n, dim int, seed int64) []Item {
	rng := rand.New(rand.NewSource(seed))
	items := make([]Item, n)
	for i := range items {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		items[i] = Item{ID: fmt.Sprintf("rec-%04d", i), Vector: v}
	}
	return items
}

func bruteForce(items []Item, q []float32, k int) []Neighbor {
	nq := utils.NormalizedCopy(q)
	out := make([]Neighbor, len(items))
	for i, it := range items {
		out[i] = Neighbor{ID: it.ID, Position: i, Distance: AngularDistance(nq, utils.NormalizedCopy(it.Vector))}
	}
	sortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func positions(ns []Neighbor) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Position
	}
	return out
}

func TestIndex_QueryEmpty(t *testing.T) {
	idx := NewIndex(t.TempDir(), testConfig(), 3)
	_, err := idx.Query([]float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrIndexNotReady)
	assert.False(t, idx.State().Built)
}

func TestIndex_InsertVisibleBeforeCommit(t *testing.T) {
	idx := NewIndex(t.TempDir(), testConfig(), 3)

	pos, err := idx.Insert("a", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	pos, err = idx.Insert("b", []float32{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	got, err := idx.Query([]float32{2, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Position)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 1, got[1].Position)
	assert.Equal(t, "b", got[1].ID)

	st := idx.State()
	assert.False(t, st.Built)
	assert.Equal(t, 2, st.Staged)
	assert.Equal(t, 0, st.Size)
}

func TestIndex_InsertRejects(t *testing.T) {
	idx := NewIndex("", testConfig(), 3)
	_, err := idx.Insert("a", []float32{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Insert("a", []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = idx.Insert("a", []float32{0, 1, 0})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = idx.Query([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Size())
}

func TestIndex_CommitGrowsIndex(t *testing.T) {
	ctx := context.Background()
	items := randomItems(40, 8, 1)
	idx := NewIndex(t.TempDir(), testConfig(), 8)
	_, err := idx.Build(ctx, items[:30])
	require.NoError(t, err)
	before := idx.State()
	assert.Equal(t, 30, before.Size)

	for i, it := range items[30:] {
		pos, err := idx.Insert(it.ID, it.Vector)
		require.NoError(t, err)
		assert.Equal(t, 30+i, pos)
	}
	require.NoError(t, idx.Commit(ctx))

	after := idx.State()
	assert.Equal(t, 40, after.Size)
	assert.Equal(t, 0, after.Staged)
	assert.Equal(t, before.Generation+1, after.Generation)
	for i, it := range items {
		id, ok := idx.PositionToID(i)
		require.True(t, ok)
		assert.Equal(t, it.ID, id)
		pos, ok := idx.IDToPosition(it.ID)
		require.True(t, ok)
		assert.Equal(t, i, pos)
	}
	_, ok := idx.PositionToID(40)
	assert.False(t, ok)
}

func TestIndex_CommitWithNothingStaged(t *testing.T) {
	idx := NewIndex(t.TempDir(), testConfig(), 4)
	require.NoError(t, idx.Commit(context.Background()))
	assert.Equal(t, uint64(0), idx.State().Generation)
}

func TestIndex_MatchesBruteForce(t *testing.T) {
	items := randomItems(300, 16, 7)
	idx := NewIndex("", testConfig(), 16)
	_, err := idx.Build(context.Background(), items)
	require.NoError(t, err)

	queries := randomItems(10, 16, 99)
	for _, q := range queries {
		got, err := idx.Query(q.Vector, 5)
		require.NoError(t, err)
		// search_k of num_trees*k*8 covers every point at this size, so the result is exact.
		want := bruteForce(items, q.Vector, 5)
		assert.Equal(t, positions(want), positions(got))
		for i := range got {
			assert.Equal(t, want[i].ID, got[i].ID)
		}
	}
}

func TestIndex_SelfQueryLargeForest(t *testing.T) {
	items := randomItems(1000, 12, 3)
	idx := NewIndex("", testConfig(), 12)
	_, err := idx.Build(context.Background(), items)
	require.NoError(t, err)

	for i := 0; i < len(items); i += 50 {
		got, err := idx.Query(items[i].Vector, 5)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, i, got[0].Position)
		assert.InDelta(t, 0, got[0].Distance, 1e-3)
		assert.True(t, sort.SliceIsSorted(got, func(a, b int) bool { return got[a].Distance < got[b].Distance }))
	}
}

func TestIndex_TiesBrokenByPosition(t *testing.T) {
	idx := NewIndex("", testConfig(), 2)
	_, err := idx.Build(context.Background(), []Item{
		{ID: "x", Vector: []float32{0, 1}},
		{ID: "a", Vector: []float32{1, 0}},
	})
	require.NoError(t, err)
	_, err = idx.Insert("b", []float32{2, 0})
	require.NoError(t, err)

	got, err := idx.Query([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, positions(got))
}

func TestIndex_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	items := randomItems(120, 8, 11)

	idx := NewIndex(dir, testConfig(), 8)
	_, err := idx.Build(ctx, items[:100])
	require.NoError(t, err)
	for _, it := range items[100:] {
		_, err := idx.Insert(it.ID, it.Vector)
		require.NoError(t, err)
	}
	require.NoError(t, idx.Commit(ctx))

	reloaded, err := Open(dir, testConfig(), 8)
	require.NoError(t, err)
	assert.Equal(t, idx.State(), reloaded.State())

	for _, q := range randomItems(5, 8, 5) {
		want, err := idx.Query(q.Vector, 7)
		require.NoError(t, err)
		got, err := reloaded.Query(q.Vector, 7)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	id, ok := reloaded.PositionToID(110)
	require.True(t, ok)
	assert.Equal(t, items[110].ID, id)
}

func TestOpen_Missing(t *testing.T) {
	idx, err := Open(t.TempDir(), testConfig(), 4)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	require.NotNil(t, idx)
	assert.Equal(t, 0, idx.Size())
}

func TestOpen_DimensionChanged(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndex(dir, testConfig(), 4)
	_, err := idx.Build(context.Background(), randomItems(5, 4, 1))
	require.NoError(t, err)

	fresh, err := Open(dir, testConfig(), 6)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, fresh.Size())
	assert.Equal(t, 6, fresh.Dimension())
}

func TestOpen_ModelChanged(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndex(dir, testConfig(), 4, WithModel("all-MiniLM-L6-v2"))
	_, err := idx.Build(context.Background(), randomItems(5, 4, 1))
	require.NoError(t, err)

	same, err := Open(dir, testConfig(), 4, WithModel("all-MiniLM-L6-v2"))
	require.NoError(t, err)
	assert.Equal(t, 5, same.Size())

	fresh, err := Open(dir, testConfig(), 4, WithModel("feature-hashing-v1"))
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.Equal(t, 0, fresh.Size())

	// The fresh index saves its own model on the next build.
	_, err = fresh.Build(context.Background(), randomItems(3, 4, 2))
	require.NoError(t, err)
	reopened, err := Open(dir, testConfig(), 4, WithModel("feature-hashing-v1"))
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Size())
}

func TestOpen_UnlabelledIndexNeedsRebuild(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndex(dir, testConfig(), 4)
	_, err := idx.Build(context.Background(), randomItems(5, 4, 1))
	require.NoError(t, err)

	_, err = Open(dir, testConfig(), 4, WithModel("feature-hashing-v1"))
	assert.ErrorIs(t, err, ErrModelMismatch)
}

func TestReadForest_HugeHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(forestMagic)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(formatVer)))
	hdr := forestHeader{Dimension: math.MaxUint32, Count: math.MaxUint32, NumTrees: 1}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))
	buf.Write(make([]byte, 64))

	_, _, err := readForest(buf.Bytes())
	assert.ErrorContains(t, err, "exceed file length")

	// A tree whose split node claims a normal longer than the file.
	buf.Reset()
	buf.WriteString(forestMagic)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(formatVer)))
	hdr = forestHeader{Dimension: 1 << 30, Count: 0, NumTrees: 1}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(1)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, int32(0)))
	buf.WriteByte(kindSplit)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, [2]int32{0, 0}))
	buf.Write(make([]byte, 16))

	_, _, err = readForest(buf.Bytes())
	assert.ErrorContains(t, err, "exceeds file length")
}

func TestOpen_CorruptFiles(t *testing.T) {
	build := func(t *testing.T) string {
		dir := t.TempDir()
		idx := NewIndex(dir, testConfig(), 4)
		_, err := idx.Build(context.Background(), randomItems(20, 4, 2))
		require.NoError(t, err)
		return dir
	}

	t.Run("flipped byte", func(t *testing.T) {
		dir := build(t)
		path := filepath.Join(dir, forestFile)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[len(data)/2] ^= 0xff
		require.NoError(t, os.WriteFile(path, data, 0644))

		_, err = Open(dir, testConfig(), 4)
		assert.ErrorIs(t, err, ErrIndexCorrupt)
	})

	t.Run("truncated forest", func(t *testing.T) {
		dir := build(t)
		path := filepath.Join(dir, forestFile)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0644))

		_, err = Open(dir, testConfig(), 4)
		assert.ErrorIs(t, err, ErrIndexCorrupt)
	})

	t.Run("mapping disagrees", func(t *testing.T) {
		dir := build(t)
		other := NewIndex(t.TempDir(), testConfig(), 4)
		_, err := other.Build(context.Background(), randomItems(7, 4, 3))
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(other.dir, idsFile))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, idsFile), data, 0644))

		_, err = Open(dir, testConfig(), 4)
		assert.ErrorIs(t, err, ErrIndexCorrupt)
	})
}

func TestIndex_CancelledCommitKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	items := randomItems(50, 8, 4)
	idx := NewIndex(dir, testConfig(), 8)
	_, err := idx.Build(context.Background(), items[:40])
	require.NoError(t, err)
	before := idx.State()

	for _, it := range items[40:] {
		_, err := idx.Insert(it.ID, it.Vector)
		require.NoError(t, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = idx.Commit(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	st := idx.State()
	assert.Equal(t, before.Generation, st.Generation)
	assert.Equal(t, 40, st.Size)
	assert.Equal(t, 10, st.Staged)

	// Staged vectors still answer queries exactly.
	got, err := idx.Query(items[45].Vector, 1)
	require.NoError(t, err)
	assert.Equal(t, 45, got[0].Position)

	// The persisted files still describe the previous generation.
	reloaded, err := Open(dir, testConfig(), 8)
	require.NoError(t, err)
	assert.Equal(t, before.Generation, reloaded.State().Generation)

	require.NoError(t, idx.Commit(context.Background()))
	assert.Equal(t, 50, idx.State().Size)
}

func TestIndex_ConcurrentQueryCommitAndBuild(t *testing.T) {
	const dim = 8
	items := randomItems(120, dim, 9)
	vectors := make(map[string][]float32, len(items))
	for _, it := range items {
		vectors[it.ID] = utils.NormalizedCopy(it.Vector)
	}
	idx := NewIndex("", config.IndexConfig{NumTrees: 4, Seed: 3}, dim)
	_, err := idx.Build(context.Background(), items[:40])
	require.NoError(t, err)

	// Rebuild orders that move every id to another position.
	reversed := make([]Item, 40)
	for i := range reversed {
		reversed[i] = items[39-i]
	}
	rotated := append(append([]Item(nil), items[20:40]...), items[:20]...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for round := 0; round < 6; round++ {
			order := reversed
			if round%2 == 1 {
				order = rotated
			}
			if _, err := idx.Build(ctx, order); err != nil {
				t.Errorf("Build: %v", err)
				return
			}
			for _, it := range items[40+round*10 : 50+round*10] {
				if _, err := idx.Insert(it.ID, it.Vector); err != nil {
					t.Errorf("Insert: %v", err)
					return
				}
			}
			if err := idx.Commit(ctx); err != nil {
				t.Errorf("Commit: %v", err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < 150; i++ {
				q := utils.NormalizedCopy(items[(r*31+i)%40].Vector)
				ns, err := idx.Query(q, 5)
				if err != nil {
					t.Errorf("Query: %v", err)
					return
				}
				for _, n := range ns {
					v, ok := vectors[n.ID]
					if !ok {
						t.Errorf("neighbour at position %d has unknown id %q", n.Position, n.ID)
						continue
					}
					if d := AngularDistance(q, v); math.Abs(d-n.Distance) > 1e-5 {
						t.Errorf("neighbour %s: distance %v does not match its vector (%v)", n.ID, n.Distance, d)
					}
				}
			}
		}(r)
	}
	wg.Wait()
}

func TestScoreFromDistance(t *testing.T) {
	assert.InDelta(t, 1.0, ScoreFromDistance(0), 1e-9)
	assert.InDelta(t, 0.5, ScoreFromDistance(AngularDistance([]float32{1, 0}, []float32{0.5, 0.8660254})), 1e-6)
	assert.InDelta(t, 1-0.70710678, ScoreFromDistance(AngularDistance([]float32{1, 0}, []float32{0, 1})), 1e-6)
	assert.Equal(t, 0.0, ScoreFromDistance(2))
	assert.Equal(t, 0.0, ScoreFromDistance(3))
	assert.InDelta(t, 0.4, ScoreFromDistance(DistanceForScore(0.4)), 1e-12)
}
