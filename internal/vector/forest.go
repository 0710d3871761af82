package vector

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/quickref/pkg/utils"
)

const twoMeansIterations = 200

// node is either a split (normal set, children in left/right) or a leaf (items set).
type node struct {
	normal      []float32
	left, right int32
	items       []int32
}

func (n *node) isLeaf() bool { return n.normal == nil }

type tree struct {
	nodes []node
	root  int32
}

// forest is an immutable set of random-projection trees over normalized vectors.
type forest struct {
	dimension int
	vectors   [][]float32
	trees     []tree
}

func defaultLeafSize(dim int) int {
	n := dim + 2
	if n < 8 {
		n = 8
	}
	if n > 128 {
		n = 128
	}
	return n
}

// buildForest builds numTrees trees in parallel. Tree i uses seed+i, so the same
// vectors and seed always give the same forest.
func buildForest(ctx context.Context, vectors [][]float32, dim, numTrees, leafSize int, seed int64) (*forest, error) {
	f := &forest{dimension: dim, vectors: vectors, trees: make([]tree, numTrees)}
	if len(vectors) == 0 {
		f.trees = nil
		return f, nil
	}

	items := make([]int32, len(vectors))
	for i := range items {
		items[i] = int32(i)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < numTrees; t++ {
		t := t
		g.Go(func() error {
			b := &treeBuilder{
				ctx:      ctx,
				vectors:  vectors,
				dim:      dim,
				leafSize: leafSize,
				rng:      rand.New(rand.NewSource(seed + int64(t))),
			}
			root, err := b.build(append([]int32(nil), items...))
			if err != nil {
				return err
			}
			f.trees[t] = tree{nodes: b.nodes, root: root}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

type treeBuilder struct {
	ctx      context.Context
	vectors  [][]float32
	dim      int
	leafSize int
	rng      *rand.Rand
	nodes    []node
}

func (b *treeBuilder) build(items []int32) (int32, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if len(items) <= b.leafSize {
		b.nodes = append(b.nodes, node{items: items})
		return int32(len(b.nodes) - 1), nil
	}

	normal := b.twoMeans(items)
	var left, right []int32
	for _, it := range items {
		if margin(normal, b.vectors[it]) > 0 {
			right = append(right, it)
		} else {
			left = append(left, it)
		}
	}
	// Identical or degenerate points: split at random with a zero normal so
	// queries explore both sides equally.
	if len(left) == 0 || len(right) == 0 {
		for i := range normal {
			normal[i] = 0
		}
		b.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		half := len(items) / 2
		left = append([]int32(nil), items[:half]...)
		right = append([]int32(nil), items[half:]...)
	}

	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{normal: normal})
	l, err := b.build(left)
	if err != nil {
		return 0, err
	}
	r, err := b.build(right)
	if err != nil {
		return 0, err
	}
	b.nodes[self].left = l
	b.nodes[self].right = r
	return self, nil
}

// twoMeans picks two centroids from random samples of items and returns the
// normalized direction between them.
func (b *treeBuilder) twoMeans(items []int32) []float32 {
	i := b.rng.Intn(len(items))
	j := b.rng.Intn(len(items) - 1)
	if j >= i {
		j++
	}
	p := append([]float32(nil), b.vectors[items[i]]...)
	q := append([]float32(nil), b.vectors[items[j]]...)
	pc, qc := 1.0, 1.0

	for iter := 0; iter < twoMeansIterations; iter++ {
		v := b.vectors[items[b.rng.Intn(len(items))]]
		dp := pc * squaredDistance(p, v)
		dq := qc * squaredDistance(q, v)
		if dp < dq {
			moveCentroid(p, v, pc)
			pc++
		} else if dq < dp {
			moveCentroid(q, v, qc)
			qc++
		}
	}

	normal := make([]float32, b.dim)
	for d := range normal {
		normal[d] = p[d] - q[d]
	}
	utils.NormalizeL2(normal)
	return normal
}

// moveCentroid folds v into the running mean c of n points and renormalizes.
func moveCentroid(c, v []float32, n float64) {
	for d := range c {
		c[d] = float32((float64(c[d])*n + float64(v[d])) / (n + 1))
	}
	utils.NormalizeL2(c)
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func margin(normal, v []float32) float64 {
	return InnerProduct(normal, v)
}

// search visits nodes across all trees in order of best margin until searchK
// candidates are collected, then ranks candidates by exact distance.
func (f *forest) search(q []float32, k, searchK int) []Neighbor {
	if len(f.vectors) == 0 || k <= 0 {
		return nil
	}
	if searchK < k {
		searchK = k
	}

	pq := make(nodeQueue, 0, len(f.trees))
	for t := range f.trees {
		pq = append(pq, queued{priority: math.Inf(1), tree: t, node: f.trees[t].root})
	}
	heap.Init(&pq)

	seen := make(map[int32]struct{}, searchK)
	for pq.Len() > 0 && len(seen) < searchK {
		top := heap.Pop(&pq).(queued)
		n := &f.trees[top.tree].nodes[top.node]
		if n.isLeaf() {
			for _, it := range n.items {
				seen[it] = struct{}{}
			}
			continue
		}
		m := margin(n.normal, q)
		heap.Push(&pq, queued{priority: math.Min(top.priority, m), tree: top.tree, node: n.right})
		heap.Push(&pq, queued{priority: math.Min(top.priority, -m), tree: top.tree, node: n.left})
	}

	out := make([]Neighbor, 0, len(seen))
	for it := range seen {
		out = append(out, Neighbor{Position: int(it), Distance: AngularDistance(q, f.vectors[it])})
	}
	sortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

type queued struct {
	priority float64
	tree     int
	node     int32
}

// nodeQueue is a max-heap on priority.
type nodeQueue []queued

func (q nodeQueue) Len() int            { return len(q) }
func (q nodeQueue) Less(i, j int) bool  { return q[i].priority > q[j].priority }
func (q nodeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x interface{}) { *q = append(*q, x.(queued)) }
func (q *nodeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
