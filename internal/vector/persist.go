package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	forestFile  = "forest.ann"
	idsFile     = "forest.ids.json"
	forestMagic = "QRAF"
	formatVer   = 1

	kindSplit byte = 0
	kindLeaf  byte = 1
)

// idMapping is the JSON sidecar of the forest file.
type idMapping struct {
	Version    int      `json:"version"`
	Dimension  int      `json:"dimension"`
	Model      string   `json:"model,omitempty"`
	NumTrees   int      `json:"num_trees"`
	Generation uint64   `json:"generation"`
	Count      int      `json:"count"`
	IDs        []string `json:"ids"`
}

type forestHeader struct {
	Dimension  uint32
	Count      uint32
	NumTrees   uint32
	Generation uint64
}

// persist writes the forest then the id mapping, each via temp file, fsync and rename.
func (idx *Index) persist(f *forest, ids []string, gen uint64) error {
	if idx.dir == "" {
		return nil
	}
	if err := os.MkdirAll(idx.dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(idx.dir, forestFile), func(w io.Writer) error {
		return writeForest(w, f, gen)
	}); err != nil {
		return fmt.Errorf("write forest: %w", err)
	}
	mapping := idMapping{
		Version:    formatVer,
		Dimension:  f.dimension,
		Model:      idx.model,
		NumTrees:   len(f.trees),
		Generation: gen,
		Count:      len(ids),
		IDs:        ids,
	}
	if err := writeFileAtomic(filepath.Join(idx.dir, idsFile), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(&mapping)
	}); err != nil {
		return fmt.Errorf("write id mapping: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// writeForest encodes the header, vectors and trees, followed by a CRC32 of all of it.
func writeForest(w io.Writer, f *forest, gen uint64) error {
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)

	if _, err := io.WriteString(mw, forestMagic); err != nil {
		return err
	}
	put := func(v any) error { return binary.Write(mw, binary.LittleEndian, v) }
	if err := put(uint32(formatVer)); err != nil {
		return err
	}
	hdr := forestHeader{
		Dimension:  uint32(f.dimension),
		Count:      uint32(len(f.vectors)),
		NumTrees:   uint32(len(f.trees)),
		Generation: gen,
	}
	if err := put(hdr); err != nil {
		return err
	}
	for _, v := range f.vectors {
		if err := put(v); err != nil {
			return err
		}
	}
	for _, t := range f.trees {
		if err := put(uint32(len(t.nodes))); err != nil {
			return err
		}
		if err := put(t.root); err != nil {
			return err
		}
		for i := range t.nodes {
			if err := writeNode(put, &t.nodes[i]); err != nil {
				return err
			}
		}
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

func writeNode(put func(any) error, n *node) error {
	if n.isLeaf() {
		if err := put(kindLeaf); err != nil {
			return err
		}
		if err := put(uint32(len(n.items))); err != nil {
			return err
		}
		return put(n.items)
	}
	if err := put(kindSplit); err != nil {
		return err
	}
	if err := put([2]int32{n.left, n.right}); err != nil {
		return err
	}
	return put(n.normal)
}

func readForest(data []byte) (*forest, uint64, error) {
	r := bytes.NewReader(data)
	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)
	get := func(v any) error { return binary.Read(tr, binary.LittleEndian, v) }

	magic := make([]byte, len(forestMagic))
	if _, err := io.ReadFull(tr, magic); err != nil {
		return nil, 0, err
	}
	if string(magic) != forestMagic {
		return nil, 0, fmt.Errorf("bad magic %q", magic)
	}
	var ver uint32
	if err := get(&ver); err != nil {
		return nil, 0, err
	}
	if ver != formatVer {
		return nil, 0, fmt.Errorf("unsupported format version %d", ver)
	}
	var hdr forestHeader
	if err := get(&hdr); err != nil {
		return nil, 0, err
	}
	if hdr.Dimension == 0 && hdr.Count > 0 {
		return nil, 0, errors.New("zero dimension")
	}
	// Divide rather than multiply: Count*Dimension*4 can exceed 64 bits.
	remaining := uint64(r.Len())
	if hdr.Dimension > 0 && uint64(hdr.Count) > remaining/(uint64(hdr.Dimension)*4) {
		return nil, 0, errors.New("header sizes exceed file length")
	}
	if uint64(hdr.NumTrees)*8 > remaining {
		return nil, 0, errors.New("header sizes exceed file length")
	}
	dim, count := int(hdr.Dimension), int(hdr.Count)

	f := &forest{dimension: dim, vectors: make([][]float32, count), trees: make([]tree, hdr.NumTrees)}
	for i := range f.vectors {
		v := make([]float32, dim)
		if err := get(v); err != nil {
			return nil, 0, err
		}
		f.vectors[i] = v
	}
	for t := range f.trees {
		var n uint32
		if err := get(&n); err != nil {
			return nil, 0, err
		}
		if err := get(&f.trees[t].root); err != nil {
			return nil, 0, err
		}
		if uint64(n) > 2*uint64(count)+1 || uint64(n)*5 > uint64(r.Len()) {
			return nil, 0, fmt.Errorf("tree %d claims %d nodes", t, n)
		}
		nodes := make([]node, n)
		for i := range nodes {
			if err := readNode(get, &nodes[i], dim, count, int(n), r.Len()); err != nil {
				return nil, 0, err
			}
		}
		if root := f.trees[t].root; root < 0 || int(root) >= len(nodes) {
			return nil, 0, fmt.Errorf("tree %d root %d out of range", t, root)
		}
		f.trees[t].nodes = nodes
	}

	want := crc.Sum32()
	var got uint32
	if err := binary.Read(r, binary.LittleEndian, &got); err != nil {
		return nil, 0, err
	}
	if got != want {
		return nil, 0, fmt.Errorf("checksum mismatch: %08x != %08x", got, want)
	}
	return f, hdr.Generation, nil
}

// readNode decodes one node. remaining bounds allocations by what is left of the file.
func readNode(get func(any) error, n *node, dim, count, numNodes, remaining int) error {
	var kind byte
	if err := get(&kind); err != nil {
		return err
	}
	switch kind {
	case kindLeaf:
		var size uint32
		if err := get(&size); err != nil {
			return err
		}
		if int(size) > count || uint64(size)*4 > uint64(remaining) {
			return fmt.Errorf("leaf of %d items exceeds count %d", size, count)
		}
		n.items = make([]int32, size)
		if err := get(n.items); err != nil {
			return err
		}
		for _, it := range n.items {
			if it < 0 || int(it) >= count {
				return fmt.Errorf("leaf item %d out of range", it)
			}
		}
	case kindSplit:
		var children [2]int32
		if err := get(&children); err != nil {
			return err
		}
		for _, c := range children {
			if c < 0 || int(c) >= numNodes {
				return fmt.Errorf("child %d out of range", c)
			}
		}
		n.left, n.right = children[0], children[1]
		if uint64(dim)*4 > uint64(remaining) {
			return fmt.Errorf("split normal of %d dimensions exceeds file length", dim)
		}
		n.normal = make([]float32, dim)
		if err := get(n.normal); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown node kind %d", kind)
	}
	return nil
}

// Load replaces the index contents with the forest persisted in its directory.
// It returns an error wrapping fs.ErrNotExist when no index was saved, and
// ErrIndexCorrupt when the files are unreadable or disagree with each other. When the
// index has a model, files saved under any other model fail with ErrModelMismatch.
func (idx *Index) Load() error {
	if idx.dir == "" {
		return fmt.Errorf("index has no directory: %w", fs.ErrNotExist)
	}
	idx.commitMu.Lock()
	defer idx.commitMu.Unlock()

	data, err := os.ReadFile(filepath.Join(idx.dir, idsFile))
	if err != nil {
		return fmt.Errorf("read id mapping: %w", err)
	}
	var mapping idMapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("%w: id mapping: %v", ErrIndexCorrupt, err)
	}
	if idx.model != "" && mapping.Model != idx.model {
		return fmt.Errorf("%w: saved %q, embedder is %q", ErrModelMismatch, mapping.Model, idx.model)
	}

	raw, err := os.ReadFile(filepath.Join(idx.dir, forestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: id mapping without forest", ErrIndexCorrupt)
		}
		return fmt.Errorf("read forest: %w", err)
	}
	f, gen, err := readForest(raw)
	if err != nil {
		return fmt.Errorf("%w: forest: %v", ErrIndexCorrupt, err)
	}

	switch {
	case mapping.Version != formatVer:
		return fmt.Errorf("%w: id mapping version %d", ErrIndexCorrupt, mapping.Version)
	case mapping.Count != len(mapping.IDs) || mapping.Count != len(f.vectors):
		return fmt.Errorf("%w: count mismatch (mapping %d, ids %d, forest %d)",
			ErrIndexCorrupt, mapping.Count, len(mapping.IDs), len(f.vectors))
	case mapping.Dimension != f.dimension:
		return fmt.Errorf("%w: dimension mismatch (mapping %d, forest %d)", ErrIndexCorrupt, mapping.Dimension, f.dimension)
	case mapping.Generation != gen:
		return fmt.Errorf("%w: generation mismatch (mapping %d, forest %d)", ErrIndexCorrupt, mapping.Generation, gen)
	case mapping.NumTrees != len(f.trees):
		return fmt.Errorf("%w: tree count mismatch", ErrIndexCorrupt)
	}

	positions := make(map[string]int, len(mapping.IDs))
	for i, id := range mapping.IDs {
		if _, dup := positions[id]; dup {
			return fmt.Errorf("%w: id %s mapped twice", ErrIndexCorrupt, id)
		}
		positions[id] = i
	}
	for _, v := range f.vectors {
		for _, x := range v {
			if math.IsNaN(float64(x)) {
				return fmt.Errorf("%w: NaN in vectors", ErrIndexCorrupt)
			}
		}
	}

	idx.mu.Lock()
	idx.dimension = f.dimension
	idx.ids = mapping.IDs
	idx.positions = positions
	idx.staging = newStaging()
	idx.snap.Store(&snapshot{forest: f, generation: gen})
	idx.mu.Unlock()

	idx.logger.Info("Index loaded",
		zap.String("dir", idx.dir),
		zap.Int("index_size", len(mapping.IDs)),
		zap.Uint64("generation", gen))
	return nil
}
