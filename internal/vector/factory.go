package vector

import (
	"fmt"

	"github.com/hyperjump/quickref/internal/config"
)

// Open returns the index persisted in dir. When nothing was saved, the saved files
// are unusable, or they were written for another dimension or model (see WithModel),
// it returns an empty index together with the reason, and the caller rebuilds from
// the record store.
func Open(dir string, cfg config.IndexConfig, dimension int, opts ...IndexOption) (*Index, error) {
	idx := NewIndex(dir, cfg, dimension, opts...)
	if err := idx.Load(); err != nil {
		return NewIndex(dir, cfg, dimension, opts...), err
	}
	if dimension > 0 && idx.Dimension() > 0 && idx.Dimension() != dimension {
		got := idx.Dimension()
		return NewIndex(dir, cfg, dimension, opts...),
			fmt.Errorf("%w: persisted index has %d dimensions, embedder produces %d", ErrDimensionMismatch, got, dimension)
	}
	return idx, nil
}
