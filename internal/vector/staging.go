package vector

// staging holds vectors inserted since the last commit and searches them by brute
// force. Callers synchronize through Index.mu.
type staging struct {
	positions []int
	vectors   [][]float32
}

func newStaging() *staging {
	return &staging{}
}

func (s *staging) add(pos int, vec []float32) {
	s.positions = append(s.positions, pos)
	s.vectors = append(s.vectors, vec)
}

func (s *staging) len() int {
	return len(s.vectors)
}

// vectorsCopy returns the staged vectors in position order. The vectors themselves
// are never mutated after insertion, so only the slice header is copied.
func (s *staging) vectorsCopy() [][]float32 {
	return append([][]float32(nil), s.vectors...)
}

// drop removes the n oldest entries after they were committed.
func (s *staging) drop(n int) {
	if n >= len(s.vectors) {
		s.positions = nil
		s.vectors = nil
		return
	}
	s.positions = append([]int(nil), s.positions[n:]...)
	s.vectors = append([][]float32(nil), s.vectors[n:]...)
}

// search returns the k nearest staged vectors to the normalized query q.
func (s *staging) search(q []float32, k int) []Neighbor {
	if k <= 0 || len(s.vectors) == 0 {
		return nil
	}
	out := make([]Neighbor, len(s.vectors))
	for i, vec := range s.vectors {
		out[i] = Neighbor{Position: s.positions[i], Distance: AngularDistance(q, vec)}
	}
	sortNeighbors(out)
	if k < len(out) {
		out = out[:k]
	}
	return out
}
