package vector

import "math"

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// AngularDistance returns sqrt(2 - 2cos) for two L2-normalized vectors, in [0, 2].
func AngularDistance(a, b []float32) float64 {
	return math.Sqrt(math.Max(0, 2-2*InnerProduct(a, b)))
}

// ScoreFromDistance maps an angular distance to a similarity score in [0, 1]:
// identical vectors score 1, orthogonal ones about 0.29, opposite ones 0.
func ScoreFromDistance(d float64) float64 {
	return math.Max(0, math.Min(1, 1-d/2))
}

// DistanceForScore is the inverse of ScoreFromDistance for s in [0, 1].
func DistanceForScore(s float64) float64 {
	return 2 * (1 - math.Max(0, math.Min(1, s)))
}
