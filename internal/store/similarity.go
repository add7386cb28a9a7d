package store

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortNeighbors orders candidates by descending similarity; equal scores put
// the earliest published document first, then the smallest id.
func SortNeighbors(ns []Neighbor) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].Similarity != ns[j].Similarity {
			return ns[i].Similarity > ns[j].Similarity
		}
		if !ns[i].PublishedAt.Equal(ns[j].PublishedAt) {
			return ns[i].PublishedAt.Before(ns[j].PublishedAt)
		}
		return ns[i].ID < ns[j].ID
	})
}
