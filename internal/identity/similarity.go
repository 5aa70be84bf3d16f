package identity

import "math"

// Cosine returns the cosine similarity of two embedding vectors, or -1 when
// either vector is empty, mismatched in length, or has zero norm. -1 sorts
// below any real similarity so degenerate vectors never win a merge.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom <= 0 {
		return -1
	}
	return dot / denom
}
