package identity

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 0}, b: []float64{1, 0}, want: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "opposite", a: []float64{1, 0}, b: []float64{-1, 0}, want: -1},
		{name: "scale invariant", a: []float64{2, 2}, b: []float64{5, 5}, want: 1},
		{name: "empty", a: nil, b: []float64{1}, want: -1},
		{name: "mismatched length", a: []float64{1, 2}, b: []float64{1}, want: -1},
		{name: "zero norm", a: []float64{0, 0}, b: []float64{1, 1}, want: -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Cosine(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestGalleryEvictsOldest(t *testing.T) {
	g := newGallery(2, nil)
	g.insert([]float64{1, 0})
	g.insert([]float64{0, 1})
	g.insert([]float64{-1, 0})

	// The first vector was evicted, so its exact match no longer scores 1.
	if score := g.maxSimilarity([]float64{1, 0}); score >= 1-1e-9 {
		t.Fatalf("expected oldest member evicted, max similarity %v", score)
	}
	if score := g.maxSimilarity([]float64{0, 1}); math.Abs(score-1) > 1e-9 {
		t.Fatalf("expected retained member to match, got %v", score)
	}
	if got := len(g.snapshot()); got != 2 {
		t.Fatalf("expected bounded gallery of 2, got %d", got)
	}
}
