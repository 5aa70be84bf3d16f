package identity

// gallery is a bounded sliding window of an identity's most recent
// embeddings. Inserting past capacity evicts the oldest member, so the
// gallery tracks appearance drift without unbounded growth.
type gallery struct {
	vectors [][]float64
	size    int
}

func newGallery(size int, seed [][]float64) *gallery {
	g := &gallery{size: size}
	for _, vec := range seed {
		g.insert(vec)
	}
	return g
}

func (g *gallery) insert(vec []float64) {
	if len(vec) == 0 {
		return
	}
	cp := make([]float64, len(vec))
	copy(cp, vec)
	g.vectors = append(g.vectors, cp)
	if g.size > 0 && len(g.vectors) > g.size {
		g.vectors = g.vectors[len(g.vectors)-g.size:]
	}
}

// maxSimilarity returns the best cosine similarity between the probe and any
// gallery member, or -1 for an empty gallery.
func (g *gallery) maxSimilarity(probe []float64) float64 {
	best := -1.0
	for _, vec := range g.vectors {
		if score := Cosine(probe, vec); score > best {
			best = score
		}
	}
	return best
}

func (g *gallery) snapshot() [][]float64 {
	out := make([][]float64, len(g.vectors))
	for i, vec := range g.vectors {
		cp := make([]float64, len(vec))
		copy(cp, vec)
		out[i] = cp
	}
	return out
}
