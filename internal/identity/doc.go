// Package identity resolves per-camera tracklets to global identities.
//
// Three strategies exist: forced (operator-known subject, always confirmed,
// merges across all cameras), isolated (deterministic per-camera identity, no
// cross-camera merge), and auto (cosine similarity of the tracklet's first
// embedding against bounded galleries of recent embeddings per active
// identity). Every decision lands in the associations audit trail with its
// confidence, win margin, and strategy so false merges can be diagnosed after
// the fact.
package identity
