// Package store persists cameras, tracklets, observations, identities, and
// associations in SQLite and is the durable substrate the job coordinator
// shares.
//
// Cross-references between tracklets, identities, and associations are cyclic,
// so rows hold opaque ids looked up through the store rather than live
// pointers. Associations are append-only: a merge decision is never edited,
// only superseded by a later row. Identities are never deleted; idle ones are
// flipped inactive so the resolver stops considering them.
//
// Treat this package as the single source of truth for schema semantics; when
// you add tables or columns, update schema.sql and bump schemaVersion.
package store
