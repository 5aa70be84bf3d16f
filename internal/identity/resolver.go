package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"corral/internal/config"
	"corral/internal/logging"
	"corral/internal/store"
)

// Strategy names recorded on associations.
const (
	StrategyForced   = "forced"
	StrategyIsolated = "isolated"
	StrategyAuto     = "auto"
)

// Params configures a resolver instance.
type Params struct {
	Mode                string
	SimilarityThreshold float64
	GallerySize         int
	TieEpsilon          float64
	FallbackSubjectID   string
	IdentityIdleAfter   time.Duration
}

// ParamsFromConfig maps the resolver config section into Params.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Mode:                cfg.Resolver.Mode,
		SimilarityThreshold: cfg.Resolver.SimilarityThreshold,
		GallerySize:         cfg.Resolver.GallerySize,
		TieEpsilon:          cfg.Resolver.TieEpsilon,
		FallbackSubjectID:   cfg.Resolver.FallbackSubjectID,
		IdentityIdleAfter:   time.Duration(cfg.Resolver.IdentityIdleSeconds) * time.Second,
	}
}

// Sample is the first usable signal from a tracklet: its camera-local origin
// plus the earliest embedding the tracker produced, if any.
type Sample struct {
	TrackletID   string
	CameraID     string
	LocalTrackID int64
	SubjectID    string
	Embedding    []float64
	Confidence   float64
	ObservedAt   time.Time
}

// Decision reports how a tracklet was mapped to a global identity.
type Decision struct {
	IdentityID    string
	Confidence    float64
	WinMargin     float64
	Strategy      string
	Created       bool
	LowConfidence bool
}

type candidate struct {
	id       string
	score    float64
	lastSeen time.Time
}

// Resolver maintains the tracklet-to-global-identity mapping. One resolver
// instance owns the identity galleries for its store; construct it explicitly
// and hand it to every ingest worker rather than sharing process globals, so
// differently configured resolvers can coexist under test.
type Resolver struct {
	store  *store.Store
	params Params
	logger *slog.Logger

	// mu serializes merge decisions. Two cameras racing to resolve the same
	// subject must not both allocate a fresh identity, so candidate search
	// and identity creation happen under one writer.
	mu        sync.Mutex
	galleries map[string]*gallery
	lastSeen  map[string]time.Time
	warmed    bool
}

// NewResolver constructs a resolver bound to a store.
func NewResolver(st *store.Store, params Params, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	if params.GallerySize <= 0 {
		params.GallerySize = 1
	}
	return &Resolver{
		store:     st,
		params:    params,
		logger:    logger.With(logging.String(logging.FieldComponent, "resolver")),
		galleries: make(map[string]*gallery),
		lastSeen:  make(map[string]time.Time),
	}
}

// Resolve maps a tracklet to a global identity using the configured strategy
// and records the decision as an association.
func (r *Resolver) Resolve(ctx context.Context, sample Sample) (Decision, error) {
	if sample.TrackletID == "" {
		return Decision{}, errors.New("sample tracklet id required")
	}
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = time.Now().UTC()
	}

	switch r.params.Mode {
	case "forced":
		return r.resolveForced(ctx, sample)
	case "isolated":
		return r.resolveIsolated(ctx, sample, false)
	case "auto":
		return r.resolveAuto(ctx, sample)
	default:
		return Decision{}, fmt.Errorf("unknown resolver mode %q", r.params.Mode)
	}
}

// ForcedIdentityID is the deterministic identity for a known subject.
func ForcedIdentityID(subjectID string) string {
	return "subject:" + subjectID
}

// IsolatedIdentityID is the deterministic per-camera identity for a local track.
func IsolatedIdentityID(cameraID string, localTrackID int64) string {
	return fmt.Sprintf("camera:%s:%d", cameraID, localTrackID)
}

func (r *Resolver) resolveForced(ctx context.Context, sample Sample) (Decision, error) {
	subjectID := sample.SubjectID
	if subjectID == "" {
		subjectID = r.params.FallbackSubjectID
	}
	if subjectID == "" {
		return Decision{}, errors.New("forced mode requires a subject id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := ForcedIdentityID(subjectID)
	created, err := r.ensureIdentity(ctx, id, store.IdentityConfirmed, subjectID, sample)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		IdentityID: id,
		Confidence: sample.Confidence,
		Strategy:   StrategyForced,
		Created:    created,
	}
	if err := r.record(ctx, sample, decision); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func (r *Resolver) resolveIsolated(ctx context.Context, sample Sample, degraded bool) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveIsolatedLocked(ctx, sample, degraded)
}

func (r *Resolver) resolveIsolatedLocked(ctx context.Context, sample Sample, degraded bool) (Decision, error) {
	id := IsolatedIdentityID(sample.CameraID, sample.LocalTrackID)
	created, err := r.ensureIdentity(ctx, id, store.IdentityTentative, "", sample)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		IdentityID:    id,
		Confidence:    sample.Confidence,
		Strategy:      StrategyIsolated,
		Created:       created,
		LowConfidence: degraded,
	}
	if err := r.record(ctx, sample, decision); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func (r *Resolver) resolveAuto(ctx context.Context, sample Sample) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(sample.Embedding) == 0 {
		// A tracker that produced no embedding for this tracklet degrades to
		// per-camera isolation; a single bad frame must not stop ingestion.
		r.logger.Warn("tracklet without embedding, falling back to isolated identity",
			logging.String(logging.FieldCameraID, sample.CameraID),
			logging.String(logging.FieldTrackletID, sample.TrackletID),
			logging.String(logging.FieldStrategy, StrategyIsolated),
		)
		return r.resolveIsolatedLocked(ctx, sample, true)
	}

	if err := r.warm(ctx); err != nil {
		return Decision{}, err
	}

	best, runnerUp := r.searchLocked(sample.Embedding)
	if best.id != "" && best.score >= r.params.SimilarityThreshold {
		margin := best.score
		if runnerUp.id != "" {
			margin = best.score - runnerUp.score
		}
		g := r.galleries[best.id]
		g.insert(sample.Embedding)
		r.lastSeen[best.id] = sample.ObservedAt
		if err := r.store.TouchIdentity(ctx, best.id, g.snapshot(), sample.ObservedAt); err != nil {
			return Decision{}, err
		}

		decision := Decision{
			IdentityID: best.id,
			Confidence: best.score,
			WinMargin:  margin,
			Strategy:   StrategyAuto,
		}
		if err := r.record(ctx, sample, decision); err != nil {
			return Decision{}, err
		}
		return decision, nil
	}

	// No candidate cleared the threshold: allocate a new tentative identity.
	// This is ambiguity, not failure; the association's confidence carries the
	// losing score for operator review.
	id := "auto:" + uuid.NewString()
	identity := &store.Identity{
		ID:         id,
		Status:     store.IdentityTentative,
		SubjectID:  r.params.FallbackSubjectID,
		Gallery:    [][]float64{sample.Embedding},
		CreatedAt:  sample.ObservedAt,
		LastSeenAt: sample.ObservedAt,
	}
	if _, err := r.store.CreateIdentity(ctx, identity); err != nil {
		return Decision{}, err
	}
	r.galleries[id] = newGallery(r.params.GallerySize, [][]float64{sample.Embedding})
	r.lastSeen[id] = sample.ObservedAt

	decision := Decision{
		IdentityID:    id,
		Confidence:    max(best.score, 0),
		Strategy:      StrategyAuto,
		Created:       true,
		LowConfidence: true,
	}
	if err := r.record(ctx, sample, decision); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// searchLocked scores the probe against every active gallery and returns the
// best and runner-up candidates. Ties within TieEpsilon are broken by most
// recent sighting; the policy is deliberate and recorded on the win margin.
func (r *Resolver) searchLocked(probe []float64) (best, runnerUp candidate) {
	best = candidate{score: -1}
	runnerUp = candidate{score: -1}
	for id, g := range r.galleries {
		score := g.maxSimilarity(probe)
		if score < 0 {
			continue
		}
		cand := candidate{id: id, score: score, lastSeen: r.lastSeen[id]}
		switch {
		case best.id == "" || score > best.score+r.params.TieEpsilon:
			runnerUp = best
			best = cand
		case score >= best.score-r.params.TieEpsilon && cand.lastSeen.After(best.lastSeen):
			runnerUp = best
			best = cand
		case runnerUp.id == "" || score > runnerUp.score:
			runnerUp = cand
		}
	}
	return best, runnerUp
}

// warm loads active identity galleries from the store once per resolver, and
// drops identities that have gone idle from the candidate set.
func (r *Resolver) warm(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.params.IdentityIdleAfter)
	if r.params.IdentityIdleAfter > 0 {
		if _, err := r.store.DeactivateIdle(ctx, cutoff); err != nil {
			return err
		}
		for id, seen := range r.lastSeen {
			if seen.Before(cutoff) {
				delete(r.lastSeen, id)
				delete(r.galleries, id)
			}
		}
	}
	if r.warmed {
		return nil
	}

	identities, err := r.store.ActiveIdentities(ctx)
	if err != nil {
		return err
	}
	for _, identity := range identities {
		if _, ok := r.galleries[identity.ID]; ok {
			continue
		}
		if len(identity.Gallery) == 0 {
			continue
		}
		r.galleries[identity.ID] = newGallery(r.params.GallerySize, identity.Gallery)
		r.lastSeen[identity.ID] = identity.LastSeenAt
	}
	r.warmed = true
	return nil
}

func (r *Resolver) ensureIdentity(ctx context.Context, id string, status store.IdentityStatus, subjectID string, sample Sample) (bool, error) {
	existing, err := r.store.GetIdentity(ctx, id)
	if err != nil {
		return false, err
	}
	if existing != nil {
		var snapshot [][]float64
		if len(sample.Embedding) > 0 {
			g, ok := r.galleries[id]
			if !ok {
				g = newGallery(r.params.GallerySize, existing.Gallery)
				r.galleries[id] = g
			}
			g.insert(sample.Embedding)
			snapshot = g.snapshot()
		} else {
			snapshot = existing.Gallery
		}
		r.lastSeen[id] = sample.ObservedAt
		if err := r.store.TouchIdentity(ctx, id, snapshot, sample.ObservedAt); err != nil {
			return false, err
		}
		return false, nil
	}

	identity := &store.Identity{
		ID:         id,
		Status:     status,
		SubjectID:  subjectID,
		CreatedAt:  sample.ObservedAt,
		LastSeenAt: sample.ObservedAt,
	}
	if len(sample.Embedding) > 0 {
		identity.Gallery = [][]float64{sample.Embedding}
	}
	if _, err := r.store.CreateIdentity(ctx, identity); err != nil {
		return false, err
	}
	if len(sample.Embedding) > 0 {
		r.galleries[id] = newGallery(r.params.GallerySize, identity.Gallery)
	}
	r.lastSeen[id] = sample.ObservedAt
	return true, nil
}

func (r *Resolver) record(ctx context.Context, sample Sample, decision Decision) error {
	_, err := r.store.AppendAssociation(ctx, &store.Association{
		TrackletID: sample.TrackletID,
		IdentityID: decision.IdentityID,
		Confidence: decision.Confidence,
		WinMargin:  decision.WinMargin,
		Strategy:   decision.Strategy,
		DecidedAt:  sample.ObservedAt,
	})
	if err != nil {
		return err
	}
	r.logger.Debug("merge decision recorded",
		logging.String(logging.FieldTrackletID, sample.TrackletID),
		logging.String(logging.FieldIdentityID, decision.IdentityID),
		logging.String(logging.FieldStrategy, decision.Strategy),
		logging.Float64("confidence", decision.Confidence),
		logging.Float64("win_margin", decision.WinMargin),
		logging.Bool("created", decision.Created),
	)
	return nil
}
