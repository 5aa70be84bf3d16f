package identity_test

import (
	"context"
	"testing"
	"time"

	"corral/internal/identity"
	"corral/internal/store"
	"corral/internal/testsupport"
)

func autoParams() identity.Params {
	return identity.Params{
		Mode:                "auto",
		SimilarityThreshold: 0.68,
		GallerySize:         8,
		TieEpsilon:          1e-6,
	}
}

func newTracklet(t *testing.T, st *store.Store, cameraID string, localID int64, ts time.Time) *store.Tracklet {
	t.Helper()
	tracklet, err := st.CreateTracklet(context.Background(), cameraID, localID, ts)
	if err != nil {
		t.Fatalf("create tracklet: %v", err)
	}
	return tracklet
}

func seedCamera(t *testing.T, st *store.Store, id string) {
	t.Helper()
	if _, err := st.CreateCamera(context.Background(), &store.Camera{
		ID: id, Name: id, FrameIntervalSeconds: 0.2,
	}); err != nil {
		t.Fatalf("create camera: %v", err)
	}
}

func TestResolveAutoMergesSimilarEmbeddings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := identity.NewResolver(st, autoParams(), nil)
	ctx := context.Background()
	now := time.Now().UTC()

	seedCamera(t, st, "cam-a")
	seedCamera(t, st, "cam-b")

	first := newTracklet(t, st, "cam-a", 1, now)
	d1, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID:   first.ID,
		CameraID:     "cam-a",
		LocalTrackID: 1,
		Embedding:    []float64{1, 0, 0},
		Confidence:   0.95,
		ObservedAt:   now,
	})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !d1.Created {
		t.Fatal("expected first tracklet to create an identity")
	}

	// Cosine to {1,0,0} is ~0.9, above the 0.68 threshold.
	second := newTracklet(t, st, "cam-b", 7, now.Add(time.Second))
	d2, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID:   second.ID,
		CameraID:     "cam-b",
		LocalTrackID: 7,
		Embedding:    []float64{0.9, 0.44, 0},
		Confidence:   0.9,
		ObservedAt:   now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if d2.Created {
		t.Fatal("expected merge into existing identity, got a new one")
	}
	if d2.IdentityID != d1.IdentityID {
		t.Fatalf("expected same identity, got %s and %s", d1.IdentityID, d2.IdentityID)
	}
	if d2.Confidence < 0.68 {
		t.Fatalf("merge confidence %v below threshold", d2.Confidence)
	}

	// Cosine ~0.3: below threshold, so a fresh tentative identity.
	third := newTracklet(t, st, "cam-a", 2, now.Add(2*time.Second))
	d3, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID:   third.ID,
		CameraID:     "cam-a",
		LocalTrackID: 2,
		Embedding:    []float64{0.3, -0.95, 0},
		Confidence:   0.9,
		ObservedAt:   now.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("third resolve: %v", err)
	}
	if !d3.Created || d3.IdentityID == d1.IdentityID {
		t.Fatalf("expected new identity for dissimilar embedding, got %+v", d3)
	}
	if !d3.LowConfidence {
		t.Fatal("expected below-threshold allocation to be flagged low confidence")
	}

	ident, err := st.GetIdentity(ctx, d3.IdentityID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if ident == nil || ident.Status != store.IdentityTentative {
		t.Fatalf("expected tentative identity, got %+v", ident)
	}
}

func TestResolveAutoWithoutEmbeddingFallsBackToIsolated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := identity.NewResolver(st, autoParams(), nil)
	ctx := context.Background()
	now := time.Now().UTC()

	seedCamera(t, st, "cam-a")
	tracklet := newTracklet(t, st, "cam-a", 3, now)

	decision, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID:   tracklet.ID,
		CameraID:     "cam-a",
		LocalTrackID: 3,
		ObservedAt:   now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if decision.Strategy != identity.StrategyIsolated {
		t.Fatalf("expected isolated fallback, got %s", decision.Strategy)
	}
	if !decision.LowConfidence {
		t.Fatal("expected fallback decision to be flagged low confidence")
	}
	if want := identity.IsolatedIdentityID("cam-a", 3); decision.IdentityID != want {
		t.Fatalf("expected %s, got %s", want, decision.IdentityID)
	}
}

func TestResolveForcedIsDeterministic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	params := autoParams()
	params.Mode = "forced"
	resolver := identity.NewResolver(st, params, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	seedCamera(t, st, "cam-a")
	seedCamera(t, st, "cam-b")

	first := newTracklet(t, st, "cam-a", 1, now)
	d1, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID:   first.ID,
		CameraID:     "cam-a",
		LocalTrackID: 1,
		SubjectID:    "biscuit",
		ObservedAt:   now,
	})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second := newTracklet(t, st, "cam-b", 9, now.Add(time.Minute))
	d2, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID:   second.ID,
		CameraID:     "cam-b",
		LocalTrackID: 9,
		SubjectID:    "biscuit",
		ObservedAt:   now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if d1.IdentityID != d2.IdentityID {
		t.Fatalf("forced mode split subject across identities: %s vs %s", d1.IdentityID, d2.IdentityID)
	}
	if want := identity.ForcedIdentityID("biscuit"); d1.IdentityID != want {
		t.Fatalf("expected %s, got %s", want, d1.IdentityID)
	}

	ident, err := st.GetIdentity(ctx, d1.IdentityID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if ident == nil || ident.Status != store.IdentityConfirmed {
		t.Fatalf("expected confirmed identity, got %+v", ident)
	}
}

func TestResolveIsolatedKeepsCamerasApart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	params := autoParams()
	params.Mode = "isolated"
	resolver := identity.NewResolver(st, params, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	seedCamera(t, st, "cam-a")
	seedCamera(t, st, "cam-b")

	// Same embedding on both cameras stays two identities in isolated mode.
	embedding := []float64{1, 0, 0}
	first := newTracklet(t, st, "cam-a", 1, now)
	d1, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID: first.ID, CameraID: "cam-a", LocalTrackID: 1,
		Embedding: embedding, ObservedAt: now,
	})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second := newTracklet(t, st, "cam-b", 1, now)
	d2, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID: second.ID, CameraID: "cam-b", LocalTrackID: 1,
		Embedding: embedding, ObservedAt: now,
	})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if d1.IdentityID == d2.IdentityID {
		t.Fatal("isolated mode merged identities across cameras")
	}
}

func TestResolveRecordsAssociations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	resolver := identity.NewResolver(st, autoParams(), nil)
	ctx := context.Background()
	now := time.Now().UTC()

	seedCamera(t, st, "cam-a")
	tracklet := newTracklet(t, st, "cam-a", 1, now)
	decision, err := resolver.Resolve(ctx, identity.Sample{
		TrackletID: tracklet.ID, CameraID: "cam-a", LocalTrackID: 1,
		Embedding: []float64{0, 1}, Confidence: 0.8, ObservedAt: now,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	associations, err := st.AssociationsForIdentity(ctx, decision.IdentityID)
	if err != nil {
		t.Fatalf("associations: %v", err)
	}
	if len(associations) != 1 {
		t.Fatalf("expected one association, got %d", len(associations))
	}
	if associations[0].TrackletID != tracklet.ID {
		t.Fatalf("association points at wrong tracklet %s", associations[0].TrackletID)
	}
	if associations[0].Strategy != identity.StrategyAuto {
		t.Fatalf("unexpected strategy %s", associations[0].Strategy)
	}
}
