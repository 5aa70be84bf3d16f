package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"corral/internal/store"
	"corral/internal/testsupport"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg)
}

func mustCamera(t *testing.T, st *store.Store, id string) *store.Camera {
	t.Helper()
	camera, err := st.CreateCamera(context.Background(), &store.Camera{
		ID:                   id,
		Name:                 "Barn " + id,
		Zone:                 "barn",
		FrameIntervalSeconds: 0.25,
	})
	if err != nil {
		t.Fatalf("create camera: %v", err)
	}
	return camera
}

func TestCameraRoundTrip(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	created := mustCamera(t, st, "cam-a")
	fetched, err := st.GetCamera(ctx, created.ID)
	if err != nil {
		t.Fatalf("get camera: %v", err)
	}
	if fetched == nil {
		t.Fatal("camera not found after create")
	}
	if fetched.Name != created.Name || fetched.Zone != created.Zone {
		t.Errorf("camera fields lost: got %+v", fetched)
	}
	if fetched.FrameIntervalSeconds != 0.25 {
		t.Errorf("expected frame interval 0.25, got %f", fetched.FrameIntervalSeconds)
	}

	missing, err := st.GetCamera(ctx, "no-such-camera")
	if err != nil {
		t.Fatalf("get missing camera: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown camera")
	}

	if _, err := st.CreateCamera(ctx, &store.Camera{ID: "cam-b", Name: "b"}); err == nil {
		t.Fatal("expected rejection of non-positive frame interval")
	}
}

func TestSegmentsForCameraOverlap(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	camera := mustCamera(t, st, "cam-a")
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := st.AddMediaSegment(ctx, &store.MediaSegment{
			CameraID: camera.ID,
			Path:     "/media/seg.mp4",
			StartTS:  base.Add(time.Duration(i) * time.Minute),
			EndTS:    base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Codec:    "h264",
		}); err != nil {
			t.Fatalf("add segment %d: %v", i, err)
		}
	}

	// Window covers the tail of segment 0 and the whole of segment 1.
	segments, err := st.SegmentsForCamera(ctx, camera.ID, base.Add(20*time.Second), base.Add(100*time.Second))
	if err != nil {
		t.Fatalf("segments for camera: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 overlapping segments, got %d", len(segments))
	}
	if !segments[0].StartTS.Equal(base) || !segments[1].StartTS.Equal(base.Add(time.Minute)) {
		t.Errorf("segments out of order: %s then %s", segments[0].StartTS, segments[1].StartTS)
	}

	if _, err := st.AddMediaSegment(ctx, &store.MediaSegment{
		CameraID: camera.ID,
		Path:     "/media/bad.mp4",
		StartTS:  base,
		EndTS:    base,
	}); err == nil {
		t.Fatal("expected rejection of zero-length segment")
	}
}

func TestTrackletLifecycle(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	camera := mustCamera(t, st, "cam-a")
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	tracklet, err := st.CreateTracklet(ctx, camera.ID, 7, base)
	if err != nil {
		t.Fatalf("create tracklet: %v", err)
	}

	for i, conf := range []float64{0.8, 0.6} {
		if _, err := st.AppendObservation(ctx, &store.Observation{
			TrackletID: tracklet.ID,
			TS:         base.Add(time.Duration(i) * time.Second),
			BBox:       store.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4},
			Embedding:  []float64{0.5, 0.5},
			Confidence: conf,
		}); err != nil {
			t.Fatalf("append observation %d: %v", i, err)
		}
	}

	if err := st.CloseTracklet(ctx, tracklet.ID, base.Add(time.Second)); err != nil {
		t.Fatalf("close tracklet: %v", err)
	}
	if err := st.CloseTracklet(ctx, tracklet.ID, base.Add(2*time.Second)); err == nil {
		t.Fatal("expected second close to fail")
	}

	fetched, err := st.GetTracklet(ctx, tracklet.ID)
	if err != nil {
		t.Fatalf("get tracklet: %v", err)
	}
	if fetched == nil || !fetched.Closed {
		t.Fatalf("expected closed tracklet, got %+v", fetched)
	}
	if fetched.EndedAt == nil || !fetched.EndedAt.Equal(base.Add(time.Second)) {
		t.Errorf("unexpected end time %v", fetched.EndedAt)
	}
	// Running quality averages each new confidence into the score.
	if fetched.Quality != 0.5 {
		t.Errorf("expected quality 0.5, got %f", fetched.Quality)
	}

	obs, err := st.ObservationsForTracklets(ctx, []string{tracklet.ID}, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	if obs[0].BBox.X2 != 3 || len(obs[0].Embedding) != 2 {
		t.Errorf("observation payload lost: %+v", obs[0])
	}

	windowed, err := st.ObservationsForTracklets(ctx, []string{tracklet.ID}, base.Add(time.Second), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("windowed observations: %v", err)
	}
	if len(windowed) != 1 {
		t.Fatalf("expected 1 observation in window, got %d", len(windowed))
	}
}

func TestTrackletsForIdentityFollowsLatestAssociation(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	camera := mustCamera(t, st, "cam-a")
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	tracklet, err := st.CreateTracklet(ctx, camera.ID, 1, base)
	if err != nil {
		t.Fatalf("create tracklet: %v", err)
	}
	for _, id := range []string{"ident-old", "ident-new"} {
		if _, err := st.CreateIdentity(ctx, &store.Identity{ID: id}); err != nil {
			t.Fatalf("create identity %s: %v", id, err)
		}
	}

	if _, err := st.AppendAssociation(ctx, &store.Association{
		TrackletID: tracklet.ID, IdentityID: "ident-old", Strategy: "auto", DecidedAt: base,
	}); err != nil {
		t.Fatalf("first association: %v", err)
	}
	if _, err := st.AppendAssociation(ctx, &store.Association{
		TrackletID: tracklet.ID, IdentityID: "ident-new", Strategy: "auto", DecidedAt: base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("second association: %v", err)
	}

	stale, err := st.TrackletsForIdentity(ctx, "ident-old")
	if err != nil {
		t.Fatalf("tracklets for superseded identity: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("superseded association still wins: %d tracklets", len(stale))
	}
	current, err := st.TrackletsForIdentity(ctx, "ident-new")
	if err != nil {
		t.Fatalf("tracklets for current identity: %v", err)
	}
	if len(current) != 1 || current[0].ID != tracklet.ID {
		t.Fatalf("expected latest association to win, got %d tracklets", len(current))
	}
}

func TestConfirmBindingGuardsConfirmedSubject(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if _, err := st.CreateIdentity(ctx, &store.Identity{ID: "ident-1"}); err != nil {
		t.Fatalf("create identity: %v", err)
	}

	if err := st.ConfirmBinding(ctx, "ident-1", "biscuit"); err != nil {
		t.Fatalf("confirm binding: %v", err)
	}
	// Re-confirming the same subject is a no-op, not a conflict.
	if err := st.ConfirmBinding(ctx, "ident-1", "biscuit"); err != nil {
		t.Fatalf("idempotent confirm: %v", err)
	}
	if err := st.ConfirmBinding(ctx, "ident-1", "clover"); !errors.Is(err, store.ErrConfirmedBinding) {
		t.Fatalf("expected ErrConfirmedBinding, got %v", err)
	}

	if err := st.RebindIdentity(ctx, "ident-1", "clover"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	ident, err := st.GetIdentity(ctx, "ident-1")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if ident.SubjectID != "clover" || ident.Status != store.IdentityConfirmed {
		t.Errorf("rebind not applied: %+v", ident)
	}

	if err := st.ConfirmBinding(ctx, "no-such-identity", "biscuit"); err == nil || errors.Is(err, store.ErrConfirmedBinding) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDeactivateIdleSkipsRecentlySeen(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for id, seen := range map[string]time.Time{
		"ident-idle":   now.Add(-time.Hour),
		"ident-active": now.Add(-time.Minute),
	} {
		if _, err := st.CreateIdentity(ctx, &store.Identity{ID: id, LastSeenAt: seen}); err != nil {
			t.Fatalf("create identity %s: %v", id, err)
		}
	}

	deactivated, err := st.DeactivateIdle(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("deactivate idle: %v", err)
	}
	if deactivated != 1 {
		t.Fatalf("expected 1 identity deactivated, got %d", deactivated)
	}

	active, err := st.ActiveIdentities(ctx)
	if err != nil {
		t.Fatalf("active identities: %v", err)
	}
	if len(active) != 1 || active[0].ID != "ident-active" {
		t.Fatalf("unexpected active set: %d entries", len(active))
	}

	// TouchIdentity reactivates on the next sighting.
	if err := st.TouchIdentity(ctx, "ident-idle", nil, now); err != nil {
		t.Fatalf("touch identity: %v", err)
	}
	active, err = st.ActiveIdentities(ctx)
	if err != nil {
		t.Fatalf("active identities: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected touched identity reactivated, got %d active", len(active))
	}
}
