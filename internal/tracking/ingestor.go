package tracking

import (
	"context"
	"log/slog"
	"time"

	"corral/internal/config"
	"corral/internal/identity"
	"corral/internal/logging"
	"corral/internal/store"
)

type openTracklet struct {
	trackletID string
	lastSeen   time.Time
	resolved   bool
}

// Ingestor consumes one camera's detection stream. It opens a tracklet per
// unseen local track id, appends observations, hands the first embedded
// detection to the identity resolver, and closes tracks that go quiet.
//
// Not safe for concurrent use; each camera stream gets its own ingestor.
type Ingestor struct {
	cameraID string
	store    *store.Store
	resolver *identity.Resolver
	logger   *slog.Logger

	lostAfter time.Duration
	open      map[int64]*openTracklet
}

// NewIngestor builds an ingestor for a camera.
func NewIngestor(cameraID string, cfg *config.Config, st *store.Store, resolver *identity.Resolver, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingestor{
		cameraID:  cameraID,
		store:     st,
		resolver:  resolver,
		logger:    logger.With(logging.String(logging.FieldCameraID, cameraID)),
		lostAfter: time.Duration(cfg.Ingest.LostAfterSeconds * float64(time.Second)),
		open:      make(map[int64]*openTracklet),
	}
}

// Ingest records one detection. The tracklet is created lazily on the first
// detection of a local track, and the resolver sees the track exactly once,
// on its first detection that carries an embedding.
func (in *Ingestor) Ingest(ctx context.Context, det Detection) error {
	if err := det.Validate(); err != nil {
		return err
	}

	open, ok := in.open[det.LocalTrackID]
	if !ok {
		tracklet, err := in.store.CreateTracklet(ctx, in.cameraID, det.LocalTrackID, det.TS)
		if err != nil {
			return err
		}
		open = &openTracklet{trackletID: tracklet.ID}
		in.open[det.LocalTrackID] = open
		in.logger.Debug("tracklet opened",
			logging.String(logging.FieldTrackletID, tracklet.ID),
			logging.Int64("local_track_id", det.LocalTrackID),
		)
	}
	open.lastSeen = det.TS

	if _, err := in.store.AppendObservation(ctx, &store.Observation{
		TrackletID: open.trackletID,
		TS:         det.TS,
		BBox:       det.BBox,
		Embedding:  det.Embedding,
		Confidence: det.Confidence,
	}); err != nil {
		return err
	}

	if !open.resolved && len(det.Embedding) > 0 {
		if err := in.resolve(ctx, open, det); err != nil {
			return err
		}
	}
	return nil
}

// Sweep closes tracklets not seen for the lost window, measured against now.
// A track that never produced an embedding is resolved on close so every
// tracklet ends up associated, if only to its own isolated identity.
func (in *Ingestor) Sweep(ctx context.Context, now time.Time) error {
	for localID, open := range in.open {
		if now.Sub(open.lastSeen) < in.lostAfter {
			continue
		}
		if !open.resolved {
			det := Detection{LocalTrackID: localID, TS: open.lastSeen}
			if err := in.resolve(ctx, open, det); err != nil {
				return err
			}
		}
		if err := in.store.CloseTracklet(ctx, open.trackletID, open.lastSeen); err != nil {
			return err
		}
		delete(in.open, localID)
		in.logger.Debug("tracklet closed",
			logging.String(logging.FieldTrackletID, open.trackletID),
			logging.Int64("local_track_id", localID),
		)
	}
	return nil
}

// CloseAll force-closes every open tracklet, used on stream shutdown.
func (in *Ingestor) CloseAll(ctx context.Context) error {
	for localID, open := range in.open {
		if !open.resolved {
			det := Detection{LocalTrackID: localID, TS: open.lastSeen}
			if err := in.resolve(ctx, open, det); err != nil {
				return err
			}
		}
		if err := in.store.CloseTracklet(ctx, open.trackletID, open.lastSeen); err != nil {
			return err
		}
		delete(in.open, localID)
	}
	return nil
}

func (in *Ingestor) resolve(ctx context.Context, open *openTracklet, det Detection) error {
	decision, err := in.resolver.Resolve(ctx, identity.Sample{
		TrackletID:   open.trackletID,
		CameraID:     in.cameraID,
		LocalTrackID: det.LocalTrackID,
		SubjectID:    det.SubjectID,
		Embedding:    det.Embedding,
		Confidence:   det.Confidence,
		ObservedAt:   det.TS,
	})
	if err != nil {
		return err
	}
	open.resolved = true
	in.logger.Info("tracklet resolved",
		logging.String(logging.FieldTrackletID, open.trackletID),
		logging.String(logging.FieldIdentityID, decision.IdentityID),
		logging.String(logging.FieldStrategy, decision.Strategy),
		logging.Bool("created", decision.Created),
		logging.Bool("low_confidence", decision.LowConfidence),
	)
	return nil
}
