package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"corral/internal/config"
	"corral/internal/identity"
	"corral/internal/store"
	"corral/internal/tracking"
)

// RegisterCameraRequest describes a new camera.
type RegisterCameraRequest struct {
	Config        *config.Config
	CameraID      string
	Name          string
	Zone          string
	StreamURL     string
	FrameInterval float64
}

// RegisterCamera creates a camera record. The frame interval falls back to
// the configured ingest default when unset.
func RegisterCamera(ctx context.Context, req RegisterCameraRequest) (*CameraView, error) {
	cfg := req.Config
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if strings.TrimSpace(req.CameraID) == "" {
		return nil, fmt.Errorf("camera id is required")
	}
	interval := req.FrameInterval
	if interval <= 0 {
		interval = cfg.Ingest.FrameIntervalSeconds
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	camera, err := st.CreateCamera(ctx, &store.Camera{
		ID:                   req.CameraID,
		Name:                 req.Name,
		Zone:                 req.Zone,
		StreamURL:            req.StreamURL,
		FrameIntervalSeconds: interval,
	})
	if err != nil {
		return nil, err
	}
	view := FromCamera(camera)
	return &view, nil
}

// AddSegmentRequest registers a recorded media file for a camera.
type AddSegmentRequest struct {
	Config   *config.Config
	CameraID string
	Path     string
	Start    time.Time
	End      time.Time
	Codec    string
}

// AddSegment records a media segment so the export planner can clip to it.
func AddSegment(ctx context.Context, req AddSegmentRequest) error {
	cfg := req.Config
	if cfg == nil {
		return fmt.Errorf("configuration is required")
	}
	if !req.End.After(req.Start) {
		return fmt.Errorf("segment end %s is not after start %s",
			req.End.Format(apiTimeFormat), req.Start.Format(apiTimeFormat))
	}

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	camera, err := st.GetCamera(ctx, req.CameraID)
	if err != nil {
		return err
	}
	if camera == nil {
		return fmt.Errorf("camera %s not found", req.CameraID)
	}
	_, err = st.AddMediaSegment(ctx, &store.MediaSegment{
		CameraID: req.CameraID,
		Path:     req.Path,
		StartTS:  req.Start,
		EndTS:    req.End,
		Codec:    req.Codec,
	})
	return err
}

// IngestFile replays a newline-delimited JSON detection file through the full
// ingest pipeline for one camera.
func IngestFile(ctx context.Context, cfg *config.Config, cameraID, path string, logger *slog.Logger) error {
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	camera, err := st.GetCamera(ctx, cameraID)
	if err != nil {
		return err
	}
	if camera == nil {
		return fmt.Errorf("camera %s not found", cameraID)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open detections file: %w", err)
	}
	defer f.Close()

	resolver := identity.NewResolver(st, identity.ParamsFromConfig(cfg), logger)
	ingestor := tracking.NewIngestor(cameraID, cfg, st, resolver, logger)
	return tracking.ReadStream(ctx, f, ingestor)
}
