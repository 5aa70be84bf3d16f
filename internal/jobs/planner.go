package jobs

import (
	"context"
	"fmt"

	"corral/internal/export"
	"corral/internal/services"
	"corral/internal/store"
)

// Planner assembles the planner input for a claimed job.
type Planner interface {
	BuildInput(ctx context.Context, job *Job) (export.Input, error)
}

// LibraryPlanner gathers a job's observations and media segments from the
// observation store.
type LibraryPlanner struct {
	lib *store.Store
}

// NewLibraryPlanner wraps the shared store.
func NewLibraryPlanner(lib *store.Store) *LibraryPlanner {
	return &LibraryPlanner{lib: lib}
}

// BuildInput collects every tracklet associated with the job's identity,
// groups its observations by camera, and attaches the media segments
// overlapping the window. Cameras with no observations in the window are
// omitted entirely.
func (p *LibraryPlanner) BuildInput(ctx context.Context, job *Job) (export.Input, error) {
	input := export.Input{
		IdentityID: job.IdentityID,
		WindowFrom: job.Params.WindowFrom,
		WindowTo:   job.Params.WindowTo,
		Params:     job.Params.Plan,
	}

	identity, err := p.lib.GetIdentity(ctx, job.IdentityID)
	if err != nil {
		return export.Input{}, err
	}
	if identity == nil {
		return export.Input{}, services.Wrap(services.ErrNotFound, "jobs", "plan",
			fmt.Sprintf("identity %s", job.IdentityID), nil)
	}

	tracklets, err := p.lib.TrackletsForIdentity(ctx, job.IdentityID)
	if err != nil {
		return export.Input{}, err
	}
	if len(tracklets) == 0 {
		return input, nil
	}

	byCamera := make(map[string][]string)
	for _, t := range tracklets {
		byCamera[t.CameraID] = append(byCamera[t.CameraID], t.ID)
	}

	cameras, err := p.lib.ListCameras(ctx)
	if err != nil {
		return export.Input{}, err
	}
	cameraMeta := make(map[string]*store.Camera, len(cameras))
	for _, cam := range cameras {
		cameraMeta[cam.ID] = cam
	}

	for cameraID, trackletIDs := range byCamera {
		meta, ok := cameraMeta[cameraID]
		if !ok {
			return export.Input{}, services.Wrap(services.ErrNotFound, "jobs", "plan",
				fmt.Sprintf("camera %s referenced by tracklets", cameraID), nil)
		}

		obs, err := p.lib.ObservationsForTracklets(ctx, trackletIDs, job.Params.WindowFrom, job.Params.WindowTo)
		if err != nil {
			return export.Input{}, err
		}
		if len(obs) == 0 {
			continue
		}

		segments, err := p.lib.SegmentsForCamera(ctx, cameraID, job.Params.WindowFrom, job.Params.WindowTo)
		if err != nil {
			return export.Input{}, err
		}

		timeline := export.CameraTimeline{
			CameraID:      cameraID,
			FrameInterval: meta.FrameIntervalSeconds,
		}
		for _, o := range obs {
			timeline.Observations = append(timeline.Observations, export.ObservationPoint{
				TS:         o.TS,
				Confidence: o.Confidence,
			})
		}
		for _, seg := range segments {
			timeline.Segments = append(timeline.Segments, export.SegmentBounds{
				SegmentID: seg.ID,
				Path:      seg.Path,
				Start:     seg.StartTS,
				End:       seg.EndTS,
			})
		}
		input.Cameras = append(input.Cameras, timeline)
	}

	return input, nil
}

var _ Planner = (*LibraryPlanner)(nil)
