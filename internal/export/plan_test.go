package export_test

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"corral/internal/export"
)

var base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return base.Add(time.Duration(seconds * float64(time.Second)))
}

func fullParams() export.Params {
	return export.Params{Padding: 1, MergeGap: 0.5, MinDuration: 0.3}
}

func TestPlanPadsAndMergesIntervals(t *testing.T) {
	input := export.Input{
		IdentityID: "id-1",
		WindowFrom: at(-10),
		WindowTo:   at(60),
		Params:     fullParams(),
		Cameras: []export.CameraTimeline{{
			CameraID:      "cam-a",
			FrameInterval: 0.2,
			Observations: []export.ObservationPoint{
				{TS: at(0), Confidence: 0.8},
				{TS: at(1), Confidence: 0.8},
				{TS: at(2), Confidence: 0.8},
			},
			Segments: []export.SegmentBounds{{
				SegmentID: "seg-1",
				Path:      "/media/cam-a/seg-1.mp4",
				Start:     at(-30),
				End:       at(30),
			}},
		}},
	}

	manifest := export.Plan(input)
	if len(manifest.Segments) != 1 {
		t.Fatalf("expected one merged segment, got %d", len(manifest.Segments))
	}
	seg := manifest.Segments[0]
	// Observations a second apart each become their own padded interval, and
	// the padding closes the gaps, so they merge into [-1, 3] around base.
	// Segment start is at -30, so offsets land at 29 and 33.
	if seg.StartOffset != 29 || seg.EndOffset != 33 {
		t.Fatalf("unexpected offsets [%v, %v]", seg.StartOffset, seg.EndOffset)
	}
	if seg.SegmentID != "seg-1" || seg.CameraID != "cam-a" {
		t.Fatalf("unexpected segment %+v", seg)
	}
}

func TestPlanClipsPaddingToSegmentBounds(t *testing.T) {
	input := export.Input{
		IdentityID: "id-1",
		WindowFrom: at(-10),
		WindowTo:   at(60),
		Params:     fullParams(),
		Cameras: []export.CameraTimeline{{
			CameraID:      "cam-a",
			FrameInterval: 0.2,
			Observations: []export.ObservationPoint{
				{TS: at(0.5), Confidence: 0.9},
			},
			Segments: []export.SegmentBounds{{
				SegmentID: "seg-1",
				Path:      "/media/cam-a/seg-1.mp4",
				Start:     at(0),
				End:       at(1),
			}},
		}},
	}

	manifest := export.Plan(input)
	if len(manifest.Segments) != 1 {
		t.Fatalf("expected one segment, got %d", len(manifest.Segments))
	}
	seg := manifest.Segments[0]
	// Padded interval [-0.5, 1.5] clips to the recording [0, 1].
	if seg.StartOffset != 0 || seg.EndOffset != 1 {
		t.Fatalf("expected clip to segment bounds, got [%v, %v]", seg.StartOffset, seg.EndOffset)
	}
}

func TestPlanDropsShortIntervals(t *testing.T) {
	params := export.Params{Padding: 0, MergeGap: 0.1, MinDuration: 0.3}
	input := export.Input{
		IdentityID: "id-1",
		WindowFrom: at(0),
		WindowTo:   at(60),
		Params:     params,
		Cameras: []export.CameraTimeline{{
			CameraID:      "cam-a",
			FrameInterval: 0.2,
			Observations: []export.ObservationPoint{
				{TS: at(0), Confidence: 0.9},
				{TS: at(0.1), Confidence: 0.9},
			},
			Segments: []export.SegmentBounds{{
				SegmentID: "seg-1",
				Path:      "/media/cam-a/seg-1.mp4",
				Start:     at(0),
				End:       at(60),
			}},
		}},
	}

	manifest := export.Plan(input)
	if len(manifest.Segments) != 0 {
		t.Fatalf("expected 0.1s interval to be dropped, got %d segments", len(manifest.Segments))
	}
}

func TestPlanEmptyWindowProducesEmptyManifest(t *testing.T) {
	manifest := export.Plan(export.Input{
		IdentityID: "id-1",
		WindowFrom: at(0),
		WindowTo:   at(10),
		Params:     fullParams(),
	})
	if len(manifest.Segments) != 0 {
		t.Fatalf("expected empty manifest, got %d segments", len(manifest.Segments))
	}
	if manifest.TotalDuration() != 0 {
		t.Fatalf("expected zero duration, got %v", manifest.TotalDuration())
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	input := export.Input{
		IdentityID: "id-1",
		WindowFrom: at(0),
		WindowTo:   at(120),
		Params:     fullParams(),
		Cameras: []export.CameraTimeline{
			{
				CameraID:      "cam-b",
				FrameInterval: 0.2,
				Observations: []export.ObservationPoint{
					{TS: at(10), Confidence: 0.7},
					{TS: at(10.1), Confidence: 0.7},
					{TS: at(10.2), Confidence: 0.7},
				},
				Segments: []export.SegmentBounds{{
					SegmentID: "seg-b", Path: "/media/b.mp4", Start: at(0), End: at(120),
				}},
			},
			{
				CameraID:      "cam-a",
				FrameInterval: 0.2,
				Observations: []export.ObservationPoint{
					{TS: at(5), Confidence: 0.9},
					{TS: at(5.1), Confidence: 0.9},
					{TS: at(5.2), Confidence: 0.9},
				},
				Segments: []export.SegmentBounds{{
					SegmentID: "seg-a", Path: "/media/a.mp4", Start: at(0), End: at(120),
				}},
			},
		},
	}

	first, err := export.Plan(input).Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	second, err := export.Plan(input).Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("replanning the same input produced different manifests")
	}

	manifest := export.Plan(input)
	if len(manifest.Segments) != 2 {
		t.Fatalf("expected two segments, got %d", len(manifest.Segments))
	}
	if manifest.Segments[0].CameraID != "cam-a" {
		t.Fatalf("expected chronological order, first camera %s", manifest.Segments[0].CameraID)
	}
}

func TestPlanHighlightsRankingAndCaps(t *testing.T) {
	params := export.Params{
		Padding: 0, MergeGap: 0.1, MinDuration: 0.3,
		Highlights: true, TargetSeconds: 6, PerClipCap: 4,
	}
	mkObs := func(start, end, step, conf float64) []export.ObservationPoint {
		var out []export.ObservationPoint
		for ts := start; ts <= end; ts += step {
			out = append(out, export.ObservationPoint{TS: at(ts), Confidence: conf})
		}
		return out
	}
	input := export.Input{
		IdentityID: "id-1",
		WindowFrom: at(0),
		WindowTo:   at(120),
		Params:     params,
		Cameras: []export.CameraTimeline{{
			CameraID:      "cam-a",
			FrameInterval: 0.25,
			// High-score long interval [10, 20], lower-score interval [40, 42].
			Observations: append(mkObs(10, 20, 0.25, 0.9), mkObs(40, 42, 0.25, 0.5)...),
			Segments: []export.SegmentBounds{{
				SegmentID: "seg-a", Path: "/media/a.mp4", Start: at(0), End: at(120),
			}},
		}},
	}

	manifest := export.Plan(input)
	if len(manifest.Segments) != 2 {
		t.Fatalf("expected two highlight clips, got %d", len(manifest.Segments))
	}
	first := manifest.Segments[0]
	if first.StartOffset != 10 {
		t.Fatalf("expected highest-scoring interval first, got start %v", first.StartOffset)
	}
	if got := first.EndOffset - first.StartOffset; got != 4 {
		t.Fatalf("expected per-clip cap of 4s, got %v", got)
	}
	// 4s capped clip + 2s clip reaches the 6s target.
	if total := manifest.TotalDuration(); total < 5.9 || total > 6.1 {
		t.Fatalf("expected total near target, got %v", total)
	}
}

func TestManifestSaveAndLoad(t *testing.T) {
	manifest := export.Plan(export.Input{
		IdentityID: "id-1",
		WindowFrom: at(0),
		WindowTo:   at(60),
		Params:     fullParams(),
		Cameras: []export.CameraTimeline{{
			CameraID:      "cam-a",
			FrameInterval: 0.2,
			Observations: []export.ObservationPoint{
				{TS: at(5), Confidence: 0.8},
				{TS: at(5.2), Confidence: 0.8},
			},
			Segments: []export.SegmentBounds{{
				SegmentID: "seg-a", Path: "/media/a.mp4", Start: at(0), End: at(60),
			}},
		}},
	})

	path := filepath.Join(t.TempDir(), "manifests", "job-1.json")
	if err := manifest.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := export.LoadManifest(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	want, _ := manifest.Encode()
	got, _ := loaded.Encode()
	if !bytes.Equal(want, got) {
		t.Fatal("loaded manifest differs from saved manifest")
	}
}
