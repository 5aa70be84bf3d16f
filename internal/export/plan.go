package export

import (
	"sort"
	"time"
)

// Params are the knobs controlling interval construction. All values are in
// seconds.
type Params struct {
	Padding     float64 `json:"padding_seconds"`
	MergeGap    float64 `json:"merge_gap_seconds"`
	MinDuration float64 `json:"min_duration_seconds"`

	// Highlights-only fields; ignored when Highlights is false.
	Highlights    bool    `json:"highlights"`
	TargetSeconds float64 `json:"target_seconds,omitempty"`
	PerClipCap    float64 `json:"per_clip_seconds,omitempty"`
}

// ObservationPoint is the slice of an observation the planner needs.
type ObservationPoint struct {
	TS         time.Time
	Confidence float64
}

// SegmentBounds carries a media segment's recording window, used to clip
// padded intervals to stream bounds and express manifest offsets.
type SegmentBounds struct {
	SegmentID string
	Path      string
	Start     time.Time
	End       time.Time
}

// CameraTimeline is one camera's worth of planner input: its native frame
// interval, the identity's observations on it, and the recorded segments
// covering the window.
type CameraTimeline struct {
	CameraID      string
	FrameInterval float64
	Observations  []ObservationPoint
	Segments      []SegmentBounds
}

// Input is everything Plan consumes. Plan is a pure function of this value;
// replanning the same input yields a byte-identical manifest, which is what
// makes job retries idempotent.
type Input struct {
	IdentityID string
	WindowFrom time.Time
	WindowTo   time.Time
	Cameras    []CameraTimeline
	Params     Params
}

type interval struct {
	cameraID string
	start    time.Time
	end      time.Time
	confSum  float64
	confN    int
}

func (iv interval) duration() float64 {
	return iv.end.Sub(iv.start).Seconds()
}

func (iv interval) meanConfidence() float64 {
	if iv.confN == 0 {
		return 0
	}
	return iv.confSum / float64(iv.confN)
}

func (iv interval) score() float64 {
	return iv.meanConfidence() * iv.duration()
}

// Plan converts an identity's observation timeline into the minimal padded,
// merged set of segments, optionally trimmed to a highlight target. An empty
// window produces an empty manifest, never an error.
func Plan(input Input) Manifest {
	var intervals []interval
	for _, cam := range input.Cameras {
		intervals = append(intervals, planCamera(cam, input.Params)...)
	}

	if input.Params.Highlights {
		intervals = selectHighlights(intervals, input.Params)
	} else {
		sortChronological(intervals)
	}

	manifest := Manifest{
		IdentityID: input.IdentityID,
		WindowFrom: input.WindowFrom.UTC(),
		WindowTo:   input.WindowTo.UTC(),
		Params:     input.Params,
	}
	manifest.Segments = resolveSegments(intervals, input.Cameras)
	return manifest
}

func planCamera(cam CameraTimeline, params Params) []interval {
	if len(cam.Observations) == 0 {
		return nil
	}

	obs := make([]ObservationPoint, len(cam.Observations))
	copy(obs, cam.Observations)
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].TS.Before(obs[j].TS) })

	contiguity := secondsToDuration(cam.FrameInterval)

	// Collapse observation timestamps into presence intervals: a gap no
	// larger than the camera's own frame interval keeps them contiguous.
	var raw []interval
	current := interval{cameraID: cam.CameraID, start: obs[0].TS, end: obs[0].TS, confSum: obs[0].Confidence, confN: 1}
	for _, point := range obs[1:] {
		if point.TS.Sub(current.end) <= contiguity {
			current.end = point.TS
			current.confSum += point.Confidence
			current.confN++
			continue
		}
		raw = append(raw, current)
		current = interval{cameraID: cam.CameraID, start: point.TS, end: point.TS, confSum: point.Confidence, confN: 1}
	}
	raw = append(raw, current)

	padding := secondsToDuration(params.Padding)
	for i := range raw {
		raw[i].start = raw[i].start.Add(-padding)
		raw[i].end = raw[i].end.Add(padding)
	}

	// Merge padded intervals whose gap closed to within merge_gap.
	mergeGap := secondsToDuration(params.MergeGap)
	merged := raw[:1]
	for _, iv := range raw[1:] {
		last := &merged[len(merged)-1]
		if iv.start.Sub(last.end) <= mergeGap {
			if iv.end.After(last.end) {
				last.end = iv.end
			}
			last.confSum += iv.confSum
			last.confN += iv.confN
			continue
		}
		merged = append(merged, iv)
	}

	var kept []interval
	for _, iv := range merged {
		if iv.duration() >= params.MinDuration {
			kept = append(kept, iv)
		}
	}
	return kept
}

// selectHighlights ranks intervals by quality score and greedily accepts
// them, each truncated to the per-clip cap, until the target duration is
// reached. The sort is stable over (score desc, start asc, camera asc) so
// identical inputs always produce the same acceptance order. Accepted clips
// keep that ranked order in the manifest, best moments first; they are
// deliberately not re-sorted into chronological order.
func selectHighlights(intervals []interval, params Params) []interval {
	ranked := make([]interval, len(intervals))
	copy(ranked, intervals)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].score(), ranked[j].score()
		if si != sj {
			return si > sj
		}
		if !ranked[i].start.Equal(ranked[j].start) {
			return ranked[i].start.Before(ranked[j].start)
		}
		return ranked[i].cameraID < ranked[j].cameraID
	})

	var accepted []interval
	var total float64
	for _, iv := range ranked {
		if total >= params.TargetSeconds {
			break
		}
		if params.PerClipCap > 0 && iv.duration() > params.PerClipCap {
			iv.end = iv.start.Add(secondsToDuration(params.PerClipCap))
		}
		accepted = append(accepted, iv)
		total += iv.duration()
	}
	return accepted
}

func sortChronological(intervals []interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		if !intervals[i].start.Equal(intervals[j].start) {
			return intervals[i].start.Before(intervals[j].start)
		}
		return intervals[i].cameraID < intervals[j].cameraID
	})
}

// resolveSegments intersects each interval with its camera's recorded
// segments, clipping to stream bounds and expressing the result as offsets
// into the segment file.
func resolveSegments(intervals []interval, cameras []CameraTimeline) []ManifestSegment {
	bounds := make(map[string][]SegmentBounds, len(cameras))
	for _, cam := range cameras {
		segs := make([]SegmentBounds, len(cam.Segments))
		copy(segs, cam.Segments)
		sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start.Before(segs[j].Start) })
		bounds[cam.CameraID] = segs
	}

	out := make([]ManifestSegment, 0, len(intervals))
	for _, iv := range intervals {
		for _, seg := range bounds[iv.cameraID] {
			start := later(iv.start, seg.Start)
			end := earlier(iv.end, seg.End)
			if !end.After(start) {
				continue
			}
			out = append(out, ManifestSegment{
				CameraID:    iv.cameraID,
				SegmentID:   seg.SegmentID,
				SegmentPath: seg.Path,
				StartOffset: round3(start.Sub(seg.Start).Seconds()),
				EndOffset:   round3(end.Sub(seg.Start).Seconds()),
				Score:       round3(iv.score()),
			})
		}
	}
	return out
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func round3(v float64) float64 {
	return float64(int64(v*1000+copysignHalf(v))) / 1000
}

func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}
