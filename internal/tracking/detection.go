package tracking

import (
	"fmt"
	"time"

	"corral/internal/store"
)

// Detection is one tracker frame for one local track, as delivered by a
// camera's edge pipeline.
type Detection struct {
	LocalTrackID int64      `json:"local_track_id"`
	TS           time.Time  `json:"ts"`
	BBox         store.BBox `json:"bbox"`
	Embedding    []float64  `json:"embedding,omitempty"`
	Confidence   float64    `json:"confidence"`
	SubjectID    string     `json:"subject_id,omitempty"`
}

// Validate rejects detections the store cannot represent.
func (d Detection) Validate() error {
	if d.LocalTrackID < 0 {
		return fmt.Errorf("negative local track id %d", d.LocalTrackID)
	}
	if d.TS.IsZero() {
		return fmt.Errorf("detection for track %d has no timestamp", d.LocalTrackID)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range", d.Confidence)
	}
	return nil
}
