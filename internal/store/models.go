package store

import (
	"strings"
	"time"
)

// IdentityStatus represents confidence in a global identity's subject binding.
type IdentityStatus string

const (
	IdentityTentative IdentityStatus = "tentative"
	IdentityConfirmed IdentityStatus = "confirmed"
)

// ParseIdentityStatus converts a string into a known IdentityStatus.
func ParseIdentityStatus(value string) (IdentityStatus, bool) {
	normalized := IdentityStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case IdentityTentative, IdentityConfirmed:
		return normalized, true
	}
	return "", false
}

// Camera describes a registered camera stream.
type Camera struct {
	ID                   string
	Name                 string
	Zone                 string
	StreamURL            string
	FrameIntervalSeconds float64
	CreatedAt            time.Time
}

// MediaSegment is a recorded slice of a camera's stream. Export offsets are
// expressed against segments, which carry the stream bounds padded intervals
// are clipped to.
type MediaSegment struct {
	ID       string
	CameraID string
	Path     string
	StartTS  time.Time
	EndTS    time.Time
	Codec    string
}

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Tracklet is one camera's locally continuous detection of one subject.
// Appended to while the camera session is live; immutable once closed.
type Tracklet struct {
	ID           string
	CameraID     string
	LocalTrackID int64
	StartedAt    time.Time
	EndedAt      *time.Time
	Quality      float64
	Closed       bool
}

// Observation is a single timestamped detection inside a tracklet.
type Observation struct {
	ID         string
	TrackletID string
	TS         time.Time
	BBox       BBox
	Embedding  []float64
	Confidence float64
}

// Identity is the system's belief about one physical subject across cameras.
// Identities are never deleted; idle ones are marked inactive.
type Identity struct {
	ID         string
	Status     IdentityStatus
	SubjectID  string
	Gallery    [][]float64
	Active     bool
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Association is an audited record of a merge decision. Append-only: later
// decisions supersede earlier ones, nothing is mutated.
type Association struct {
	ID         string
	TrackletID string
	IdentityID string
	Confidence float64
	WinMargin  float64
	Strategy   string
	DecidedAt  time.Time
}
