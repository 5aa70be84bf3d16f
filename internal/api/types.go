package api

import (
	"time"

	"corral/internal/jobs"
	"corral/internal/store"
)

const apiTimeFormat = time.RFC3339

// JobView is the transport representation of an export job.
type JobView struct {
	ID              string `json:"id"`
	IdentityID      string `json:"identityId"`
	Mode            string `json:"mode"`
	Render          bool   `json:"render"`
	Status          string `json:"status"`
	FailureClass    string `json:"failureClass,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	AttemptCount    int    `json:"attemptCount"`
	MaxRetries      int    `json:"maxRetries"`
	CancelRequested bool   `json:"cancelRequested"`
	ClaimedBy       string `json:"claimedBy,omitempty"`
	WindowFrom      string `json:"windowFrom"`
	WindowTo        string `json:"windowTo"`
	ManifestPath    string `json:"manifestPath,omitempty"`
	ArtifactPath    string `json:"artifactPath,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// FromJob converts a queue row into its DTO.
func FromJob(job *jobs.Job) JobView {
	return JobView{
		ID:              job.ID,
		IdentityID:      job.IdentityID,
		Mode:            string(job.Mode),
		Render:          job.Params.Render,
		Status:          string(job.Status),
		FailureClass:    string(job.FailureClass),
		ErrorMessage:    job.ErrorMessage,
		AttemptCount:    job.AttemptCount,
		MaxRetries:      job.MaxRetries,
		CancelRequested: job.CancelRequested,
		ClaimedBy:       job.ClaimedBy,
		WindowFrom:      formatAPITime(job.Params.WindowFrom),
		WindowTo:        formatAPITime(job.Params.WindowTo),
		ManifestPath:    job.ManifestPath,
		ArtifactPath:    job.ArtifactPath,
		CreatedAt:       formatAPITime(job.CreatedAt),
		UpdatedAt:       formatAPITime(job.UpdatedAt),
	}
}

// IdentityView is the transport representation of a global identity.
type IdentityView struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	SubjectID   string `json:"subjectId,omitempty"`
	Active      bool   `json:"active"`
	GallerySize int    `json:"gallerySize"`
	CreatedAt   string `json:"createdAt"`
	LastSeenAt  string `json:"lastSeenAt"`
}

// FromIdentity converts a store identity into its DTO.
func FromIdentity(id *store.Identity) IdentityView {
	return IdentityView{
		ID:          id.ID,
		Status:      string(id.Status),
		SubjectID:   id.SubjectID,
		Active:      id.Active,
		GallerySize: len(id.Gallery),
		CreatedAt:   formatAPITime(id.CreatedAt),
		LastSeenAt:  formatAPITime(id.LastSeenAt),
	}
}

// AssociationView is the audit trail entry for one merge decision.
type AssociationView struct {
	TrackletID string  `json:"trackletId"`
	IdentityID string  `json:"identityId"`
	Confidence float64 `json:"confidence"`
	WinMargin  float64 `json:"winMargin"`
	Strategy   string  `json:"strategy"`
	DecidedAt  string  `json:"decidedAt"`
}

// FromAssociation converts a store association into its DTO.
func FromAssociation(assoc *store.Association) AssociationView {
	return AssociationView{
		TrackletID: assoc.TrackletID,
		IdentityID: assoc.IdentityID,
		Confidence: assoc.Confidence,
		WinMargin:  assoc.WinMargin,
		Strategy:   assoc.Strategy,
		DecidedAt:  formatAPITime(assoc.DecidedAt),
	}
}

// CameraView is the transport representation of a registered camera.
type CameraView struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Zone          string  `json:"zone,omitempty"`
	StreamURL     string  `json:"streamUrl,omitempty"`
	FrameInterval float64 `json:"frameIntervalSeconds"`
	CreatedAt     string  `json:"createdAt"`
}

// FromCamera converts a store camera into its DTO.
func FromCamera(cam *store.Camera) CameraView {
	return CameraView{
		ID:            cam.ID,
		Name:          cam.Name,
		Zone:          cam.Zone,
		StreamURL:     cam.StreamURL,
		FrameInterval: cam.FrameIntervalSeconds,
		CreatedAt:     formatAPITime(cam.CreatedAt),
	}
}

func formatAPITime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(apiTimeFormat)
}
