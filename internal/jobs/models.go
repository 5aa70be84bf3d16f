package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"corral/internal/export"
)

// Status represents the lifecycle of an export job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseStatus validates a status string from the CLI or API.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := statusSet[status]; !ok {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return status, nil
}

// IsTerminal reports whether the status admits no further transitions other
// than an explicit retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// FailureClass distinguishes failures worth retrying from dead ends.
type FailureClass string

const (
	FailureRetryable FailureClass = "retryable"
	FailureTerminal  FailureClass = "terminal"
)

// Mode selects which planner the job runs.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeHighlights Mode = "highlights"
)

// ParseMode validates a mode string.
func ParseMode(raw string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case ModeSingle, ModeHighlights:
		return mode, nil
	}
	return "", fmt.Errorf("unknown export mode %q", raw)
}

// Params is the persisted job payload: the window plus the planner knobs.
// Render false produces the manifest without invoking the renderer.
type Params struct {
	WindowFrom time.Time     `json:"window_from"`
	WindowTo   time.Time     `json:"window_to"`
	Render     bool          `json:"render"`
	Plan       export.Params `json:"plan"`
}

// Marshal renders params as the canonical JSON stored in the jobs table and
// hashed into the dedupe key.
func (p Params) Marshal() (string, error) {
	p.WindowFrom = p.WindowFrom.UTC()
	p.WindowTo = p.WindowTo.UTC()
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal job params: %w", err)
	}
	return string(raw), nil
}

// Request describes a job submission. Dedupe false always enqueues a new
// job even when an identical one is already in flight.
type Request struct {
	IdentityID     string
	Mode           Mode
	Params         Params
	MaxRetries     int
	TimeoutSeconds int
	Dedupe         bool
}

// DedupeKey derives the identity of a submission. Two requests with the same
// identity, mode, and parameters share a key; while one is still in flight
// the second submission returns the first job instead of enqueuing a twin.
func (r Request) DedupeKey() (string, error) {
	payload, err := r.Params.Marshal()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(r.IdentityID + "|" + string(r.Mode) + "|" + payload))
	return hex.EncodeToString(sum[:]), nil
}

// Job is one row of the export queue.
type Job struct {
	ID              string
	IdentityID      string
	Mode            Mode
	Params          Params
	Status          Status
	FailureClass    FailureClass
	ErrorMessage    string
	AttemptCount    int
	MaxRetries      int
	TimeoutSeconds  int
	DedupeKey       string
	CancelRequested bool
	ClaimedBy       string
	ClaimedAt       time.Time
	LeaseExpiresAt  time.Time
	ManifestPath    string
	ArtifactPath    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AttemptsExhausted reports whether the job has no attempt budget left.
// A job may run at most max_retries+1 times.
func (j *Job) AttemptsExhausted() bool {
	return j.AttemptCount >= j.MaxRetries+1
}

// Timeout returns the per-attempt wall clock budget.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}
