package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"corral/internal/config"
	"corral/internal/export"
	"corral/internal/jobs"
	"corral/internal/services"
	"corral/internal/store"
)

// SubmitExportRequest carries one export submission. Zero planner values fall
// back to the configured defaults. NoRender requests a plan-only job and
// NoDedupe forces a new job even when an identical one is in flight.
type SubmitExportRequest struct {
	Config     *config.Config
	IdentityID string
	Mode       string
	WindowFrom time.Time
	WindowTo   time.Time
	NoRender   bool
	NoDedupe   bool

	Padding       *float64
	MergeGap      *float64
	MinDuration   *float64
	TargetSeconds *float64
	PerClipCap    *float64
}

// SubmitExportResult reports the job and whether the submission created it or
// deduplicated onto an existing one.
type SubmitExportResult struct {
	Job     JobView
	Created bool
}

// SubmitExport validates a request and enqueues it.
func SubmitExport(ctx context.Context, req SubmitExportRequest) (*SubmitExportResult, error) {
	if req.Config == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	st, err := store.Open(req.Config)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return SubmitExportUsing(ctx, st, req)
}

// SubmitExportUsing enqueues against an already open store, for callers that
// hold one, like the daemon's HTTP handlers.
func SubmitExportUsing(ctx context.Context, st *store.Store, req SubmitExportRequest) (*SubmitExportResult, error) {
	cfg := req.Config
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if strings.TrimSpace(req.IdentityID) == "" {
		return nil, fmt.Errorf("identity id is required")
	}
	mode, err := jobs.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if !req.WindowTo.After(req.WindowFrom) {
		return nil, fmt.Errorf("window end %s is not after start %s",
			req.WindowTo.Format(apiTimeFormat), req.WindowFrom.Format(apiTimeFormat))
	}

	identity, err := st.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "submit",
			fmt.Sprintf("identity %s", req.IdentityID), nil)
	}

	params := export.Params{
		Padding:     valueOr(req.Padding, cfg.Export.PaddingSeconds),
		MergeGap:    valueOr(req.MergeGap, cfg.Export.MergeGapSeconds),
		MinDuration: valueOr(req.MinDuration, cfg.Export.MinDurationSeconds),
	}
	if mode == jobs.ModeHighlights {
		params.Highlights = true
		params.TargetSeconds = valueOr(req.TargetSeconds, cfg.Export.TargetSeconds)
		params.PerClipCap = valueOr(req.PerClipCap, cfg.Export.PerClipSeconds)
	}

	job, created, err := jobs.NewStore(st.DB()).Submit(ctx, jobs.Request{
		IdentityID: req.IdentityID,
		Mode:       mode,
		Params: jobs.Params{
			WindowFrom: req.WindowFrom.UTC(),
			WindowTo:   req.WindowTo.UTC(),
			Render:     !req.NoRender,
			Plan:       params,
		},
		MaxRetries:     cfg.Jobs.MaxRetries,
		TimeoutSeconds: cfg.Jobs.TimeoutSeconds,
		Dedupe:         !req.NoDedupe,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitExportResult{Job: FromJob(job), Created: created}, nil
}

// JobStatus fetches one job by id.
func JobStatus(ctx context.Context, cfg *config.Config, jobID string) (*JobView, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	job, err := jobs.NewStore(st.DB()).Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := FromJob(job)
	return &view, nil
}

// ListJobs returns jobs newest first, optionally filtered by status names.
func ListJobs(ctx context.Context, cfg *config.Config, statusNames ...string) ([]JobView, error) {
	statuses := make([]jobs.Status, 0, len(statusNames))
	for _, name := range statusNames {
		status, err := jobs.ParseStatus(name)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	list, err := jobs.NewStore(st.DB()).List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(list))
	for _, job := range list {
		views = append(views, FromJob(job))
	}
	return views, nil
}

// CancelJob requests cancellation and returns the job's resulting state.
func CancelJob(ctx context.Context, cfg *config.Config, jobID string) (*JobView, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	job, err := jobs.NewStore(st.DB()).RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := FromJob(job)
	return &view, nil
}

// RetryJob requeues a retryably failed job.
func RetryJob(ctx context.Context, cfg *config.Config, jobID string) (*JobView, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	job, err := jobs.NewStore(st.DB()).Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := FromJob(job)
	return &view, nil
}

// JobManifest loads the plan a job wrote, if it progressed that far.
func JobManifest(ctx context.Context, cfg *config.Config, jobID string) (*export.Manifest, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	job, err := jobs.NewStore(st.DB()).Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ManifestPath == "" {
		return nil, fmt.Errorf("job %s has no manifest yet", jobID)
	}
	manifest, err := export.LoadManifest(job.ManifestPath)
	if err != nil {
		return nil, err
	}
	return &manifest, nil
}

// JobArtifact returns the path of a job's rendered artifact.
func JobArtifact(ctx context.Context, cfg *config.Config, jobID string) (string, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return "", fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	job, err := jobs.NewStore(st.DB()).Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.ArtifactPath == "" {
		return "", fmt.Errorf("job %s has no rendered artifact", jobID)
	}
	return job.ArtifactPath, nil
}

func valueOr(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}
