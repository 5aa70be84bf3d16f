package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"corral/internal/config"
	"corral/internal/export"
	"corral/internal/logging"
	"corral/internal/render"
	"corral/internal/services"
)

// Worker polls the queue, claims jobs, and renders them. Several workers may
// run against the same database, in one process or many.
type Worker struct {
	id       string
	cfg      *config.Config
	store    *Store
	planner  Planner
	renderer render.Client
	logger   *slog.Logger

	pollInterval time.Duration
	lease        time.Duration
}

// NewWorker wires a worker from its collaborators.
func NewWorker(id string, cfg *config.Config, store *Store, planner Planner, renderer render.Client, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		id:           id,
		cfg:          cfg,
		store:        store,
		planner:      planner,
		renderer:     renderer,
		logger:       logger.With(logging.String(logging.FieldWorkerID, id)),
		pollInterval: time.Duration(cfg.Jobs.PollIntervalSeconds) * time.Second,
		lease:        time.Duration(cfg.Jobs.LeaseSeconds) * time.Second,
	}
}

// Run polls until the context is cancelled. After finishing a job it claims
// again immediately so a backlog drains without waiting out the poll tick.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", logging.Duration("poll_interval", w.pollInterval))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		for {
			job, err := w.store.Claim(ctx, w.id, w.lease)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Warn("claim failed", logging.Error(err))
				break
			}
			if job == nil {
				break
			}
			w.execute(ctx, job)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// errCancelled marks cooperative cancellation inside execute.
var errCancelled = errors.New("job cancelled")

func (w *Worker) execute(ctx context.Context, job *Job) {
	logger := w.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldIdentityID, job.IdentityID),
		logging.String("mode", string(job.Mode)),
		logging.Int("attempt", job.AttemptCount),
	)
	logger.Info("job claimed")

	// The wall clock budget runs from claim time, not from render start, so
	// a stuck plan gather counts against it too.
	deadline := job.ClaimedAt.Add(job.Timeout())
	jobCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	heartbeatDone := w.startHeartbeat(jobCtx, cancel, job, logger)
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	artifactPath, err := w.run(jobCtx, job, logger)
	switch {
	case err == nil:
		if markErr := w.store.MarkSucceeded(ctx, job.ID, w.id, artifactPath); markErr != nil {
			logger.Error("failed to mark job succeeded", logging.Error(markErr))
			return
		}
		logger.Info("job succeeded", logging.String("artifact", artifactPath))
	case errors.Is(err, errCancelled):
		if markErr := w.store.MarkCancelled(ctx, job.ID, w.id); markErr != nil {
			logger.Error("failed to mark job cancelled", logging.Error(markErr))
			return
		}
		logger.Info("job cancelled")
	case errors.Is(err, ErrLeaseLost):
		// Another worker owns the job now; it is not ours to finish.
		logger.Warn("job lease lost mid-run")
	default:
		class := FailureRetryable
		if services.IsTerminal(err) || job.AttemptsExhausted() {
			class = FailureTerminal
		}
		if errors.Is(err, context.DeadlineExceeded) && time.Now().After(deadline) {
			err = fmt.Errorf("timed out after %s: %w", job.Timeout(), err)
		}
		if markErr := w.store.MarkFailed(ctx, job.ID, w.id, class, err.Error()); markErr != nil {
			logger.Error("failed to mark job failed", logging.Error(markErr))
			return
		}
		logger.Warn("job failed", logging.String("class", string(class)), logging.Error(err))
	}
}

// startHeartbeat renews the lease on a fixed cadence. A lost lease cancels
// the job context, which the render pipeline observes at its next checkpoint.
func (w *Worker) startHeartbeat(ctx context.Context, cancel context.CancelFunc, job *Job, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	interval := w.lease / 2
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.store.RenewLease(ctx, job.ID, w.id, w.lease); err != nil {
					if errors.Is(err, ErrLeaseLost) {
						logger.Warn("lease reclaimed by another worker")
						cancel()
						return
					}
					logger.Warn("lease renewal failed", logging.Error(err))
				}
			}
		}
	}()
	return done
}

func (w *Worker) run(ctx context.Context, job *Job, logger *slog.Logger) (string, error) {
	if err := w.checkpoint(ctx, job); err != nil {
		return "", err
	}

	input, err := w.planner.BuildInput(ctx, job)
	if err != nil {
		return "", err
	}

	manifest := export.Plan(input)
	manifestPath := filepath.Join(w.cfg.Paths.ExportDir, "manifests", fmt.Sprintf("job-%s.json", job.ID))
	if err := manifest.Save(manifestPath); err != nil {
		return "", err
	}
	if err := w.store.SetManifestPath(ctx, job.ID, w.id, manifestPath); err != nil {
		return "", err
	}
	logger.Info("manifest written",
		logging.Int("segments", len(manifest.Segments)),
		logging.Float64("duration_seconds", manifest.TotalDuration()),
	)

	if len(manifest.Segments) == 0 {
		// Nothing observed in the window. The job still succeeds; the
		// manifest records the empty plan.
		return "", nil
	}
	if !job.Params.Render {
		// Plan-only request: the manifest is the deliverable.
		return "", nil
	}

	return w.render(ctx, job, manifest, logger)
}

// render cuts each manifest segment into staging, then concatenates them into
// the final artifact. Cancellation is honored between cuts; partial staging
// output is always removed, so no cancelled or failed job leaves clips behind.
func (w *Worker) render(ctx context.Context, job *Job, manifest export.Manifest, logger *slog.Logger) (string, error) {
	clips := make([]string, 0, len(manifest.Segments))
	defer func() {
		for _, clip := range clips {
			if err := os.Remove(clip); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove staging clip", logging.String("path", clip), logging.Error(err))
			}
		}
	}()

	for i, seg := range manifest.Segments {
		if err := w.checkpoint(ctx, job); err != nil {
			return "", err
		}
		clip := render.ClipPath(w.cfg.Paths.StagingDir, job.ID, i)
		logger.Debug("cutting segment",
			logging.String(logging.FieldCameraID, seg.CameraID),
			logging.String("source", seg.SegmentPath),
			logging.Float64("start_offset", seg.StartOffset),
			logging.Float64("end_offset", seg.EndOffset),
		)
		if err := w.renderer.Cut(ctx, seg.SegmentPath, clip, seg.StartOffset, seg.EndOffset, nil); err != nil {
			if ctx.Err() != nil {
				if cancelled, _ := w.store.CancelRequested(context.WithoutCancel(ctx), job.ID); cancelled {
					return "", errCancelled
				}
			}
			return "", services.Wrap(services.ErrExternalTool, "jobs", "render", "cut segment", err)
		}
		clips = append(clips, clip)
	}

	if err := w.checkpoint(ctx, job); err != nil {
		return "", err
	}

	artifact := filepath.Join(w.cfg.Paths.ExportDir, fmt.Sprintf("%s-%s.mp4", job.IdentityID, job.ID))
	if err := w.renderer.Concat(ctx, clips, artifact); err != nil {
		if removeErr := os.Remove(artifact); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("failed to remove partial artifact", logging.Error(removeErr))
		}
		return "", services.Wrap(services.ErrExternalTool, "jobs", "render", "concatenate clips", err)
	}
	return artifact, nil
}

// checkpoint is the cooperative cancellation point between pipeline stages.
func (w *Worker) checkpoint(ctx context.Context, job *Job) error {
	cancelled, err := w.store.CancelRequested(ctx, job.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return errCancelled
	}
	return ctx.Err()
}
