package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"corral/internal/config"
	"corral/internal/export"
	"corral/internal/jobs"
	"corral/internal/render"
	"corral/internal/services"
	"corral/internal/testsupport"
)

type stubPlanner struct {
	input export.Input
	err   error
}

func (p *stubPlanner) BuildInput(ctx context.Context, job *jobs.Job) (export.Input, error) {
	if p.err != nil {
		return export.Input{}, p.err
	}
	input := p.input
	input.IdentityID = job.IdentityID
	input.WindowFrom = job.Params.WindowFrom
	input.WindowTo = job.Params.WindowTo
	input.Params = job.Params.Plan
	return input, nil
}

type fakeRenderer struct {
	cutErr   error
	onCut    func(call int)
	cuts     int
	concats  int
	artifact string
}

func (f *fakeRenderer) Cut(ctx context.Context, inputPath, outputPath string, startOffset, endOffset float64, progress func(render.ProgressUpdate)) error {
	f.cuts++
	if f.onCut != nil {
		f.onCut(f.cuts)
	}
	if f.cutErr != nil {
		return f.cutErr
	}
	return os.WriteFile(outputPath, []byte("clip"), 0o644)
}

func (f *fakeRenderer) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	f.concats++
	f.artifact = outputPath
	return os.WriteFile(outputPath, []byte("artifact"), 0o644)
}

// blockingRenderer never finishes a cut; it returns only once the job
// context is cancelled.
type blockingRenderer struct{}

func (blockingRenderer) Cut(ctx context.Context, _, _ string, _, _ float64, _ func(render.ProgressUpdate)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingRenderer) Concat(ctx context.Context, _ []string, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func plannerWithSegments(cfg *config.Config, segments int) *stubPlanner {
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	timeline := export.CameraTimeline{CameraID: "cam-a", FrameInterval: 0.25}
	for i := 0; i < segments; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		timeline.Observations = append(timeline.Observations,
			export.ObservationPoint{TS: start, Confidence: 0.9},
			export.ObservationPoint{TS: start.Add(250 * time.Millisecond), Confidence: 0.9},
			export.ObservationPoint{TS: start.Add(500 * time.Millisecond), Confidence: 0.9},
		)
		timeline.Segments = append(timeline.Segments, export.SegmentBounds{
			SegmentID: fmt.Sprintf("seg-%d", i),
			Path:      filepath.Join(cfg.Paths.MediaDir, fmt.Sprintf("seg-%d.mp4", i)),
			Start:     start,
			End:       start.Add(30 * time.Second),
		})
	}
	return &stubPlanner{input: export.Input{Cameras: []export.CameraTimeline{timeline}}}
}

func runWorkerOnce(t *testing.T, cfg *config.Config, js *jobs.Store, planner jobs.Planner, renderer render.Client, jobID string) *jobs.Job {
	t.Helper()
	worker := jobs.NewWorker("test-worker", cfg, js, planner, renderer, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(runCtx)
	}()

	deadline := time.After(10 * time.Second)
	for {
		job, err := js.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status.IsTerminal() {
			cancel()
			<-done
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s still %s after timeout", jobID, job.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func workerConfig(t *testing.T) *config.Config {
	cfg := testsupport.NewConfig(t)
	cfg.Jobs.PollIntervalSeconds = 1
	cfg.Jobs.LeaseSeconds = 60
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return cfg
}

func TestWorkerRendersClaimedJob(t *testing.T) {
	cfg := workerConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	js := jobs.NewStore(st.DB())

	job, _, err := js.Submit(context.Background(), sampleRequest("id-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	renderer := &fakeRenderer{}
	final := runWorkerOnce(t, cfg, js, plannerWithSegments(cfg, 2), renderer, job.ID)

	if final.Status != jobs.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if renderer.cuts != 2 || renderer.concats != 1 {
		t.Fatalf("expected 2 cuts and 1 concat, got %d and %d", renderer.cuts, renderer.concats)
	}
	if final.ArtifactPath == "" {
		t.Fatal("expected artifact path recorded")
	}
	if _, err := os.Stat(final.ArtifactPath); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if final.ManifestPath == "" {
		t.Fatal("expected manifest path recorded")
	}
	manifest, err := export.LoadManifest(final.ManifestPath)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(manifest.Segments) != 2 {
		t.Fatalf("expected 2 manifest segments, got %d", len(manifest.Segments))
	}

	// Staging left no clips behind.
	entries, err := os.ReadDir(cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty staging dir, found %d entries", len(entries))
	}
}

func TestWorkerSucceedsOnEmptyPlan(t *testing.T) {
	cfg := workerConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	js := jobs.NewStore(st.DB())

	job, _, err := js.Submit(context.Background(), sampleRequest("id-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	renderer := &fakeRenderer{}
	final := runWorkerOnce(t, cfg, js, &stubPlanner{}, renderer, job.ID)

	if final.Status != jobs.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if final.ArtifactPath != "" {
		t.Fatalf("expected no artifact for empty plan, got %s", final.ArtifactPath)
	}
	if renderer.cuts != 0 || renderer.concats != 0 {
		t.Fatal("renderer must not run for an empty plan")
	}
}

func TestWorkerSkipsRenderForPlanOnlyJob(t *testing.T) {
	cfg := workerConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	js := jobs.NewStore(st.DB())

	req := sampleRequest("id-1")
	req.Params.Render = false
	job, _, err := js.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	renderer := &fakeRenderer{}
	final := runWorkerOnce(t, cfg, js, plannerWithSegments(cfg, 2), renderer, job.ID)

	if final.Status != jobs.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if renderer.cuts != 0 || renderer.concats != 0 {
		t.Fatal("renderer must not run for a plan-only job")
	}
	if final.ArtifactPath != "" {
		t.Fatalf("expected no artifact for plan-only job, got %s", final.ArtifactPath)
	}
	if final.ManifestPath == "" {
		t.Fatal("expected manifest recorded for plan-only job")
	}
	manifest, err := export.LoadManifest(final.ManifestPath)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(manifest.Segments) != 2 {
		t.Fatalf("expected 2 manifest segments, got %d", len(manifest.Segments))
	}
}

func TestWorkerHonorsCancelBetweenCuts(t *testing.T) {
	cfg := workerConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	js := jobs.NewStore(st.DB())

	job, _, err := js.Submit(context.Background(), sampleRequest("id-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	renderer := &fakeRenderer{}
	renderer.onCut = func(call int) {
		if call == 1 {
			// Cancellation lands while the first cut is in flight; the
			// checkpoint before the second cut must honor it.
			if _, err := js.RequestCancel(context.Background(), job.ID); err != nil {
				t.Errorf("request cancel: %v", err)
			}
		}
	}

	final := runWorkerOnce(t, cfg, js, plannerWithSegments(cfg, 3), renderer, job.ID)

	if final.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if renderer.cuts != 1 {
		t.Fatalf("expected exactly one cut before the checkpoint, got %d", renderer.cuts)
	}
	if renderer.concats != 0 {
		t.Fatal("cancelled job must not concatenate")
	}
	if final.ArtifactPath != "" {
		t.Fatalf("cancelled job recorded artifact %s", final.ArtifactPath)
	}

	entries, err := os.ReadDir(cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected staging cleaned after cancel, found %d entries", len(entries))
	}
	exports, err := os.ReadDir(cfg.Paths.ExportDir)
	if err != nil {
		t.Fatalf("read exports: %v", err)
	}
	for _, entry := range exports {
		if !entry.IsDir() {
			t.Fatalf("cancelled job left partial artifact %s", entry.Name())
		}
	}
}

func TestWorkerClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		planner   jobs.Planner
		renderer  *fakeRenderer
		wantClass jobs.FailureClass
	}{
		{
			name:      "render failure is retryable",
			renderer:  &fakeRenderer{cutErr: errors.New("ffmpeg exited 1")},
			wantClass: jobs.FailureRetryable,
		},
		{
			name:      "missing identity is terminal",
			planner:   &stubPlanner{err: services.Wrap(services.ErrNotFound, "jobs", "plan", "identity id-1 not found", nil)},
			renderer:  &fakeRenderer{},
			wantClass: jobs.FailureTerminal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := workerConfig(t)
			st := testsupport.MustOpenStore(t, cfg)
			js := jobs.NewStore(st.DB())

			job, _, err := js.Submit(context.Background(), sampleRequest("id-1"))
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			planner := tc.planner
			if planner == nil {
				planner = plannerWithSegments(cfg, 1)
			}
			final := runWorkerOnce(t, cfg, js, planner, tc.renderer, job.ID)

			if final.Status != jobs.StatusFailed {
				t.Fatalf("expected failed, got %s", final.Status)
			}
			if final.FailureClass != tc.wantClass {
				t.Fatalf("expected %s failure, got %s (%s)", tc.wantClass, final.FailureClass, final.ErrorMessage)
			}
		})
	}
}

func TestWorkerTimeoutExhaustsAttemptBudget(t *testing.T) {
	cfg := workerConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	js := jobs.NewStore(st.DB())

	req := sampleRequest("id-1")
	req.MaxRetries = 2
	req.TimeoutSeconds = 1
	job, _, err := js.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Every attempt hangs in the renderer until the wall clock deadline
	// fires. The first two failures are retryable, the third spends the
	// budget and goes terminal.
	for attempt := 1; attempt <= 3; attempt++ {
		final := runWorkerOnce(t, cfg, js, plannerWithSegments(cfg, 1), blockingRenderer{}, job.ID)

		if final.Status != jobs.StatusFailed {
			t.Fatalf("attempt %d: expected failed, got %s", attempt, final.Status)
		}
		if final.AttemptCount != attempt {
			t.Fatalf("expected attempt count %d, got %d", attempt, final.AttemptCount)
		}
		if !strings.Contains(final.ErrorMessage, "timed out") {
			t.Fatalf("attempt %d: expected timeout error, got %q", attempt, final.ErrorMessage)
		}
		if attempt < 3 {
			if final.FailureClass != jobs.FailureRetryable {
				t.Fatalf("attempt %d: expected retryable failure, got %s", attempt, final.FailureClass)
			}
			if _, err := js.Retry(context.Background(), job.ID); err != nil {
				t.Fatalf("retry after attempt %d: %v", attempt, err)
			}
			continue
		}
		if final.FailureClass != jobs.FailureTerminal {
			t.Fatalf("expected terminal failure once the budget is spent, got %s", final.FailureClass)
		}
	}

	if _, err := js.Retry(context.Background(), job.ID); !errors.Is(err, jobs.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable for a terminal timeout, got %v", err)
	}
}
