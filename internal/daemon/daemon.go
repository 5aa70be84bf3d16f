package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"corral/internal/config"
	"corral/internal/jobs"
	"corral/internal/logging"
	"corral/internal/render"
	"corral/internal/store"
)

// Daemon owns the long-running pieces of corral: the shared store, the export
// worker pool, the identity janitor, and the HTTP API. One daemon instance
// runs per database, enforced with a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	jobStore *jobs.Store

	lockPath string
	lock     *flock.Flock

	api     *apiServer
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DBPath       string
	LockFilePath string
	Workers      int
	Jobs         map[jobs.Status]int
}

// New constructs a daemon around an open store.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "corrald.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		jobStore: jobs.NewStore(st.DB()),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and launches the worker pool, the identity
// janitor, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another corral daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	planner := jobs.NewLibraryPlanner(d.store)
	renderer := render.NewCLI(render.WithBinary(d.cfg.FFmpegBinary()))
	for i := 0; i < d.cfg.Jobs.Workers; i++ {
		worker := jobs.NewWorker(
			fmt.Sprintf("%s-worker-%d", hostnameOrPID(), i),
			d.cfg, d.jobStore, planner, renderer, d.logger,
		)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			_ = worker.Run(d.ctx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runJanitor(d.ctx)
	}()

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.Stop()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("corral daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.cfg.Jobs.Workers),
	)
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	if d.running.Swap(false) {
		d.logger.Info("corral daemon stopped")
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status reports the daemon's runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.jobStore.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read job stats", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Workers:      d.cfg.Jobs.Workers,
		Jobs:         stats,
	}
}

// runJanitor periodically deactivates identities that have gone quiet so the
// resolver stops considering them as merge candidates.
func (d *Daemon) runJanitor(ctx context.Context) {
	idle := time.Duration(d.cfg.Resolver.IdentityIdleSeconds) * time.Second
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := d.store.DeactivateIdle(ctx, time.Now().Add(-idle))
			if err != nil {
				d.logger.Warn("identity janitor sweep failed", logging.Error(err))
				continue
			}
			if count > 0 {
				d.logger.Info("deactivated idle identities", logging.Int64("count", count))
			}
		}
	}
}

func hostnameOrPID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("pid-%d", os.Getpid())
}
