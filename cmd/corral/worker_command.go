package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"corral/internal/jobs"
	"corral/internal/render"
	"corral/internal/store"
)

// newWorkerCommand runs export workers without the daemon's API server or
// lock, so extra render capacity can be added from other shells or hosts
// sharing the database.
func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run standalone export workers against the shared queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			if count <= 0 {
				count = cfg.Jobs.Workers
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			jobStore := jobs.NewStore(st.DB())
			planner := jobs.NewLibraryPlanner(st)
			renderer := render.NewCLI(render.WithBinary(cfg.FFmpegBinary()))

			var wg sync.WaitGroup
			for i := 0; i < count; i++ {
				worker := jobs.NewWorker(
					fmt.Sprintf("cli-%d-worker-%d", os.Getpid(), i),
					cfg, jobStore, planner, renderer, logger,
				)
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = worker.Run(runCtx)
				}()
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of workers (defaults to jobs.workers)")
	return cmd
}
