package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"corral/internal/daemon"
	"corral/internal/store"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the corral daemon: workers, janitor, and HTTP API",
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

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			d, err := daemon.New(cfg, st, logger)
			if err != nil {
				_ = st.Close()
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return err
			}
			<-runCtx.Done()
			d.Stop()
			return nil
		},
	}
}
