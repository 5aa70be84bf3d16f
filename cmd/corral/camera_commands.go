package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"corral/internal/api"
	"corral/internal/store"
)

func newCameraCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "camera",
		Short: "Manage cameras and their recorded media segments",
	}
	cmd.AddCommand(newCameraAddCommand(ctx))
	cmd.AddCommand(newCameraListCommand(ctx))
	cmd.AddCommand(newCameraSegmentCommand(ctx))
	return cmd
}

func newCameraAddCommand(ctx *commandContext) *cobra.Command {
	var (
		name          string
		zone          string
		streamURL     string
		frameInterval float64
	)

	cmd := &cobra.Command{
		Use:   "add <camera-id>",
		Short: "Register a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view, err := api.RegisterCamera(cmd.Context(), api.RegisterCameraRequest{
				Config:        cfg,
				CameraID:      args[0],
				Name:          name,
				Zone:          zone,
				StreamURL:     streamURL,
				FrameInterval: frameInterval,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered camera %s (frame interval %ss)\n",
				view.ID, strconv.FormatFloat(view.FrameInterval, 'g', -1, 64))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable camera name")
	cmd.Flags().StringVar(&zone, "zone", "", "Zone the camera covers")
	cmd.Flags().StringVar(&streamURL, "stream-url", "", "Source stream URL")
	cmd.Flags().Float64Var(&frameInterval, "frame-interval", 0, "Native frame interval in seconds")
	return cmd
}

func newCameraListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			cameras, err := st.ListCameras(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(cameras))
			for _, cam := range cameras {
				rows = append(rows, []string{
					cam.ID,
					cam.Name,
					cam.Zone,
					strconv.FormatFloat(cam.FrameIntervalSeconds, 'g', -1, 64),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "NAME", "ZONE", "FRAME INTERVAL"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newCameraSegmentCommand(ctx *commandContext) *cobra.Command {
	var (
		start string
		end   string
		codec string
	)

	cmd := &cobra.Command{
		Use:   "add-segment <camera-id> <path>",
		Short: "Register a recorded media segment for a camera",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			startTS, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("parse --start: %w", err)
			}
			endTS, err := time.Parse(time.RFC3339, end)
			if err != nil {
				return fmt.Errorf("parse --end: %w", err)
			}
			if err := api.AddSegment(cmd.Context(), api.AddSegmentRequest{
				Config:   cfg,
				CameraID: args[0],
				Path:     args[1],
				Start:    startTS,
				End:      endTS,
				Codec:    codec,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered segment %s for camera %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Recording start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Recording end (RFC3339)")
	cmd.Flags().StringVar(&codec, "codec", "", "Media codec")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <camera-id> <detections.ndjson>",
		Short: "Replay a detection file through the ingest pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			if err := api.IngestFile(cmd.Context(), cfg, args[0], args[1], logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %s for camera %s\n", args[1], args[0])
			return nil
		},
	}
}
