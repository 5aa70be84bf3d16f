package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"corral/internal/api"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Submit and manage export jobs",
	}
	cmd.AddCommand(newExportSubmitCommand(ctx))
	cmd.AddCommand(newExportStatusCommand(ctx))
	cmd.AddCommand(newExportCancelCommand(ctx))
	cmd.AddCommand(newExportRetryCommand(ctx))
	cmd.AddCommand(newExportManifestCommand(ctx))
	cmd.AddCommand(newExportArtifactCommand(ctx))
	return cmd
}

func newExportSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		mode        string
		from        string
		to          string
		noRender    bool
		noDedupe    bool
		padding     float64
		mergeGap    float64
		minDuration float64
		target      float64
		perClip     float64
	)

	cmd := &cobra.Command{
		Use:   "submit <identity-id>",
		Short: "Submit an export job for an identity over a time window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			windowFrom, err := time.Parse(time.RFC3339, from)
			if err != nil {
				return fmt.Errorf("parse --from: %w", err)
			}
			windowTo, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return fmt.Errorf("parse --to: %w", err)
			}

			req := api.SubmitExportRequest{
				Config:     cfg,
				IdentityID: args[0],
				Mode:       mode,
				WindowFrom: windowFrom,
				WindowTo:   windowTo,
				NoRender:   noRender,
				NoDedupe:   noDedupe,
			}
			flags := cmd.Flags()
			if flags.Changed("padding") {
				req.Padding = &padding
			}
			if flags.Changed("merge-gap") {
				req.MergeGap = &mergeGap
			}
			if flags.Changed("min-duration") {
				req.MinDuration = &minDuration
			}
			if flags.Changed("target") {
				req.TargetSeconds = &target
			}
			if flags.Changed("per-clip") {
				req.PerClipCap = &perClip
			}

			result, err := api.SubmitExport(cmd.Context(), req)
			if err != nil {
				return err
			}
			if result.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s\n", result.Job.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "matched existing job %s (%s)\n", result.Job.ID, result.Job.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "single", "Export mode: single or highlights")
	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC3339)")
	cmd.Flags().BoolVar(&noRender, "no-render", false, "Plan the cut list without rendering video")
	cmd.Flags().BoolVar(&noDedupe, "no-dedupe", false, "Enqueue a new job even if an identical one is in flight")
	cmd.Flags().Float64Var(&padding, "padding", 0, "Padding seconds around presence intervals")
	cmd.Flags().Float64Var(&mergeGap, "merge-gap", 0, "Merge intervals closer than this many seconds")
	cmd.Flags().Float64Var(&minDuration, "min-duration", 0, "Drop intervals shorter than this many seconds")
	cmd.Flags().Float64Var(&target, "target", 0, "Highlights target duration in seconds")
	cmd.Flags().Float64Var(&perClip, "per-clip", 0, "Highlights per-clip cap in seconds")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newExportStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one export job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			job, err := api.JobStatus(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func newExportCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job or request cancellation of a running one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			job, err := api.CancelJob(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			if job.Status == "cancelled" {
				fmt.Fprintf(cmd.OutOrStdout(), "job %s cancelled\n", job.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for job %s (%s)\n", job.ID, job.Status)
			}
			return nil
		},
	}
}

func newExportRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a retryably failed or cancelled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			job, err := api.RetryJob(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s requeued (attempt %d of %d)\n",
				job.ID, job.AttemptCount+1, job.MaxRetries+1)
			return nil
		},
	}
}

func newExportManifestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <job-id>",
		Short: "Print the cut list a job planned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manifest, err := api.JobManifest(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			data, err := manifest.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newExportArtifactCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "artifact <job-id>",
		Short: "Print the path of a job's rendered artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := api.JobArtifact(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *api.JobView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s\n", job.ID)
	fmt.Fprintf(out, "  identity: %s\n", job.IdentityID)
	fmt.Fprintf(out, "  mode:     %s\n", job.Mode)
	fmt.Fprintf(out, "  status:   %s\n", describeStatus(job))
	fmt.Fprintf(out, "  window:   %s .. %s\n", job.WindowFrom, job.WindowTo)
	fmt.Fprintf(out, "  attempts: %s\n", strconv.Itoa(job.AttemptCount)+"/"+strconv.Itoa(job.MaxRetries+1))
	if job.ClaimedBy != "" {
		fmt.Fprintf(out, "  worker:   %s\n", job.ClaimedBy)
	}
	if job.ManifestPath != "" {
		fmt.Fprintf(out, "  manifest: %s\n", job.ManifestPath)
	}
	if job.ArtifactPath != "" {
		fmt.Fprintf(out, "  artifact: %s\n", job.ArtifactPath)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  error:    %s\n", job.ErrorMessage)
	}
}

func describeStatus(job *api.JobView) string {
	if job.Status == "failed" && job.FailureClass != "" {
		return job.Status + " (" + job.FailureClass + ")"
	}
	if job.CancelRequested && job.Status == "running" {
		return job.Status + " (cancel requested)"
	}
	return job.Status
}
