package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"corral/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List export jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			jobViews, err := api.ListJobs(cmd.Context(), cfg, statuses...)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(jobViews))
			for i := range jobViews {
				job := &jobViews[i]
				rows = append(rows, []string{
					job.ID,
					job.IdentityID,
					job.Mode,
					describeStatus(job),
					strconv.Itoa(job.AttemptCount) + "/" + strconv.Itoa(job.MaxRetries+1),
					job.CreatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "IDENTITY", "MODE", "STATUS", "ATTEMPTS", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}
