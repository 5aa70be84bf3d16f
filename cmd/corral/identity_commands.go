package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"corral/internal/api"
)

func newIdentityCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect and bind global identities",
	}
	cmd.AddCommand(newIdentityListCommand(ctx))
	cmd.AddCommand(newIdentityShowCommand(ctx))
	cmd.AddCommand(newIdentityConfirmCommand(ctx))
	cmd.AddCommand(newIdentityRebindCommand(ctx))
	return cmd
}

func newIdentityListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List global identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			identities, err := api.ListIdentities(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(identities))
			for _, id := range identities {
				rows = append(rows, []string{
					id.ID,
					id.Status,
					id.SubjectID,
					strconv.FormatBool(id.Active),
					strconv.Itoa(id.GallerySize),
					id.LastSeenAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "STATUS", "SUBJECT", "ACTIVE", "GALLERY", "LAST SEEN"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newIdentityShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <identity-id>",
		Short: "Show one identity with its association audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			detail, err := api.GetIdentityDetail(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			id := detail.Identity
			fmt.Fprintf(out, "identity %s\n", id.ID)
			fmt.Fprintf(out, "  status:    %s\n", id.Status)
			if id.SubjectID != "" {
				fmt.Fprintf(out, "  subject:   %s\n", id.SubjectID)
			}
			fmt.Fprintf(out, "  active:    %t\n", id.Active)
			fmt.Fprintf(out, "  gallery:   %d embeddings\n", id.GallerySize)
			fmt.Fprintf(out, "  last seen: %s\n", id.LastSeenAt)

			if len(detail.Associations) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(detail.Associations))
			for _, assoc := range detail.Associations {
				rows = append(rows, []string{
					assoc.TrackletID,
					assoc.Strategy,
					strconv.FormatFloat(assoc.Confidence, 'f', 3, 64),
					strconv.FormatFloat(assoc.WinMargin, 'f', 3, 64),
					assoc.DecidedAt,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"TRACKLET", "STRATEGY", "CONFIDENCE", "MARGIN", "DECIDED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newIdentityConfirmCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <identity-id> <subject-id>",
		Short: "Bind a tentative identity to a known subject",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view, err := api.ConfirmIdentity(cmd.Context(), cfg, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identity %s confirmed as subject %s\n", view.ID, view.SubjectID)
			return nil
		},
	}
}

func newIdentityRebindCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebind <identity-id> <subject-id>",
		Short: "Override an identity's confirmed subject binding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view, err := api.RebindIdentity(cmd.Context(), cfg, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identity %s rebound to subject %s\n", view.ID, view.SubjectID)
			return nil
		},
	}
}
