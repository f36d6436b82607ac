package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func eventsCmd(open opener, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage stored payment events",
	}
	cmd.AddCommand(eventsResubmitCmd(open, g))
	return cmd
}

func eventsResubmitCmd(open opener, g *globalFlags) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "resubmit [event-id]",
		Short: "Send a failed event back through validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id: %w", err)
			}
			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				ev, err := svc.intake.Resubmit(ctx, id, g.operator, notes)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), ev)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resubmitted %s: now %s\n", ev.ID, ev.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Reason recorded in the audit trail")
	return cmd
}
