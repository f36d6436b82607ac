package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func statsCmd(open opener, g *globalFlags) *cobra.Command {
	var institution string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event and queue counts with per-provider totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var institutionID *uuid.UUID
			if institution != "" {
				id, err := uuid.Parse(institution)
				if err != nil {
					return fmt.Errorf("invalid --institution: %w", err)
				}
				institutionID = &id
			}

			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				snap, err := svc.stats.Snapshot(ctx, institutionID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, snap)
				}

				fmt.Fprintln(out, "Reconciliation Stats")
				fmt.Fprintln(out, strings.Repeat("=", 40))

				fmt.Fprintln(out, "\nEvents:")
				events := make(map[string]int64, len(snap.EventsByStatus))
				for k, v := range snap.EventsByStatus {
					events[string(k)] = v
				}
				printCounts(out, events)

				fmt.Fprintln(out, "\nQueue:")
				queue := make(map[string]int64, len(snap.QueueByStatus))
				for k, v := range snap.QueueByStatus {
					queue[string(k)] = v
				}
				printCounts(out, queue)

				if len(snap.Providers) > 0 {
					fmt.Fprintln(out, "\nProviders:")
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "  PROVIDER\tCURRENCY\tEVENTS\tPROCESSED\tAMOUNT")
					for _, p := range snap.Providers {
						fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%s\n",
							p.Provider, p.Currency, p.Events, p.Processed, formatMinor(p.ProcessedAmountMinor))
					}
					_ = tw.Flush()
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&institution, "institution", "", "Restrict to one institution")
	return cmd
}

func printCounts(w io.Writer, counts map[string]int64) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total int64
	for _, k := range keys {
		fmt.Fprintf(w, "  %-15s %d\n", k+":", counts[k])
		total += counts[k]
	}
	fmt.Fprintf(w, "  %-15s %d\n", "TOTAL:", total)
}
