package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/review"
)

func reviewCmd(open opener, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and resolve queue items held for an operator",
	}
	cmd.AddCommand(reviewListCmd(open, g))
	cmd.AddCommand(reviewShowCmd(open, g))
	cmd.AddCommand(reviewActionCmd(open, g, domain.ActionConfirm, "Apply the payment to the chosen candidate"))
	cmd.AddCommand(reviewActionCmd(open, g, domain.ActionIgnore, "Close the item without touching the ledger"))
	cmd.AddCommand(reviewActionCmd(open, g, domain.ActionRequeue, "Send the item back to automatic matching"))
	return cmd
}

func reviewListCmd(open opener, g *globalFlags) *cobra.Command {
	var (
		statuses    []string
		institution string
		limit       int
		offset      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items awaiting review, exceptions first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.ReviewFilter{Limit: limit, Offset: offset}
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, domain.MatchStatus(s))
			}
			if institution != "" {
				id, err := uuid.Parse(institution)
				if err != nil {
					return fmt.Errorf("invalid --institution: %w", err)
				}
				filter.InstitutionID = &id
			}

			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				items, err := svc.review.List(ctx, filter)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), items)
				}
				printItems(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by match status (repeatable)")
	cmd.Flags().StringVar(&institution, "institution", "", "Filter by institution id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum items")
	cmd.Flags().IntVar(&offset, "offset", 0, "Items to skip")
	return cmd
}

func reviewShowCmd(open opener, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show [queue-item-id]",
		Short: "Show an item with its event, ranked candidates and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid queue item id: %w", err)
			}
			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				ri, err := svc.review.Get(ctx, id)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), ri)
				}
				printReviewItem(cmd.OutOrStdout(), ri)
				return nil
			})
		},
	}
}

func reviewActionCmd(open opener, g *globalFlags, action domain.QueueAction, short string) *cobra.Command {
	var (
		notes      string
		invoice    string
		feeAccount string
	)
	cmd := &cobra.Command{
		Use:   string(action) + " [queue-item-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid queue item id: %w", err)
			}
			req := review.ActionRequest{
				Action:      action,
				Notes:       notes,
				Operator:    g.operator,
				QueueItemID: id,
			}
			if invoice != "" || feeAccount != "" {
				sel, err := parseSelection(invoice, feeAccount)
				if err != nil {
					return err
				}
				req.Candidate = sel
			}

			return withServices(cmd, open, func(ctx context.Context, svc *services) error {
				res, err := svc.review.Act(ctx, req)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s -> %s\n", action, res.Item.ID, res.Item.MatchStatus)
				if res.Applied && res.Payment != nil {
					fmt.Fprintf(out, "applied %s %s as payment %s\n",
						res.Payment.Currency, formatMinor(res.Payment.AmountMinor), res.Payment.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Reason recorded in the audit trail")
	if action == domain.ActionConfirm {
		cmd.Flags().StringVar(&invoice, "invoice", "", "Invoice to apply the payment to")
		cmd.Flags().StringVar(&feeAccount, "fee-account", "", "Fee account to credit when no invoice is chosen")
	}
	return cmd
}

func parseSelection(invoice, feeAccount string) (*review.CandidateSelection, error) {
	sel := &review.CandidateSelection{}
	if invoice != "" {
		id, err := uuid.Parse(invoice)
		if err != nil {
			return nil, fmt.Errorf("invalid --invoice: %w", err)
		}
		sel.InvoiceID = &id
	}
	if feeAccount != "" {
		id, err := uuid.Parse(feeAccount)
		if err != nil {
			return nil, fmt.Errorf("invalid --fee-account: %w", err)
		}
		sel.FeeAccountID = &id
	}
	return sel, nil
}

func printItems(w io.Writer, items []*domain.QueueItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Nothing to review")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tCONFIDENCE\tRETRIES\tCREATED")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%d/%d\t%s\n",
			it.ID, it.MatchStatus, it.Priority, it.MatchConfidence,
			it.RetryCount, it.MaxRetries, it.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func printReviewItem(w io.Writer, ri *review.ReviewItem) {
	it, ev := ri.Item, ri.Event
	fmt.Fprintf(w, "Queue item %s\n", it.ID)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "  Status:      %s (priority %d, %d/%d retries)\n", it.MatchStatus, it.Priority, it.RetryCount, it.MaxRetries)
	if it.ProcessingNotes != "" {
		fmt.Fprintf(w, "  Notes:       %s\n", strings.ReplaceAll(it.ProcessingNotes, "\n", "\n               "))
	}

	if ev != nil {
		fmt.Fprintln(w, "\nPayment:")
		fmt.Fprintf(w, "  Reference:   %s (%s)\n", ev.ExternalReference, ev.Provider)
		if ev.AmountMinor != nil {
			fmt.Fprintf(w, "  Amount:      %s %s\n", ev.Currency, formatMinor(*ev.AmountMinor))
		}
		if ev.SenderName != "" || ev.SenderPhone != "" {
			fmt.Fprintf(w, "  Sender:      %s %s\n", ev.SenderName, ev.SenderPhone)
		}
		if ev.NormalizedPayload != nil && ev.NormalizedPayload.BillReference != "" {
			fmt.Fprintf(w, "  Bill ref:    %s\n", ev.NormalizedPayload.BillReference)
		}
	}

	fmt.Fprintln(w, "\nCandidates:")
	if len(ri.Candidates) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  SCORE\tSTUDENT\tACCOUNT\tINVOICE\tBALANCE\tSIGNALS")
		for _, c := range ri.Candidates {
			invoice := "-"
			if c.InvoiceID != nil {
				invoice = c.BillingReference + " " + c.InvoiceID.String()
			}
			signals := make([]string, 0, len(c.Signals))
			for _, s := range c.Signals {
				signals = append(signals, s.Name)
			}
			fmt.Fprintf(tw, "  %.2f\t%s\t%s\t%s\t%s\t%s\n",
				c.Score, c.StudentName, c.AccountNumber, invoice,
				formatMinor(c.BalanceMinor), strings.Join(signals, ","))
		}
		_ = tw.Flush()
	}

	if len(ri.Audit) > 0 {
		fmt.Fprintln(w, "\nAudit:")
		for _, a := range ri.Audit {
			fmt.Fprintf(w, "  %s  %-8s %-22s %s -> %s\n",
				a.CreatedAt.Format("2006-01-02 15:04:05"), a.Actor, a.Action, a.FromStatus, a.ToStatus)
		}
	}
}

func formatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
