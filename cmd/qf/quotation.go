package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quoteflow/internal/app"
	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
)

func quotationCmd() *cobra.Command {
	q := &cobra.Command{Use: "quotation", Aliases: []string{"q"}, Short: "Manage quotations"}
	q.AddCommand(quotationCreateCmd())
	q.AddCommand(quotationShowCmd())
	q.AddCommand(quotationTransitionCmd())
	q.AddCommand(quotationTransitionsCmd())
	q.AddCommand(quotationLogCmd())
	return q
}

func quotationCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var items []string
	var validFrom, validUntil string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a DRAFT quotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			opts.Actor = actor
			if opts.Items, err = parseItems(items); err != nil {
				return err
			}
			if opts.ValidFrom, err = parseDate(validFrom); err != nil {
				return fmt.Errorf("--valid-from: %w", err)
			}
			if opts.ValidUntil, err = parseDate(validUntil); err != nil {
				return fmt.Errorf("--valid-until: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.CreateQuotation(ctx, opts)
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "quotation title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().StringArrayVar(&items, "item", nil, "line item as description:quantity:unit_price (repeatable)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "ISO currency (default USD)")
	cmd.Flags().Float64Var(&opts.TaxRate, "tax-rate", 0, "tax percentage")
	cmd.Flags().Float64Var(&opts.DiscountRate, "discount-rate", 0, "discount percentage")
	cmd.Flags().StringVar(&opts.Terms, "terms", "", "terms")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority label")
	cmd.Flags().StringVar(&validFrom, "valid-from", "", "start of validity (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&validUntil, "valid-until", "", "end of validity (YYYY-MM-DD or RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func quotationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a quotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.GetQuotation(ctx, args[0])
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
}

func quotationTransitionCmd() *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Move a quotation to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			target, err := domain.ParseStatus(strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.Transition(ctx, args[0], target, actor, comments)
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "comments recorded in the status history")
	return cmd
}

func quotationTransitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <id>",
		Short: "List statuses the actor can move the quotation to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.GetQuotation(ctx, args[0])
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Target", "Allowed", "Reason", "Approval"})
				var rows []map[string]any
				for _, s := range domain.Statuses {
					if _, ok := a.Engine.Table.Entry(q.Status, s); !ok {
						continue
					}
					d, err := a.Engine.CanTransition(ctx, q.ID, s, actor)
					if err != nil {
						return err
					}
					rows = append(rows, map[string]any{"target": s, "allowed": d.Allowed, "reason": d.Reason, "required_approval": d.RequiredApproval})
					tw.AppendRow(table.Row{s, d.Allowed, d.Reason, d.RequiredApproval})
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"current": q.Status, "transitions": rows})
				}
				fmt.Printf("current: %s\n", q.Status)
				tw.Render()
				return nil
			})
		},
	}
}

func quotationLogCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show the audit log of a quotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				recs, err := a.Engine.ListEvents(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor", "Details"})
				for _, r := range recs {
					tw.AppendRow(table.Row{r.ID, r.TS.Format(time.RFC3339), r.Type, r.ActorID, string(r.Details)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func printQuotation(q domain.Quotation) error {
	if viper.GetBool("json") {
		return printJSON(q)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", q.ID},
		{"Number", q.Number},
		{"Title", q.Title},
		{"Client", q.ClientID},
		{"Status", q.Status},
		{"Version", q.Version},
		{"Total", fmt.Sprintf("%.2f %s", q.Total, q.Currency)},
	})
	if q.ApprovalPending() {
		deadline := ""
		if q.ApprovalDeadline != nil {
			deadline = q.ApprovalDeadline.Format(time.RFC3339)
		}
		tw.AppendRow(table.Row{"Approval", fmt.Sprintf("%s (%s) due %s", q.ApprovalLevel, q.ApprovalUrgency, deadline)})
	}
	if q.ActiveRevision != nil {
		tw.AppendRow(table.Row{"Revision", fmt.Sprintf("%s %s (%s)", q.ActiveRevision.ID, q.ActiveRevision.Reason, q.RevisionStatus)})
	}
	tw.Render()
	return nil
}

// parseItems decodes description:quantity:unit_price triples.
func parseItems(in []string) ([]domain.LineItem, error) {
	out := make([]domain.LineItem, 0, len(in))
	for _, raw := range in {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("item %q: want description:quantity:unit_price", raw)
		}
		qty, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("item %q quantity: %w", raw, err)
		}
		price, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("item %q unit price: %w", raw, err)
		}
		out = append(out, domain.LineItem{Description: parts[0], Quantity: qty, UnitPrice: price})
	}
	return out, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised time %q", s)
}

// parseValue reads a change value as JSON, falling back to a plain string.
func parseValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
