package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quoteflow/internal/app"
	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
)

func revisionCmd() *cobra.Command {
	rv := &cobra.Command{Use: "revision", Short: "Revision negotiation"}
	rv.AddCommand(revisionRequestCmd())
	rv.AddCommand(revisionDecideCmd())
	rv.AddCommand(revisionImplementCmd())
	rv.AddCommand(revisionPendingCmd())
	rv.AddCommand(revisionListCmd())
	return rv
}

func revisionRequestCmd() *cobra.Command {
	var reason, description, urgency, impact string
	var sets []string
	var clientApproval bool
	cmd := &cobra.Command{
		Use:   "request <quotation-id>",
		Short: "Propose field changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			changes, err := parseChanges(sets)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.RequestRevision(ctx, engine.RevisionRequestOptions{
					QuotationID:            args[0],
					Actor:                  actor,
					Reason:                 domain.RevisionReason(strings.ToUpper(reason)),
					Description:            description,
					Urgency:                domain.Urgency(strings.ToLower(urgency)),
					Changes:                changes,
					EstimatedImpact:        domain.Impact(strings.ToLower(impact)),
					RequiresClientApproval: clientApproval,
				})
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value change, value parsed as JSON when valid (repeatable)")
	cmd.Flags().StringVar(&reason, "reason", string(domain.ReasonOther), "revision reason")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&urgency, "urgency", string(domain.UrgencyMedium), "low, medium, high or urgent")
	cmd.Flags().StringVar(&impact, "impact", string(domain.ImpactMedium), "low, medium or high")
	cmd.Flags().BoolVar(&clientApproval, "client-approval", false, "approval also needs the client")
	return cmd
}

func revisionDecideCmd() *cobra.Command {
	var comments string
	var conditions []string
	cmd := &cobra.Command{
		Use:   "decide <quotation-id> <revision-id> <approved|rejected>",
		Short: "Review a pending revision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.ApproveRevision(ctx, engine.RevisionDecisionOptions{
					QuotationID: args[0],
					RevisionID:  args[1],
					Actor:       actor,
					Decision:    domain.Decision(strings.ToLower(args[2])),
					Comments:    comments,
					Conditions:  conditions,
				})
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "review comments")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "condition attached to an approval (repeatable)")
	return cmd
}

func revisionImplementCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "implement <quotation-id> <revision-id>",
		Short: "Apply an approved revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.ImplementRevision(ctx, engine.ImplementRevisionOptions{
					QuotationID: args[0],
					RevisionID:  args[1],
					Actor:       actor,
					Notes:       notes,
				})
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "implementation notes")
	return cmd
}

func revisionPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List revisions awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				views, err := a.Engine.PendingRevisions(ctx, actor)
				if err != nil {
					return err
				}
				return printRevisions(views)
			})
		},
	}
}

func revisionListCmd() *cobra.Command {
	var reason, impact string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List revisions by reason or impact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" && impact == "" {
				return errors.New("--reason or --impact required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var views []engine.RevisionView
				var err error
				if reason != "" {
					r, perr := domain.ParseRevisionReason(strings.ToUpper(reason))
					if perr != nil {
						return perr
					}
					views, err = a.Engine.RevisionsByReason(ctx, r)
				} else {
					i, perr := domain.ParseImpact(strings.ToLower(impact))
					if perr != nil {
						return perr
					}
					views, err = a.Engine.RevisionsByImpact(ctx, i)
				}
				if err != nil {
					return err
				}
				if reason != "" && impact != "" {
					kept := views[:0]
					for _, v := range views {
						if strings.EqualFold(string(v.Revision.EstimatedImpact), impact) {
							kept = append(kept, v)
						}
					}
					views = kept
				}
				return printRevisions(views)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "revision reason")
	cmd.Flags().StringVar(&impact, "impact", "", "estimated impact")
	return cmd
}

func printRevisions(views []engine.RevisionView) error {
	if viper.GetBool("json") {
		return printJSON(views)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Quotation", "Revision", "#", "Reason", "Urgency", "Impact", "Status", "Requested"})
	for _, v := range views {
		r := v.Revision
		tw.AppendRow(table.Row{v.QuotationNumber, r.ID, r.RevisionNumber, r.Reason, r.Urgency, r.EstimatedImpact, r.Status, r.RequestedAt.Format(time.RFC3339)})
	}
	tw.Render()
	return nil
}

func parseChanges(sets []string) ([]domain.FieldChange, error) {
	out := make([]domain.FieldChange, 0, len(sets))
	for _, s := range sets {
		field, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("--set %q: want field=value", s)
		}
		out = append(out, domain.FieldChange{Field: strings.TrimSpace(field), NewValue: parseValue(value)})
	}
	return out, nil
}
