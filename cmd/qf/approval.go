package main

import (
	"context"
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

func approvalCmd() *cobra.Command {
	ap := &cobra.Command{Use: "approval", Short: "Approval chain"}
	ap.AddCommand(approvalRequestCmd())
	ap.AddCommand(approvalDecideCmd())
	ap.AddCommand(approvalEscalateCmd())
	ap.AddCommand(approvalPendingCmd())
	return ap
}

func approvalRequestCmd() *cobra.Command {
	var level, urgency, reason, deadline string
	cmd := &cobra.Command{
		Use:   "request <quotation-id>",
		Short: "Open an approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			due, err := parseDate(deadline)
			if err != nil {
				return fmt.Errorf("--deadline: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.RequestApproval(ctx, engine.ApprovalRequestOptions{
					QuotationID: args[0],
					Actor:       actor,
					Level:       domain.ApprovalLevel(strings.ToUpper(level)),
					Urgency:     domain.Urgency(strings.ToLower(urgency)),
					Reason:      reason,
					Deadline:    due,
				})
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", string(domain.LevelManager), "MANAGER, DIRECTOR or EXECUTIVE")
	cmd.Flags().StringVar(&urgency, "urgency", string(domain.UrgencyMedium), "low, medium, high or urgent")
	cmd.Flags().StringVar(&reason, "reason", "", "why approval is needed")
	cmd.Flags().StringVar(&deadline, "deadline", "", "override the configured deadline (RFC3339)")
	return cmd
}

func approvalDecideCmd() *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   "decide <quotation-id> <approved|rejected>",
		Short: "Decide at the current approval level",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.Approve(ctx, engine.ApproveOptions{
					QuotationID: args[0],
					Actor:       actor,
					Decision:    domain.Decision(strings.ToLower(args[1])),
					Comments:    comments,
				})
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "decision comments")
	return cmd
}

func approvalEscalateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate <quotation-id>",
		Short: "Raise the urgency of a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Engine.EscalateApproval(ctx, args[0], actor, reason)
				if err != nil {
					return err
				}
				return printQuotation(q)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	return cmd
}

func approvalPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List approvals waiting at the actor's level",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				qs, err := a.Engine.PendingApprovals(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(qs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Title", "Level", "Urgency", "Deadline", "Escalations"})
				for _, q := range qs {
					deadline := ""
					if q.ApprovalDeadline != nil {
						deadline = q.ApprovalDeadline.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{q.ID, q.Number, q.Title, q.ApprovalLevel, q.ApprovalUrgency, deadline, q.EscalationCount})
				}
				tw.Render()
				return nil
			})
		},
	}
}
