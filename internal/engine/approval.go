package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"quoteflow/internal/domain"
	"quoteflow/internal/events"
	"quoteflow/internal/notify"
	"quoteflow/internal/policy"
	"quoteflow/internal/repo"
	"quoteflow/internal/workflow"
)

type ApprovalRequestOptions struct {
	QuotationID string
	Actor       domain.Actor
	Level       domain.ApprovalLevel
	Reason      string
	// Urgency defaults to medium.
	Urgency domain.Urgency
	// Deadline overrides the configured deadline for Urgency.
	Deadline *time.Time
}

// RequestApproval opens an approval request at the given level.
func (e Engine) RequestApproval(ctx context.Context, opts ApprovalRequestOptions) (domain.Quotation, error) {
	level := opts.Level
	if level == "" {
		level = domain.LevelManager
	}
	if level.Rank() < 0 {
		return domain.Quotation{}, ValidationError{Field: "level", Reason: fmt.Sprintf("unknown approval level %q", level)}
	}
	urgency := opts.Urgency
	if urgency == "" {
		urgency = domain.UrgencyMedium
	}
	if urgency.Rank() < 0 {
		return domain.Quotation{}, ValidationError{Field: "urgency", Reason: fmt.Sprintf("unknown urgency %q", urgency)}
	}
	return e.mutate(ctx, opts.QuotationID, opts.Actor, "approval.requested", func(m *mutation) error {
		q := &m.Q
		if err := policy.Require(opts.Actor, *q, policy.ActionRequestApproval); err != nil {
			return err
		}
		if q.ApprovalPending() {
			return StateError{QuotationID: q.ID, Reason: "approval already pending"}
		}
		deadline := m.Now.Add(e.Config.Approval.Deadline(urgency))
		if opts.Deadline != nil {
			if !opts.Deadline.After(m.Now) {
				return ValidationError{Field: "deadline", Reason: "must be in the future"}
			}
			deadline = opts.Deadline.UTC()
		}
		now := m.Now
		q.ApprovalRequestedAt = &now
		q.ApprovalRequestedBy = opts.Actor.ID
		q.ApprovalLevel = level
		q.ApprovalUrgency = urgency
		q.ApprovalReason = opts.Reason
		q.ApprovalDeadline = &deadline

		m.Details = events.Payload{"level": level, "urgency": urgency, "deadline": deadline, "reason": opts.Reason}
		payload := notify.ApprovalRequest{
			Level:       level,
			Urgency:     urgency,
			Reason:      opts.Reason,
			Deadline:    deadline,
			RequestedBy: opts.Actor.ID,
		}
		m.notify(
			notify.ApprovalRequested(notify.Approvers(level), *q, payload),
			notify.ApprovalRequested(notify.Actor(q.CreatedBy), *q, payload),
		)
		return nil
	})
}

type ApproveOptions struct {
	QuotationID string
	Actor       domain.Actor
	Decision    domain.Decision
	Comments    string
}

// Approve records a decision at the current rung. Approval below the top rung
// moves the request to the next level without changing status.
func (e Engine) Approve(ctx context.Context, opts ApproveOptions) (domain.Quotation, error) {
	switch opts.Decision {
	case domain.DecisionApproved, domain.DecisionRejected:
	default:
		return domain.Quotation{}, ValidationError{Field: "decision", Reason: fmt.Sprintf("must be approved or rejected, got %q", opts.Decision)}
	}
	return e.mutate(ctx, opts.QuotationID, opts.Actor, "approval.decided", func(m *mutation) error {
		if !m.Q.ApprovalPending() {
			return StateError{QuotationID: m.Q.ID, Reason: "no approval pending"}
		}
		if err := policy.Require(opts.Actor, m.Q, policy.ActionApprove); err != nil {
			return err
		}
		level := m.Q.ApprovalLevel
		record := domain.ApprovalRecord{
			Level:      level,
			Decision:   opts.Decision,
			ApprovedBy: opts.Actor.ID,
			ApprovedAt: m.Now,
			Comments:   opts.Comments,
		}
		decision := notify.ApprovalDecision{
			Level:     level,
			Decision:  opts.Decision,
			DecidedBy: opts.Actor.ID,
			Comments:  opts.Comments,
		}

		if next, ok := level.Next(); ok && opts.Decision == domain.DecisionApproved {
			now := m.Now
			m.Q.ApprovalLevel = next
			m.Q.ApprovalRequestedAt = &now
			m.Q.ApprovalRequestedBy = opts.Actor.ID
			m.Q.ApprovalHistory = append(m.Q.ApprovalHistory, record)
			m.EventType = "approval.level_advanced"
			m.Details = events.Payload{"from_level": level, "to_level": next, "comments": opts.Comments}
			decision.NextLevel = next
			m.notify(
				notify.NextApprovalLevel(notify.Approvers(next), m.Q, decision),
				notify.ApprovalDecided(notify.Actor(m.Q.CreatedBy), m.Q, decision),
			)
			m.onCommit(func() { e.Metrics.ApprovalDecision(string(level), "advanced") })
			return nil
		}

		target := domain.StatusApproved
		if opts.Decision == domain.DecisionRejected {
			target = domain.StatusRejected
		}
		from := m.Q.Status
		next, err := e.machine().Transition(m.Q, target, opts.Actor, workflow.Meta{Comments: opts.Comments})
		if err != nil {
			e.Metrics.Transition(string(from), string(target), false)
			return err
		}
		next.ApprovalHistory = append(next.ApprovalHistory, record)
		next.ApprovalRequestedAt = nil
		next.ApprovalRequestedBy = ""
		next.ApprovalDeadline = nil
		m.Q = next
		m.Details = events.Payload{"level": level, "decision": opts.Decision, "from": from, "to": target, "comments": opts.Comments}
		m.notify(notify.ApprovalDecided(notify.Actor(m.Q.CreatedBy), m.Q, decision))
		if opts.Decision == domain.DecisionApproved && m.Q.ClientID != "" {
			m.notify(notify.ApprovalDecided(notify.Actor(m.Q.ClientID), m.Q, decision))
		}
		m.onCommit(func() {
			e.Metrics.Transition(string(from), string(target), true)
			e.Metrics.ApprovalDecision(string(level), string(opts.Decision))
		})
		return nil
	})
}

// EscalateApproval raises the urgency of a pending request by one step and
// notifies the approvers above the current level.
func (e Engine) EscalateApproval(ctx context.Context, id string, actor domain.Actor, reason string) (domain.Quotation, error) {
	return e.mutate(ctx, id, actor, "approval.escalated", func(m *mutation) error {
		if err := policy.Require(actor, m.Q, policy.ActionEscalateApproval); err != nil {
			return err
		}
		if !m.Q.ApprovalPending() {
			return StateError{QuotationID: m.Q.ID, Reason: "no approval pending"}
		}
		esc := escalate(&m.Q, actor, reason, false, m.Now)
		m.Details = events.Payload{"from_urgency": esc.FromUrgency, "to_urgency": esc.ToUrgency, "reason": reason}
		m.notify(notify.ApprovalEscalated(notify.Approvers(escalationTarget(m.Q.ApprovalLevel)), m.Q, esc))
		m.onCommit(func() { e.Metrics.Escalation(false) })
		return nil
	})
}

func escalate(q *domain.Quotation, actor domain.Actor, reason string, automatic bool, now time.Time) notify.Escalation {
	from := q.ApprovalUrgency
	to := from.Raise()
	q.ApprovalUrgency = to
	q.EscalatedAt = &now
	q.EscalatedBy = actor.ID
	q.EscalationReason = reason
	q.EscalationCount++
	q.EscalationHistory = append(q.EscalationHistory, domain.EscalationRecord{
		At:          now,
		By:          actor.ID,
		Reason:      reason,
		Level:       q.ApprovalLevel,
		FromUrgency: from,
		ToUrgency:   to,
		Automatic:   automatic,
	})
	var deadline *time.Time
	if q.ApprovalDeadline != nil {
		d := *q.ApprovalDeadline
		deadline = &d
	}
	return notify.Escalation{
		Level:       q.ApprovalLevel,
		FromUrgency: from,
		ToUrgency:   to,
		Reason:      reason,
		By:          actor.ID,
		Automatic:   automatic,
		Deadline:    deadline,
	}
}

// escalationTarget is the rung above level, or level itself at the top.
func escalationTarget(level domain.ApprovalLevel) domain.ApprovalLevel {
	if next, ok := level.Next(); ok {
		return next
	}
	return level
}

// SweepFailure describes a quotation the deadline sweep could not process.
type SweepFailure struct {
	QuotationID string `json:"quotation_id"`
	Error       string `json:"error"`
}

type SweepReport struct {
	Checked   int            `json:"checked"`
	Escalated []string       `json:"escalated"`
	Skipped   int            `json:"skipped"`
	Failed    []SweepFailure `json:"failed"`
}

var sweepStatuses = []domain.Status{domain.StatusPendingApproval, domain.StatusPendingReview}

const overdueReason = "approval deadline passed"

// CheckApprovalDeadlines escalates every overdue pending approval that has not
// been escalated since its deadline. Failures are reported per quotation.
func (e Engine) CheckApprovalDeadlines(ctx context.Context) (SweepReport, error) {
	t0 := time.Now()
	defer func() { e.Metrics.SweepDuration(time.Since(t0)) }()

	started := e.now()

	report := SweepReport{Escalated: []string{}, Failed: []SweepFailure{}}
	candidates, err := e.Store.List(ctx, repo.Filter{
		Statuses:        sweepStatuses,
		ApprovalPending: repo.Pending(true),
		DeadlineBefore:  &started,
	})
	if err != nil {
		return report, fmt.Errorf("list overdue approvals: %w", err)
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		_, err := e.mutate(ctx, c.ID, domain.SystemActor, "approval.auto_escalated", func(m *mutation) error {
			if !inStatuses(m.Q.Status, sweepStatuses) || !m.Q.ApprovalOverdue(m.Now) || m.Q.EscalatedSinceDeadline() {
				return errSkip
			}
			esc := escalate(&m.Q, domain.SystemActor, overdueReason, true, m.Now)
			m.Details = events.Payload{"from_urgency": esc.FromUrgency, "to_urgency": esc.ToUrgency, "deadline": m.Q.ApprovalDeadline}
			m.notify(
				notify.OverdueApproval(notify.Approvers(m.Q.ApprovalLevel), m.Q, esc),
				notify.OverdueApproval(notify.Actor(m.Q.CreatedBy), m.Q, esc),
				notify.ApprovalEscalated(notify.Approvers(escalationTarget(m.Q.ApprovalLevel)), m.Q, esc),
			)
			return nil
		})
		switch {
		case err == nil:
			report.Escalated = append(report.Escalated, c.ID)
			e.Metrics.SweepItem("escalated")
			e.Metrics.Escalation(true)
		case errors.Is(err, errSkip):
			report.Skipped++
			e.Metrics.SweepItem("skipped")
		default:
			report.Failed = append(report.Failed, SweepFailure{QuotationID: c.ID, Error: err.Error()})
			e.Metrics.SweepItem("failed")
			e.log().Warn("deadline sweep item failed", zap.String("quotation_id", c.ID), zap.Error(err))
		}
	}
	e.log().Info("deadline sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("escalated", len(report.Escalated)),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func inStatuses(s domain.Status, set []domain.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// PendingApprovals lists the requests waiting at the actor's approval level.
// Only managers and admins see other people's quotations.
func (e Engine) PendingApprovals(ctx context.Context, actor domain.Actor) ([]domain.Quotation, error) {
	f := repo.Filter{
		ApprovalPending: repo.Pending(true),
		ApprovalLevel:   policy.ApprovalLevelFor(actor),
	}
	if !policy.CanSeeAll(actor, policy.ActionViewAllApprovals) {
		f.CreatedBy = actor.ID
	}
	out, err := e.Store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.ApprovalUrgency.Rank(), b.ApprovalUrgency.Rank(); ra != rb {
			return ra > rb
		}
		if c := compareTimes(a.ApprovalDeadline, b.ApprovalDeadline); c != 0 {
			return c < 0
		}
		return compareTimes(a.ApprovalRequestedAt, b.ApprovalRequestedAt) < 0
	})
	return out, nil
}

// compareTimes orders nil after any set time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}
