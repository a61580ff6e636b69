// Package notify delivers workflow notifications. Delivery happens after the
// triggering mutation has committed and its failures never reach the caller.
package notify

import (
	"context"
	"time"

	"quoteflow/internal/domain"
)

// Recipient addresses an actor, everyone holding a role, or the approvers
// at a level.
type Recipient struct {
	ActorID string               `json:"actor_id,omitempty"`
	Role    domain.Role          `json:"role,omitempty"`
	Level   domain.ApprovalLevel `json:"level,omitempty"`
}

func Actor(id string) Recipient { return Recipient{ActorID: id} }

func Approvers(level domain.ApprovalLevel) Recipient { return Recipient{Level: level} }

func Role(r domain.Role) Recipient { return Recipient{Role: r} }

type ApprovalRequest struct {
	Level       domain.ApprovalLevel `json:"level"`
	Urgency     domain.Urgency       `json:"urgency"`
	Reason      string               `json:"reason,omitempty"`
	Deadline    time.Time            `json:"deadline"`
	RequestedBy string               `json:"requested_by"`
}

type ApprovalDecision struct {
	Level     domain.ApprovalLevel `json:"level"`
	Decision  domain.Decision      `json:"decision"`
	DecidedBy string               `json:"decided_by"`
	Comments  string               `json:"comments,omitempty"`
	// NextLevel is set when an approval moved the request up the chain.
	NextLevel domain.ApprovalLevel `json:"next_level,omitempty"`
}

type Escalation struct {
	Level       domain.ApprovalLevel `json:"level"`
	FromUrgency domain.Urgency       `json:"from_urgency"`
	ToUrgency   domain.Urgency       `json:"to_urgency"`
	Reason      string               `json:"reason,omitempty"`
	By          string               `json:"by"`
	Automatic   bool                 `json:"automatic"`
	Deadline    *time.Time           `json:"deadline,omitempty"`
}

type Revision struct {
	RevisionID     string                `json:"revision_id"`
	RevisionNumber int                   `json:"revision_number"`
	Reason         domain.RevisionReason `json:"reason"`
	Impact         domain.Impact         `json:"impact"`
	Status         domain.RevisionStatus `json:"status"`
	By             string                `json:"by"`
	Comments       string                `json:"comments,omitempty"`
	Conditions     []string              `json:"conditions,omitempty"`
	Version        string                `json:"version,omitempty"`
}

// Notifier is the outbound notification port.
type Notifier interface {
	SendApprovalRequestEmail(ctx context.Context, to Recipient, q domain.Quotation, req ApprovalRequest) error
	SendApprovalDecisionEmail(ctx context.Context, to Recipient, q domain.Quotation, d ApprovalDecision) error
	SendNextApprovalLevelEmail(ctx context.Context, to Recipient, q domain.Quotation, d ApprovalDecision) error
	SendApprovalEscalationEmail(ctx context.Context, to Recipient, q domain.Quotation, e Escalation) error
	SendOverdueApprovalEmail(ctx context.Context, to Recipient, q domain.Quotation, e Escalation) error
	SendRevisionRequestedEmail(ctx context.Context, to Recipient, q domain.Quotation, r Revision) error
	SendRevisionDecisionEmail(ctx context.Context, to Recipient, q domain.Quotation, r Revision) error
	SendRevisionImplementedEmail(ctx context.Context, to Recipient, q domain.Quotation, r Revision) error
}

// Kinds label notifications in logs, metrics and webhook headers.
const (
	KindApprovalRequest     = "approval.requested"
	KindApprovalDecision    = "approval.decided"
	KindNextApprovalLevel   = "approval.next_level"
	KindApprovalEscalation  = "approval.escalated"
	KindOverdueApproval     = "approval.overdue"
	KindRevisionRequested   = "revision.requested"
	KindRevisionDecision    = "revision.decided"
	KindRevisionImplemented = "revision.implemented"
)

// Job is one deferred send.
type Job struct {
	Kind        string
	QuotationID string
	To          Recipient
	Send        func(ctx context.Context, n Notifier) error
}

// The constructors below capture a snapshot of q so later mutations of the
// caller's value cannot leak into the message.

func ApprovalRequested(to Recipient, q domain.Quotation, p ApprovalRequest) Job {
	q = q.Clone()
	return Job{Kind: KindApprovalRequest, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendApprovalRequestEmail(ctx, to, q, p)
	}}
}

func ApprovalDecided(to Recipient, q domain.Quotation, p ApprovalDecision) Job {
	q = q.Clone()
	return Job{Kind: KindApprovalDecision, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendApprovalDecisionEmail(ctx, to, q, p)
	}}
}

func NextApprovalLevel(to Recipient, q domain.Quotation, p ApprovalDecision) Job {
	q = q.Clone()
	return Job{Kind: KindNextApprovalLevel, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendNextApprovalLevelEmail(ctx, to, q, p)
	}}
}

func ApprovalEscalated(to Recipient, q domain.Quotation, p Escalation) Job {
	q = q.Clone()
	return Job{Kind: KindApprovalEscalation, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendApprovalEscalationEmail(ctx, to, q, p)
	}}
}

func OverdueApproval(to Recipient, q domain.Quotation, p Escalation) Job {
	q = q.Clone()
	return Job{Kind: KindOverdueApproval, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendOverdueApprovalEmail(ctx, to, q, p)
	}}
}

func RevisionRequested(to Recipient, q domain.Quotation, p Revision) Job {
	q = q.Clone()
	return Job{Kind: KindRevisionRequested, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendRevisionRequestedEmail(ctx, to, q, p)
	}}
}

func RevisionDecided(to Recipient, q domain.Quotation, p Revision) Job {
	q = q.Clone()
	return Job{Kind: KindRevisionDecision, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendRevisionDecisionEmail(ctx, to, q, p)
	}}
}

func RevisionImplemented(to Recipient, q domain.Quotation, p Revision) Job {
	q = q.Clone()
	return Job{Kind: KindRevisionImplemented, QuotationID: q.ID, To: to, Send: func(ctx context.Context, n Notifier) error {
		return n.SendRevisionImplementedEmail(ctx, to, q, p)
	}}
}
