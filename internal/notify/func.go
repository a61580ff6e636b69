package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"quoteflow/internal/domain"
)

// Func adapts a single delivery function to Notifier. The payload is one of
// ApprovalRequest, ApprovalDecision, Escalation or Revision.
type Func func(ctx context.Context, kind string, to Recipient, q domain.Quotation, payload any) error

func (f Func) SendApprovalRequestEmail(ctx context.Context, to Recipient, q domain.Quotation, req ApprovalRequest) error {
	return f(ctx, KindApprovalRequest, to, q, req)
}

func (f Func) SendApprovalDecisionEmail(ctx context.Context, to Recipient, q domain.Quotation, d ApprovalDecision) error {
	return f(ctx, KindApprovalDecision, to, q, d)
}

func (f Func) SendNextApprovalLevelEmail(ctx context.Context, to Recipient, q domain.Quotation, d ApprovalDecision) error {
	return f(ctx, KindNextApprovalLevel, to, q, d)
}

func (f Func) SendApprovalEscalationEmail(ctx context.Context, to Recipient, q domain.Quotation, e Escalation) error {
	return f(ctx, KindApprovalEscalation, to, q, e)
}

func (f Func) SendOverdueApprovalEmail(ctx context.Context, to Recipient, q domain.Quotation, e Escalation) error {
	return f(ctx, KindOverdueApproval, to, q, e)
}

func (f Func) SendRevisionRequestedEmail(ctx context.Context, to Recipient, q domain.Quotation, r Revision) error {
	return f(ctx, KindRevisionRequested, to, q, r)
}

func (f Func) SendRevisionDecisionEmail(ctx context.Context, to Recipient, q domain.Quotation, r Revision) error {
	return f(ctx, KindRevisionDecision, to, q, r)
}

func (f Func) SendRevisionImplementedEmail(ctx context.Context, to Recipient, q domain.Quotation, r Revision) error {
	return f(ctx, KindRevisionImplemented, to, q, r)
}

// Log writes every notification to log at info level.
func Log(log *zap.Logger) Notifier {
	return Func(func(_ context.Context, kind string, to Recipient, q domain.Quotation, payload any) error {
		log.Info("notification",
			zap.String("kind", kind),
			zap.String("quotation_id", q.ID),
			zap.String("quotation_number", q.Number),
			zap.Any("recipient", to),
			zap.Any("payload", payload),
		)
		return nil
	})
}

// Multi fans each notification out to every notifier and joins their errors.
func Multi(ns ...Notifier) Notifier {
	return Func(func(ctx context.Context, kind string, to Recipient, q domain.Quotation, payload any) error {
		var errs []error
		for _, n := range ns {
			if err := deliver(ctx, n, kind, to, q, payload); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// deliver routes a generic notification to the matching Notifier method.
func deliver(ctx context.Context, n Notifier, kind string, to Recipient, q domain.Quotation, payload any) error {
	if f, ok := n.(Func); ok {
		return f(ctx, kind, to, q, payload)
	}
	switch p := payload.(type) {
	case ApprovalRequest:
		return n.SendApprovalRequestEmail(ctx, to, q, p)
	case ApprovalDecision:
		if kind == KindNextApprovalLevel {
			return n.SendNextApprovalLevelEmail(ctx, to, q, p)
		}
		return n.SendApprovalDecisionEmail(ctx, to, q, p)
	case Escalation:
		if kind == KindOverdueApproval {
			return n.SendOverdueApprovalEmail(ctx, to, q, p)
		}
		return n.SendApprovalEscalationEmail(ctx, to, q, p)
	case Revision:
		switch kind {
		case KindRevisionDecision:
			return n.SendRevisionDecisionEmail(ctx, to, q, p)
		case KindRevisionImplemented:
			return n.SendRevisionImplementedEmail(ctx, to, q, p)
		}
		return n.SendRevisionRequestedEmail(ctx, to, q, p)
	}
	return errors.New("unknown notification payload")
}
