package workflow

import (
	"time"

	"quoteflow/internal/domain"
)

// Condition gates a transition entry.
type Condition func(q domain.Quotation, a domain.Actor, now time.Time) bool

// Action mutates the working copy of a quotation during a transition.
type Action func(q *domain.Quotation, a domain.Actor, now time.Time)

var conditions = map[string]Condition{
	"isWithinValidityPeriod": func(q domain.Quotation, _ domain.Actor, now time.Time) bool {
		return q.InValidityPeriod(now)
	},
	"isProjectCompleted": func(q domain.Quotation, _ domain.Actor, _ time.Time) bool {
		return q.ProjectCompleted
	},
	"canBeCancelled": func(q domain.Quotation, _ domain.Actor, _ time.Time) bool {
		return !statusIn(q.Status, nonCancellable)
	},
	"canBeArchived": func(q domain.Quotation, _ domain.Actor, _ time.Time) bool {
		return statusIn(q.Status, archivable)
	},
}

var nonCancellable = []domain.Status{
	domain.StatusAccepted, domain.StatusCompleted, domain.StatusCancelled, domain.StatusArchived,
}

var archivable = []domain.Status{
	domain.StatusCompleted, domain.StatusRejected, domain.StatusDeclined,
	domain.StatusExpired, domain.StatusCancelled,
}

var actions = map[string]Action{
	"stampApproved": func(q *domain.Quotation, a domain.Actor, now time.Time) {
		q.ApprovedAt, q.ApprovedBy = &now, a.ID
	},
	"stampRejected": func(q *domain.Quotation, a domain.Actor, now time.Time) {
		q.RejectedAt, q.RejectedBy = &now, a.ID
	},
	"stampSent":      stamp(func(q *domain.Quotation) **domain.Stamp { return &q.Sent }),
	"stampAccepted":  stamp(func(q *domain.Quotation) **domain.Stamp { return &q.Accepted }),
	"stampDeclined":  stamp(func(q *domain.Quotation) **domain.Stamp { return &q.Declined }),
	"stampExpired":   stamp(func(q *domain.Quotation) **domain.Stamp { return &q.Expired }),
	"stampCompleted": stamp(func(q *domain.Quotation) **domain.Stamp { return &q.Completed }),
	"stampCancelled": stamp(func(q *domain.Quotation) **domain.Stamp { return &q.Cancelled }),
	"stampArchived":  stamp(func(q *domain.Quotation) **domain.Stamp { return &q.Archived }),
}

// autoActions run when a quotation arrives in a status.
var autoActions = map[string]Action{
	"clearPendingApproval": func(q *domain.Quotation, _ domain.Actor, _ time.Time) {
		q.ApprovalRequestedAt = nil
		q.ApprovalRequestedBy = ""
		q.ApprovalDeadline = nil
	},
	"ensureValidFrom": func(q *domain.Quotation, _ domain.Actor, now time.Time) {
		if q.ValidFrom == nil {
			q.ValidFrom = &now
		}
	},
}

func stamp(field func(*domain.Quotation) **domain.Stamp) Action {
	return func(q *domain.Quotation, a domain.Actor, now time.Time) {
		*field(q) = &domain.Stamp{At: now, By: a.ID}
	}
}

func statusIn(s domain.Status, set []domain.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
