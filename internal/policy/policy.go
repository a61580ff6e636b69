// Package policy holds the role and ownership rules shared by the state
// machine, the approval chain and revision negotiation.
package policy

import (
	"fmt"

	"quoteflow/internal/domain"
)

type Action string

const (
	ActionCreateQuotation   Action = "quotation.create"
	ActionRequestApproval   Action = "approval.request"
	ActionApprove           Action = "approval.decide"
	ActionEscalateApproval  Action = "approval.escalate"
	ActionViewAllApprovals  Action = "approval.view_all"
	ActionRequestRevision   Action = "revision.request"
	ActionReviewRevision    Action = "revision.review"
	ActionImplementRevision Action = "revision.implement"
	ActionViewAllRevisions  Action = "revision.view_all"
	ActionRunSweep          Action = "approval.sweep"
)

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	Action Action
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission %s denied: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("permission %s denied", e.Action)
}

// IsCreator reports whether the actor created the quotation.
func IsCreator(a domain.Actor, q domain.Quotation) bool {
	return a.ID != "" && a.ID == q.CreatedBy
}

// IsSupervisor reports whether the actor is a manager or admin. SUPER_ADMIN
// is intentionally absent: it only outranks others through approval level.
func IsSupervisor(a domain.Actor) bool {
	return a.HasRole(domain.RoleManager, domain.RoleAdmin)
}

// ApprovalLevelFor maps the actor's roles onto the approval hierarchy.
// Actors without an elevated role are treated as MANAGER.
func ApprovalLevelFor(a domain.Actor) domain.ApprovalLevel {
	switch {
	case a.HasRole(domain.RoleSuperAdmin):
		return domain.LevelExecutive
	case a.HasRole(domain.RoleAdmin):
		return domain.LevelDirector
	default:
		return domain.LevelManager
	}
}

// Allowed evaluates action for actor against q.
func Allowed(a domain.Actor, q domain.Quotation, action Action) bool {
	switch action {
	case ActionCreateQuotation:
		return a.ID != "" && a.HasRole(domain.RoleUser, domain.RoleSalesRep, domain.RoleManager, domain.RoleAdmin, domain.RoleSuperAdmin)
	case ActionRequestApproval, ActionRequestRevision:
		if IsCreator(a, q) {
			return true
		}
		return a.HasRole(domain.RoleManager, domain.RoleAdmin, domain.RoleSuperAdmin)
	case ActionApprove:
		return ApprovalLevelFor(a).AtLeast(q.ApprovalLevel)
	case ActionEscalateApproval, ActionReviewRevision, ActionViewAllApprovals, ActionViewAllRevisions:
		return IsSupervisor(a)
	case ActionImplementRevision:
		return IsCreator(a, q) || IsSupervisor(a)
	case ActionRunSweep:
		return IsSupervisor(a) || a.HasRole(domain.RoleSuperAdmin)
	}
	return false
}

// Require returns a ForbiddenError when Allowed is false.
func Require(a domain.Actor, q domain.Quotation, action Action) error {
	if Allowed(a, q, action) {
		return nil
	}
	var reason string
	switch action {
	case ActionApprove:
		reason = fmt.Sprintf("level %s cannot approve at %s", ApprovalLevelFor(a), q.ApprovalLevel)
	case ActionCreateQuotation:
		reason = "staff role required"
	case ActionRequestApproval, ActionRequestRevision, ActionImplementRevision:
		reason = "not the creator"
	default:
		reason = "manager or admin role required"
	}
	return ForbiddenError{Action: action, Reason: reason}
}

// CanSeeAll reports whether listing scopes for action extend past the actor's
// own quotations.
func CanSeeAll(a domain.Actor, action Action) bool {
	return Allowed(a, domain.Quotation{}, action)
}
