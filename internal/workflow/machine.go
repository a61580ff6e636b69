// Package workflow is the quotation state machine. It decides whether a
// status change is allowed and applies it to a copy of the aggregate.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"quoteflow/internal/domain"
	"quoteflow/internal/policy"
)

// Decision is the outcome of CanTransition.
type Decision struct {
	Allowed          bool                 `json:"allowed"`
	Reason           string               `json:"reason,omitempty"`
	RequiredApproval domain.ApprovalLevel `json:"required_approval,omitempty"`
}

// Meta carries caller supplied details recorded with the status change.
type Meta struct {
	Comments string
}

// TransitionError is returned when a status change is refused.
type TransitionError struct {
	From   domain.Status
	To     domain.Status
	Reason string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s: %s", e.From, e.To, e.Reason)
}

type Machine struct {
	Table *Table
	Now   func() time.Time
}

func New(t *Table) Machine {
	return Machine{Table: t, Now: time.Now}
}

func (m Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// CanTransition evaluates every gate for moving q to target. It never
// mutates q.
func (m Machine) CanTransition(q domain.Quotation, target domain.Status, a domain.Actor) Decision {
	return m.canTransition(q, target, a, m.now())
}

func (m Machine) canTransition(q domain.Quotation, target domain.Status, a domain.Actor, now time.Time) Decision {
	e, ok := m.Table.Entry(q.Status, target)
	if !ok {
		return Decision{Reason: "transition not defined"}
	}
	if !a.HasRole(e.Roles...) {
		return Decision{Reason: fmt.Sprintf("requires one of roles %s", joinRoles(e.Roles)), RequiredApproval: e.ApprovalLevel}
	}
	if e.ApprovalLevel != "" && !policy.ApprovalLevelFor(a).AtLeast(e.ApprovalLevel) {
		return Decision{Reason: fmt.Sprintf("requires approval level %s", e.ApprovalLevel), RequiredApproval: e.ApprovalLevel}
	}
	if e.cond != nil && !e.cond(q, a, now) {
		return Decision{Reason: fmt.Sprintf("condition %s not met", e.Condition), RequiredApproval: e.ApprovalLevel}
	}
	var missing []string
	for _, f := range m.Table.Rule(q.Status).RequiredFields {
		if !q.HasField(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Decision{Reason: "missing required fields: " + strings.Join(missing, ", "), RequiredApproval: e.ApprovalLevel}
	}
	return Decision{Allowed: true, RequiredApproval: e.ApprovalLevel}
}

// Transition applies the change to a clone of q and returns it. On error q is
// returned untouched.
func (m Machine) Transition(q domain.Quotation, target domain.Status, a domain.Actor, meta Meta) (domain.Quotation, error) {
	now := m.now()
	d := m.canTransition(q, target, a, now)
	if !d.Allowed {
		return q, TransitionError{From: q.Status, To: target, Reason: d.Reason}
	}
	e, _ := m.Table.Entry(q.Status, target)
	next := q.Clone()
	if e.act != nil {
		e.act(&next, a, now)
	}
	next.Status = target
	next.LastStatusChangeAt = &now
	next.LastStatusChangeBy = a.ID
	next.UpdatedAt = now
	next.StatusHistory = append(next.StatusHistory, domain.StatusChange{
		From:     q.Status,
		To:       target,
		By:       a.ID,
		At:       now,
		Comments: meta.Comments,
	})
	for _, fn := range m.Table.Rule(target).auto {
		fn(&next, a, now)
	}
	return next, nil
}

// AvailableTransitions returns the candidate targets of the current status
// that the actor may take right now.
func (m Machine) AvailableTransitions(q domain.Quotation, a domain.Actor) []domain.Status {
	now := m.now()
	var out []domain.Status
	for _, target := range m.Table.Rule(q.Status).Allowed {
		if m.canTransition(q, target, a, now).Allowed {
			out = append(out, target)
		}
	}
	return out
}

func joinRoles(roles []domain.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
