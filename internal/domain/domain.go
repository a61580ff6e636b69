package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	ID    string `json:"id"`
	Roles []Role `json:"roles"`
}

// HasRole reports whether the actor holds any of the given roles.
func (a Actor) HasRole(roles ...Role) bool {
	for _, have := range a.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// SystemActor performs scheduled work such as the deadline sweep.
var SystemActor = Actor{ID: "system", Roles: []Role{RoleSuperAdmin}}

type LineItem struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

type ApprovalRecord struct {
	Level      ApprovalLevel `json:"level"`
	Decision   Decision      `json:"decision"`
	ApprovedBy string        `json:"approved_by"`
	ApprovedAt time.Time     `json:"approved_at"`
	Comments   string        `json:"comments,omitempty"`
}

type EscalationRecord struct {
	At          time.Time     `json:"at"`
	By          string        `json:"by"`
	Reason      string        `json:"reason,omitempty"`
	Level       ApprovalLevel `json:"level"`
	FromUrgency Urgency       `json:"from_urgency"`
	ToUrgency   Urgency       `json:"to_urgency"`
	Automatic   bool          `json:"automatic"`
}

type StatusChange struct {
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	By       string    `json:"by"`
	At       time.Time `json:"at"`
	Comments string    `json:"comments,omitempty"`
}

// FieldChange is one proposed amendment. Values are JSON encoded and decoded
// against the concrete type of the named field when the revision is implemented.
type FieldChange struct {
	Field    string          `json:"field"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value"`
}

// RevisionRequest holds the amendment currently under negotiation.
type RevisionRequest struct {
	ID                     string         `json:"id"`
	Reason                 RevisionReason `json:"reason"`
	Description            string         `json:"description"`
	Urgency                Urgency        `json:"urgency"`
	Changes                []FieldChange  `json:"changes"`
	EstimatedImpact        Impact         `json:"estimated_impact"`
	RequiresClientApproval bool           `json:"requires_client_approval"`
}

type RevisionRecord struct {
	ID                     string         `json:"id"`
	RevisionNumber         int            `json:"revision_number"`
	RequestedBy            string         `json:"requested_by"`
	RequestedAt            time.Time      `json:"requested_at"`
	Reason                 RevisionReason `json:"reason"`
	Description            string         `json:"description"`
	Urgency                Urgency        `json:"urgency"`
	Changes                []FieldChange  `json:"changes"`
	EstimatedImpact        Impact         `json:"estimated_impact"`
	RequiresClientApproval bool           `json:"requires_client_approval"`
	Status                 RevisionStatus `json:"status"`
	ApprovedBy             string         `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time     `json:"approved_at,omitempty"`
	ReviewComments         string         `json:"review_comments,omitempty"`
	Conditions             []string       `json:"conditions,omitempty"`
	ImplementedBy          string         `json:"implemented_by,omitempty"`
	ImplementedAt          *time.Time     `json:"implemented_at,omitempty"`
	ImplementationNotes    string         `json:"implementation_notes,omitempty"`
}

// Stamp records when a status was reached and by whom.
type Stamp struct {
	At time.Time `json:"at"`
	By string    `json:"by"`
}

// Quotation is the aggregate governed by the workflow engine. Pricing and client
// fields belong to other subsystems; status, approval and revision fields are
// only written by the engine.
type Quotation struct {
	ID               string     `json:"id"`
	Number           string     `json:"number"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Items            []LineItem `json:"items"`
	Currency         string     `json:"currency"`
	TaxRate          float64    `json:"tax_rate"`
	DiscountRate     float64    `json:"discount_rate"`
	Subtotal         float64    `json:"subtotal"`
	DiscountTotal    float64    `json:"discount_total"`
	TaxTotal         float64    `json:"tax_total"`
	Total            float64    `json:"total"`
	Terms            string     `json:"terms,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidUntil       *time.Time `json:"valid_until,omitempty"`
	ProjectCompleted bool       `json:"project_completed"`
	Priority         string     `json:"priority,omitempty"`

	Status      Status `json:"status"`
	Version     string `json:"version"`
	LockVersion int64  `json:"lock_version"`

	LastStatusChangeAt *time.Time     `json:"last_status_change_at,omitempty"`
	LastStatusChangeBy string         `json:"last_status_change_by,omitempty"`
	StatusHistory      []StatusChange `json:"status_history"`
	Sent               *Stamp         `json:"sent,omitempty"`
	Accepted           *Stamp         `json:"accepted,omitempty"`
	Declined           *Stamp         `json:"declined,omitempty"`
	Expired            *Stamp         `json:"expired,omitempty"`
	Completed          *Stamp         `json:"completed,omitempty"`
	Cancelled          *Stamp         `json:"cancelled,omitempty"`
	Archived           *Stamp         `json:"archived,omitempty"`

	ApprovalRequestedAt *time.Time         `json:"approval_requested_at,omitempty"`
	ApprovalRequestedBy string             `json:"approval_requested_by,omitempty"`
	ApprovalLevel       ApprovalLevel      `json:"approval_level,omitempty"`
	ApprovalUrgency     Urgency            `json:"approval_urgency,omitempty"`
	ApprovalReason      string             `json:"approval_reason,omitempty"`
	ApprovalDeadline    *time.Time         `json:"approval_deadline,omitempty"`
	ApprovedAt          *time.Time         `json:"approved_at,omitempty"`
	ApprovedBy          string             `json:"approved_by,omitempty"`
	RejectedAt          *time.Time         `json:"rejected_at,omitempty"`
	RejectedBy          string             `json:"rejected_by,omitempty"`
	ApprovalHistory     []ApprovalRecord   `json:"approval_history"`
	EscalatedAt         *time.Time         `json:"escalated_at,omitempty"`
	EscalatedBy         string             `json:"escalated_by,omitempty"`
	EscalationReason    string             `json:"escalation_reason,omitempty"`
	EscalationCount     int                `json:"escalation_count"`
	EscalationHistory   []EscalationRecord `json:"escalation_history"`

	RevisionStatus     RevisionStatus   `json:"revision_status,omitempty"`
	ActiveRevision     *RevisionRequest `json:"active_revision,omitempty"`
	RevisionConditions []string         `json:"revision_conditions,omitempty"`
	RevisionHistory    []RevisionRecord `json:"revision_history"`
}

// ApprovalPending reports whether an approval request is outstanding.
func (q Quotation) ApprovalPending() bool {
	return q.ApprovalRequestedAt != nil
}

// ApprovalOverdue reports whether the pending request has passed its deadline.
func (q Quotation) ApprovalOverdue(now time.Time) bool {
	return q.ApprovalPending() && q.ApprovalDeadline != nil && q.ApprovalDeadline.Before(now)
}

// EscalatedSinceDeadline reports whether an escalation was recorded after the
// current deadline had already passed.
func (q Quotation) EscalatedSinceDeadline() bool {
	if q.EscalatedAt == nil || q.ApprovalDeadline == nil {
		return false
	}
	return !q.EscalatedAt.Before(*q.ApprovalDeadline)
}

// InValidityPeriod reports whether now lies within [ValidFrom, ValidUntil].
// Open ends are treated as unbounded.
func (q Quotation) InValidityPeriod(now time.Time) bool {
	if q.ValidFrom != nil && now.Before(*q.ValidFrom) {
		return false
	}
	if q.ValidUntil != nil && now.After(*q.ValidUntil) {
		return false
	}
	return true
}

// Revision returns the history record with the given id.
func (q Quotation) Revision(id string) (RevisionRecord, int, bool) {
	for i, r := range q.RevisionHistory {
		if r.ID == id {
			return r, i, true
		}
	}
	return RevisionRecord{}, -1, false
}

// Recalculate derives subtotal, discount, tax and total from items and rates.
func (q *Quotation) Recalculate() {
	var subtotal float64
	for _, it := range q.Items {
		subtotal += it.Quantity * it.UnitPrice
	}
	discount := subtotal * q.DiscountRate / 100
	tax := (subtotal - discount) * q.TaxRate / 100
	q.Subtotal = round2(subtotal)
	q.DiscountTotal = round2(discount)
	q.TaxTotal = round2(tax)
	q.Total = round2(subtotal - discount + tax)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Snapshot lists the workflow-owned fields recorded in audit events.
func (q Quotation) Snapshot() map[string]any {
	s := map[string]any{
		"status":           q.Status,
		"version":          q.Version,
		"lock_version":     q.LockVersion,
		"approval_level":   q.ApprovalLevel,
		"approval_urgency": q.ApprovalUrgency,
		"approval_pending": q.ApprovalPending(),
		"approvals":        len(q.ApprovalHistory),
		"escalations":      len(q.EscalationHistory),
		"revision_status":  q.RevisionStatus,
		"revisions":        len(q.RevisionHistory),
		"total":            q.Total,
	}
	if q.ActiveRevision != nil {
		s["active_revision"] = q.ActiveRevision.ID
	}
	return s
}
