package server

import (
	"encoding/json"
	"time"

	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/events"
	"quoteflow/internal/workflow"
)

// Request payloads

type LineItemRequest struct {
	ID          string  `json:"id,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity" minimum:"0"`
	UnitPrice   float64 `json:"unit_price" minimum:"0"`
}

type CreateQuotationRequest struct {
	ID           string            `json:"id,omitempty"`
	Number       string            `json:"number,omitempty"`
	Title        string            `json:"title" minLength:"1"`
	Description  string            `json:"description,omitempty"`
	ClientID     string            `json:"client_id,omitempty"`
	Items        []LineItemRequest `json:"items,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	TaxRate      float64           `json:"tax_rate,omitempty" minimum:"0"`
	DiscountRate float64           `json:"discount_rate,omitempty" minimum:"0" maximum:"100"`
	Terms        string            `json:"terms,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	ValidFrom    *time.Time        `json:"valid_from,omitempty"`
	ValidUntil   *time.Time        `json:"valid_until,omitempty"`
	Priority     string            `json:"priority,omitempty"`
}

type TransitionRequest struct {
	Status   string `json:"status" enum:"DRAFT,PENDING_REVIEW,PENDING_APPROVAL,APPROVED,REJECTED,ACTIVE,SENT,ACCEPTED,DECLINED,EXPIRED,COMPLETED,CANCELLED,ARCHIVED"`
	Comments string `json:"comments,omitempty"`
}

type ApprovalRequestRequest struct {
	Level    string     `json:"level,omitempty" enum:"MANAGER,DIRECTOR,EXECUTIVE"`
	Reason   string     `json:"reason,omitempty"`
	Urgency  string     `json:"urgency,omitempty" enum:"low,medium,high,urgent"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision" enum:"approved,rejected"`
	Comments string `json:"comments,omitempty"`
}

type EscalateRequest struct {
	Reason string `json:"reason,omitempty"`
}

type FieldChangeRequest struct {
	Field    string `json:"field" enum:"title,description,items,terms,notes,currency,tax_rate,discount_rate,valid_from,valid_until,priority"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value"`
}

type RevisionRequestRequest struct {
	Reason                 string               `json:"reason,omitempty" enum:"PRICING_UPDATE,SCOPE_CHANGE,CLIENT_REQUEST,TERMS_UPDATE,ERROR_CORRECTION,OTHER"`
	Description            string               `json:"description,omitempty"`
	Urgency                string               `json:"urgency,omitempty" enum:"low,medium,high,urgent"`
	Changes                []FieldChangeRequest `json:"changes" minItems:"1"`
	EstimatedImpact        string               `json:"estimated_impact,omitempty" enum:"low,medium,high"`
	RequiresClientApproval bool                 `json:"requires_client_approval,omitempty"`
}

type RevisionDecisionRequest struct {
	Decision   string   `json:"decision" enum:"approved,rejected"`
	Comments   string   `json:"comments,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

type ImplementRevisionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id" minLength:"1"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type FieldChangeResponse struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value"`
}

type RevisionResponse struct {
	ID                     string                `json:"id"`
	RevisionNumber         int                   `json:"revision_number"`
	RequestedBy            string                `json:"requested_by"`
	RequestedAt            time.Time             `json:"requested_at"`
	Reason                 string                `json:"reason"`
	Description            string                `json:"description,omitempty"`
	Urgency                string                `json:"urgency"`
	Changes                []FieldChangeResponse `json:"changes"`
	EstimatedImpact        string                `json:"estimated_impact"`
	RequiresClientApproval bool                  `json:"requires_client_approval"`
	Status                 string                `json:"status"`
	ApprovedBy             string                `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time            `json:"approved_at,omitempty"`
	ReviewComments         string                `json:"review_comments,omitempty"`
	Conditions             []string              `json:"conditions"`
	ImplementedBy          string                `json:"implemented_by,omitempty"`
	ImplementedAt          *time.Time            `json:"implemented_at,omitempty"`
	ImplementationNotes    string                `json:"implementation_notes,omitempty"`
}

type ApprovalResponse struct {
	RequestedAt *time.Time                `json:"requested_at,omitempty"`
	RequestedBy string                    `json:"requested_by,omitempty"`
	Level       string                    `json:"level,omitempty"`
	Urgency     string                    `json:"urgency,omitempty"`
	Reason      string                    `json:"reason,omitempty"`
	Deadline    *time.Time                `json:"deadline,omitempty"`
	ApprovedAt  *time.Time                `json:"approved_at,omitempty"`
	ApprovedBy  string                    `json:"approved_by,omitempty"`
	RejectedAt  *time.Time                `json:"rejected_at,omitempty"`
	RejectedBy  string                    `json:"rejected_by,omitempty"`
	History     []domain.ApprovalRecord   `json:"history"`
	EscalatedAt *time.Time                `json:"escalated_at,omitempty"`
	EscalatedBy string                    `json:"escalated_by,omitempty"`
	Escalations int                       `json:"escalation_count"`
	Escalation  []domain.EscalationRecord `json:"escalation_history"`
}

type QuotationResponse struct {
	ID                 string                `json:"id"`
	Number             string                `json:"number"`
	Title              string                `json:"title"`
	Description        string                `json:"description,omitempty"`
	ClientID           string                `json:"client_id,omitempty"`
	CreatedBy          string                `json:"created_by"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	Items              []domain.LineItem     `json:"items"`
	Currency           string                `json:"currency"`
	TaxRate            float64               `json:"tax_rate"`
	DiscountRate       float64               `json:"discount_rate"`
	Subtotal           float64               `json:"subtotal"`
	DiscountTotal      float64               `json:"discount_total"`
	TaxTotal           float64               `json:"tax_total"`
	Total              float64               `json:"total"`
	Terms              string                `json:"terms,omitempty"`
	Notes              string                `json:"notes,omitempty"`
	ValidFrom          *time.Time            `json:"valid_from,omitempty"`
	ValidUntil         *time.Time            `json:"valid_until,omitempty"`
	Priority           string                `json:"priority,omitempty"`
	Status             string                `json:"status"`
	Version            string                `json:"version"`
	LockVersion        int64                 `json:"lock_version"`
	StatusHistory      []domain.StatusChange `json:"status_history"`
	Approval           ApprovalResponse      `json:"approval"`
	RevisionStatus     string                `json:"revision_status,omitempty"`
	ActiveRevisionID   string                `json:"active_revision_id,omitempty"`
	RevisionConditions []string              `json:"revision_conditions"`
	Revisions          []RevisionResponse    `json:"revisions"`
}

type TransitionsResponse struct {
	Current     string               `json:"current"`
	Available   []string             `json:"available"`
	Explanation *DecisionExplanation `json:"explanation,omitempty"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          time.Time      `json:"ts"`
	Type        string         `json:"type"`
	QuotationID string         `json:"quotation_id"`
	ActorID     string         `json:"actor_id"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

type QuotationList struct {
	Items []QuotationResponse `json:"items"`
}

type RevisionView struct {
	QuotationID     string           `json:"quotation_id"`
	QuotationNumber string           `json:"quotation_number"`
	Revision        RevisionResponse `json:"revision"`
}

type RevisionList struct {
	Items []RevisionView `json:"items"`
}

type EventList struct {
	Items []EventResponse `json:"items"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID       string   `json:"actor_id"`
	Roles         []string `json:"roles"`
	ApprovalLevel string   `json:"approval_level"`
}

type DecisionExplanation struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	RequiredApproval string `json:"required_approval,omitempty"`
}

// Mapping helpers

func quotationResponse(q domain.Quotation) QuotationResponse {
	out := QuotationResponse{
		ID:            q.ID,
		Number:        q.Number,
		Title:         q.Title,
		Description:   q.Description,
		ClientID:      q.ClientID,
		CreatedBy:     q.CreatedBy,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
		Items:         nonNilSlice(q.Items),
		Currency:      q.Currency,
		TaxRate:       q.TaxRate,
		DiscountRate:  q.DiscountRate,
		Subtotal:      q.Subtotal,
		DiscountTotal: q.DiscountTotal,
		TaxTotal:      q.TaxTotal,
		Total:         q.Total,
		Terms:         q.Terms,
		Notes:         q.Notes,
		ValidFrom:     q.ValidFrom,
		ValidUntil:    q.ValidUntil,
		Priority:      q.Priority,
		Status:        string(q.Status),
		Version:       q.Version,
		LockVersion:   q.LockVersion,
		StatusHistory: nonNilSlice(q.StatusHistory),
		Approval: ApprovalResponse{
			RequestedAt: q.ApprovalRequestedAt,
			RequestedBy: q.ApprovalRequestedBy,
			Level:       string(q.ApprovalLevel),
			Urgency:     string(q.ApprovalUrgency),
			Reason:      q.ApprovalReason,
			Deadline:    q.ApprovalDeadline,
			ApprovedAt:  q.ApprovedAt,
			ApprovedBy:  q.ApprovedBy,
			RejectedAt:  q.RejectedAt,
			RejectedBy:  q.RejectedBy,
			History:     nonNilSlice(q.ApprovalHistory),
			EscalatedAt: q.EscalatedAt,
			EscalatedBy: q.EscalatedBy,
			Escalations: q.EscalationCount,
			Escalation:  nonNilSlice(q.EscalationHistory),
		},
		RevisionStatus:     string(q.RevisionStatus),
		RevisionConditions: nonNilSlice(q.RevisionConditions),
		Revisions:          make([]RevisionResponse, 0, len(q.RevisionHistory)),
	}
	if q.ActiveRevision != nil {
		out.ActiveRevisionID = q.ActiveRevision.ID
	}
	for _, r := range q.RevisionHistory {
		out.Revisions = append(out.Revisions, revisionResponse(r))
	}
	return out
}

func revisionResponse(r domain.RevisionRecord) RevisionResponse {
	changes := make([]FieldChangeResponse, len(r.Changes))
	for i, c := range r.Changes {
		changes[i] = FieldChangeResponse{Field: c.Field, OldValue: decodeAny(c.OldValue), NewValue: decodeAny(c.NewValue)}
	}
	return RevisionResponse{
		ID:                     r.ID,
		RevisionNumber:         r.RevisionNumber,
		RequestedBy:            r.RequestedBy,
		RequestedAt:            r.RequestedAt,
		Reason:                 string(r.Reason),
		Description:            r.Description,
		Urgency:                string(r.Urgency),
		Changes:                changes,
		EstimatedImpact:        string(r.EstimatedImpact),
		RequiresClientApproval: r.RequiresClientApproval,
		Status:                 string(r.Status),
		ApprovedBy:             r.ApprovedBy,
		ApprovedAt:             r.ApprovedAt,
		ReviewComments:         r.ReviewComments,
		Conditions:             nonNilSlice(r.Conditions),
		ImplementedBy:          r.ImplementedBy,
		ImplementedAt:          r.ImplementedAt,
		ImplementationNotes:    r.ImplementationNotes,
	}
}

func revisionViews(in []engine.RevisionView) RevisionList {
	out := RevisionList{Items: make([]RevisionView, 0, len(in))}
	for _, v := range in {
		out.Items = append(out.Items, RevisionView{
			QuotationID:     v.QuotationID,
			QuotationNumber: v.QuotationNumber,
			Revision:        revisionResponse(v.Revision),
		})
	}
	return out
}

func quotationList(in []domain.Quotation) QuotationList {
	out := QuotationList{Items: make([]QuotationResponse, 0, len(in))}
	for _, q := range in {
		out.Items = append(out.Items, quotationResponse(q))
	}
	return out
}

func eventResponse(rec events.Record) EventResponse {
	return EventResponse{
		ID:          rec.ID,
		TS:          rec.TS,
		Type:        rec.Type,
		QuotationID: rec.QuotationID,
		ActorID:     rec.ActorID,
		Before:      decodeMap(rec.Before),
		After:       decodeMap(rec.After),
		Details:     decodeMap(rec.Details),
	}
}

func explanation(d workflow.Decision) DecisionExplanation {
	return DecisionExplanation{Allowed: d.Allowed, Reason: d.Reason, RequiredApproval: string(d.RequiredApproval)}
}

func fieldChanges(in []FieldChangeRequest) ([]domain.FieldChange, error) {
	out := make([]domain.FieldChange, len(in))
	for i, c := range in {
		newValue, err := json.Marshal(c.NewValue)
		if err != nil {
			return nil, err
		}
		out[i] = domain.FieldChange{Field: c.Field, NewValue: newValue}
		if c.OldValue != nil {
			old, err := json.Marshal(c.OldValue)
			if err != nil {
				return nil, err
			}
			out[i].OldValue = old
		}
	}
	return out, nil
}

func lineItems(in []LineItemRequest) []domain.LineItem {
	out := make([]domain.LineItem, len(in))
	for i, it := range in {
		out[i] = domain.LineItem{ID: it.ID, Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func decodeMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func statusStrings(in []domain.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
