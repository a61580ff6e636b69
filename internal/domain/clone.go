package domain

import (
	"encoding/json"
	"time"
)

// Clone returns a deep copy so that a failed mutation never leaks into the
// caller's value.
func (q Quotation) Clone() Quotation {
	c := q
	c.Items = append([]LineItem(nil), q.Items...)
	c.ValidFrom = cloneTime(q.ValidFrom)
	c.ValidUntil = cloneTime(q.ValidUntil)
	c.LastStatusChangeAt = cloneTime(q.LastStatusChangeAt)
	c.StatusHistory = append([]StatusChange(nil), q.StatusHistory...)
	c.Sent = cloneStamp(q.Sent)
	c.Accepted = cloneStamp(q.Accepted)
	c.Declined = cloneStamp(q.Declined)
	c.Expired = cloneStamp(q.Expired)
	c.Completed = cloneStamp(q.Completed)
	c.Cancelled = cloneStamp(q.Cancelled)
	c.Archived = cloneStamp(q.Archived)
	c.ApprovalRequestedAt = cloneTime(q.ApprovalRequestedAt)
	c.ApprovalDeadline = cloneTime(q.ApprovalDeadline)
	c.ApprovedAt = cloneTime(q.ApprovedAt)
	c.RejectedAt = cloneTime(q.RejectedAt)
	c.EscalatedAt = cloneTime(q.EscalatedAt)
	c.ApprovalHistory = append([]ApprovalRecord(nil), q.ApprovalHistory...)
	c.EscalationHistory = append([]EscalationRecord(nil), q.EscalationHistory...)
	c.RevisionConditions = append([]string(nil), q.RevisionConditions...)
	if q.ActiveRevision != nil {
		ar := *q.ActiveRevision
		ar.Changes = cloneChanges(ar.Changes)
		c.ActiveRevision = &ar
	}
	if q.RevisionHistory != nil {
		c.RevisionHistory = make([]RevisionRecord, len(q.RevisionHistory))
		for i, r := range q.RevisionHistory {
			r.Changes = cloneChanges(r.Changes)
			r.Conditions = append([]string(nil), r.Conditions...)
			r.ApprovedAt = cloneTime(r.ApprovedAt)
			r.ImplementedAt = cloneTime(r.ImplementedAt)
			c.RevisionHistory[i] = r
		}
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStamp(s *Stamp) *Stamp {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneChanges(in []FieldChange) []FieldChange {
	if in == nil {
		return nil
	}
	out := make([]FieldChange, len(in))
	for i, fc := range in {
		out[i] = FieldChange{
			Field:    fc.Field,
			OldValue: append(json.RawMessage(nil), fc.OldValue...),
			NewValue: append(json.RawMessage(nil), fc.NewValue...),
		}
	}
	return out
}
