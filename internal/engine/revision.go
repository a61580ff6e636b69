package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"quoteflow/internal/domain"
	"quoteflow/internal/events"
	"quoteflow/internal/notify"
	"quoteflow/internal/policy"
	"quoteflow/internal/repo"
)

// Statuses in which a revision may be requested.
var revisableStatuses = []domain.Status{
	domain.StatusDraft,
	domain.StatusPendingReview,
	domain.StatusPendingApproval,
	domain.StatusApproved,
	domain.StatusActive,
	domain.StatusSent,
}

type RevisionRequestOptions struct {
	QuotationID            string
	Actor                  domain.Actor
	Reason                 domain.RevisionReason
	Description            string
	Urgency                domain.Urgency
	Changes                []domain.FieldChange
	EstimatedImpact        domain.Impact
	RequiresClientApproval bool
}

func (o *RevisionRequestOptions) normalize() error {
	if o.Reason == "" {
		o.Reason = domain.ReasonOther
	}
	if _, err := domain.ParseRevisionReason(string(o.Reason)); err != nil {
		return ValidationError{Field: "reason", Reason: err.Error()}
	}
	if o.Urgency == "" {
		o.Urgency = domain.UrgencyMedium
	}
	if o.Urgency.Rank() < 0 {
		return ValidationError{Field: "urgency", Reason: fmt.Sprintf("unknown urgency %q", o.Urgency)}
	}
	if o.EstimatedImpact == "" {
		o.EstimatedImpact = domain.ImpactMedium
	}
	if _, err := domain.ParseImpact(string(o.EstimatedImpact)); err != nil {
		return ValidationError{Field: "estimated_impact", Reason: err.Error()}
	}
	if len(o.Changes) == 0 {
		return ValidationError{Field: "changes", Reason: "at least one change is required"}
	}
	for i, c := range o.Changes {
		if !domain.IsPatchable(c.Field) {
			return ValidationError{Field: fmt.Sprintf("changes[%d]", i), Reason: fmt.Sprintf("field %q cannot be revised", c.Field)}
		}
	}
	return nil
}

// RequestRevision opens a revision proposing the given field changes.
func (e Engine) RequestRevision(ctx context.Context, opts RevisionRequestOptions) (domain.Quotation, error) {
	if err := opts.normalize(); err != nil {
		return domain.Quotation{}, err
	}
	return e.mutate(ctx, opts.QuotationID, opts.Actor, "revision.requested", func(m *mutation) error {
		q := &m.Q
		if err := policy.Require(opts.Actor, *q, policy.ActionRequestRevision); err != nil {
			return err
		}
		if !inStatuses(q.Status, revisableStatuses) {
			return StateError{QuotationID: q.ID, Reason: fmt.Sprintf("revisions are not accepted in status %s", q.Status)}
		}
		if q.ActiveRevision != nil {
			return StateError{QuotationID: q.ID, Reason: fmt.Sprintf("revision %s is still outstanding", q.ActiveRevision.ID)}
		}

		changes := make([]domain.FieldChange, len(opts.Changes))
		scratch := q.Clone()
		for i, c := range opts.Changes {
			if err := scratch.ApplyChange(c); err != nil {
				return ValidationError{Field: fmt.Sprintf("changes[%d]", i), Reason: err.Error()}
			}
			if len(c.OldValue) == 0 {
				old, err := q.FieldValue(c.Field)
				if err != nil {
					return err
				}
				c.OldValue = old
			}
			changes[i] = c
		}
		if err := validateQuotationTerms(scratch); err != nil {
			return err
		}

		rec := domain.RevisionRecord{
			ID:                     uuid.NewString(),
			RevisionNumber:         len(q.RevisionHistory) + 1,
			RequestedBy:            opts.Actor.ID,
			RequestedAt:            m.Now,
			Reason:                 opts.Reason,
			Description:            opts.Description,
			Urgency:                opts.Urgency,
			Changes:                changes,
			EstimatedImpact:        opts.EstimatedImpact,
			RequiresClientApproval: opts.RequiresClientApproval,
			Status:                 domain.RevisionPending,
		}
		q.RevisionHistory = append(q.RevisionHistory, rec)
		q.RevisionStatus = domain.RevisionPending
		q.RevisionConditions = nil
		q.ActiveRevision = &domain.RevisionRequest{
			ID:                     rec.ID,
			Reason:                 rec.Reason,
			Description:            rec.Description,
			Urgency:                rec.Urgency,
			Changes:                changes,
			EstimatedImpact:        rec.EstimatedImpact,
			RequiresClientApproval: rec.RequiresClientApproval,
		}

		m.Details = events.Payload{"revision_id": rec.ID, "revision_number": rec.RevisionNumber, "reason": rec.Reason, "fields": changedFields(changes)}
		payload := revisionPayload(rec, opts.Actor.ID, "")
		m.notify(notify.RevisionRequested(notify.Actor(q.CreatedBy), *q, payload))
		if rec.EstimatedImpact == domain.ImpactHigh {
			m.notify(notify.RevisionRequested(notify.Role(domain.RoleManager), *q, payload))
		}
		m.onCommit(func() { e.Metrics.Revision("requested") })
		return nil
	})
}

type RevisionDecisionOptions struct {
	QuotationID string
	RevisionID  string
	Actor       domain.Actor
	Decision    domain.Decision
	Comments    string
	Conditions  []string
}

// ApproveRevision records a reviewer's decision on a pending revision.
func (e Engine) ApproveRevision(ctx context.Context, opts RevisionDecisionOptions) (domain.Quotation, error) {
	switch opts.Decision {
	case domain.DecisionApproved, domain.DecisionRejected:
	default:
		return domain.Quotation{}, ValidationError{Field: "decision", Reason: fmt.Sprintf("must be approved or rejected, got %q", opts.Decision)}
	}
	return e.mutate(ctx, opts.QuotationID, opts.Actor, "revision.decided", func(m *mutation) error {
		q := &m.Q
		if err := policy.Require(opts.Actor, *q, policy.ActionReviewRevision); err != nil {
			return err
		}
		rec, idx, ok := q.Revision(opts.RevisionID)
		if !ok {
			return fmt.Errorf("revision %s: %w", opts.RevisionID, repo.ErrNotFound)
		}
		if rec.Status != domain.RevisionPending {
			return StateError{QuotationID: q.ID, Reason: fmt.Sprintf("revision %s is %s, not pending", rec.ID, rec.Status)}
		}
		now := m.Now
		rec.ApprovedBy = opts.Actor.ID
		rec.ApprovedAt = &now
		rec.ReviewComments = opts.Comments

		if opts.Decision == domain.DecisionApproved {
			rec.Status = domain.RevisionApproved
			rec.Conditions = append([]string(nil), opts.Conditions...)
			q.RevisionStatus = domain.RevisionApproved
			if rec.RequiresClientApproval {
				q.RevisionStatus = domain.RevisionPendingClientApproval
			}
			q.RevisionConditions = append([]string(nil), opts.Conditions...)
			m.onCommit(func() { e.Metrics.Revision("approved") })
		} else {
			rec.Status = domain.RevisionRejected
			q.RevisionStatus = domain.RevisionRejected
			q.RevisionConditions = nil
			q.ActiveRevision = nil
			m.onCommit(func() { e.Metrics.Revision("rejected") })
		}
		q.RevisionHistory[idx] = rec

		m.Details = events.Payload{"revision_id": rec.ID, "decision": opts.Decision, "comments": opts.Comments, "conditions": opts.Conditions}
		payload := revisionPayload(rec, opts.Actor.ID, opts.Comments)
		for _, to := range revisionRecipients(*q, rec) {
			m.notify(notify.RevisionDecided(to, *q, payload))
		}
		if q.RevisionStatus == domain.RevisionPendingClientApproval && q.ClientID != "" {
			m.notify(notify.RevisionDecided(notify.Actor(q.ClientID), *q, payload))
		}
		return nil
	})
}

type ImplementRevisionOptions struct {
	QuotationID string
	RevisionID  string
	Actor       domain.Actor
	Notes       string
}

// ImplementRevision applies an approved revision's changes and bumps the
// minor version. The workflow status is left as is.
func (e Engine) ImplementRevision(ctx context.Context, opts ImplementRevisionOptions) (domain.Quotation, error) {
	return e.mutate(ctx, opts.QuotationID, opts.Actor, "revision.implemented", func(m *mutation) error {
		q := &m.Q
		if err := policy.Require(opts.Actor, *q, policy.ActionImplementRevision); err != nil {
			return err
		}
		rec, idx, ok := q.Revision(opts.RevisionID)
		if !ok {
			return fmt.Errorf("revision %s: %w", opts.RevisionID, repo.ErrNotFound)
		}
		if rec.Status != domain.RevisionApproved {
			return StateError{QuotationID: q.ID, Reason: fmt.Sprintf("revision %s is %s, not approved", rec.ID, rec.Status)}
		}
		if q.RevisionStatus == domain.RevisionPendingClientApproval && q.ActiveRevision != nil && q.ActiveRevision.ID == rec.ID {
			return StateError{QuotationID: q.ID, Reason: fmt.Sprintf("revision %s is awaiting client approval", rec.ID)}
		}
		repriced := false
		for i, c := range rec.Changes {
			if err := q.ApplyChange(c); err != nil {
				return ValidationError{Field: fmt.Sprintf("changes[%d]", i), Reason: err.Error()}
			}
			switch c.Field {
			case domain.FieldItems:
				q.Items = assignItemIDs(q.Items)
				repriced = true
			case domain.FieldTaxRate, domain.FieldDiscountRate:
				repriced = true
			}
		}
		if err := validateQuotationTerms(*q); err != nil {
			return err
		}
		if repriced {
			q.Recalculate()
		}
		now := m.Now
		rec.Status = domain.RevisionImplemented
		rec.ImplementedBy = opts.Actor.ID
		rec.ImplementedAt = &now
		rec.ImplementationNotes = opts.Notes
		q.RevisionHistory[idx] = rec
		q.RevisionStatus = domain.RevisionImplemented
		q.ActiveRevision = nil
		q.RevisionConditions = nil
		prior := q.Version
		q.Version = nextVersion(prior, rec.RevisionNumber)

		m.Details = events.Payload{"revision_id": rec.ID, "from_version": prior, "to_version": q.Version, "fields": changedFields(rec.Changes), "notes": opts.Notes}
		payload := revisionPayload(rec, opts.Actor.ID, opts.Notes)
		payload.Version = q.Version
		for _, to := range revisionRecipients(*q, rec) {
			m.notify(notify.RevisionImplemented(to, *q, payload))
		}
		m.onCommit(func() { e.Metrics.Revision("implemented") })
		return nil
	})
}

// nextVersion keeps the major component of version and replaces the minor
// with n. An unset version is treated as major 1.
func nextVersion(version string, n int) string {
	major, _, _ := strings.Cut(version, ".")
	if strings.TrimSpace(major) == "" {
		major = "1"
	}
	return major + "." + strconv.Itoa(n)
}

func revisionPayload(rec domain.RevisionRecord, by, comments string) notify.Revision {
	return notify.Revision{
		RevisionID:     rec.ID,
		RevisionNumber: rec.RevisionNumber,
		Reason:         rec.Reason,
		Impact:         rec.EstimatedImpact,
		Status:         rec.Status,
		By:             by,
		Comments:       comments,
		Conditions:     rec.Conditions,
	}
}

// revisionRecipients is the creator plus the requester when they differ.
func revisionRecipients(q domain.Quotation, rec domain.RevisionRecord) []notify.Recipient {
	out := []notify.Recipient{notify.Actor(q.CreatedBy)}
	if rec.RequestedBy != "" && rec.RequestedBy != q.CreatedBy {
		out = append(out, notify.Actor(rec.RequestedBy))
	}
	return out
}

func changedFields(changes []domain.FieldChange) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Field
	}
	return out
}

// RevisionView pairs a revision record with the quotation it belongs to.
type RevisionView struct {
	QuotationID     string                `json:"quotation_id"`
	QuotationNumber string                `json:"quotation_number"`
	Revision        domain.RevisionRecord `json:"revision"`
}

// PendingRevisions lists revisions awaiting review. Only managers and admins
// see revisions on other people's quotations.
func (e Engine) PendingRevisions(ctx context.Context, actor domain.Actor) ([]RevisionView, error) {
	f := repo.Filter{HasRevisions: true}
	if !policy.CanSeeAll(actor, policy.ActionViewAllRevisions) {
		f.CreatedBy = actor.ID
	}
	out, err := e.revisions(ctx, f, func(r domain.RevisionRecord) bool { return r.Status == domain.RevisionPending })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Revision, out[j].Revision
		if ra, rb := a.Urgency.Rank(), b.Urgency.Rank(); ra != rb {
			return ra > rb
		}
		return a.RequestedAt.Before(b.RequestedAt)
	})
	return out, nil
}

// RevisionsByReason lists every revision with the given reason, oldest first.
func (e Engine) RevisionsByReason(ctx context.Context, reason domain.RevisionReason) ([]RevisionView, error) {
	return e.revisionsSorted(ctx, func(r domain.RevisionRecord) bool { return r.Reason == reason })
}

// RevisionsByImpact lists every revision with the given estimated impact,
// oldest first.
func (e Engine) RevisionsByImpact(ctx context.Context, impact domain.Impact) ([]RevisionView, error) {
	return e.revisionsSorted(ctx, func(r domain.RevisionRecord) bool { return r.EstimatedImpact == impact })
}

func (e Engine) revisionsSorted(ctx context.Context, keep func(domain.RevisionRecord) bool) ([]RevisionView, error) {
	out, err := e.revisions(ctx, repo.Filter{HasRevisions: true}, keep)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Revision.RequestedAt.Before(out[j].Revision.RequestedAt)
	})
	return out, nil
}

func (e Engine) revisions(ctx context.Context, f repo.Filter, keep func(domain.RevisionRecord) bool) ([]RevisionView, error) {
	qs, err := e.Store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	out := []RevisionView{}
	for _, q := range qs {
		for _, r := range q.RevisionHistory {
			if keep(r) {
				out = append(out, RevisionView{QuotationID: q.ID, QuotationNumber: q.Number, Revision: r})
			}
		}
	}
	return out, nil
}
