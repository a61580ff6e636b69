package repo

import (
	"time"

	"quoteflow/internal/domain"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses        []domain.Status
	CreatedBy       string
	ApprovalPending *bool
	ApprovalLevel   domain.ApprovalLevel
	// DeadlineBefore keeps quotations whose approval deadline is strictly earlier.
	DeadlineBefore *time.Time
	HasRevisions   bool
	Limit          int
}

// Match applies the filter to a decoded quotation. Stores that cannot push a
// predicate down to the backend rely on it.
func (f Filter) Match(q domain.Quotation) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if q.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedBy != "" && q.CreatedBy != f.CreatedBy {
		return false
	}
	if f.ApprovalPending != nil && q.ApprovalPending() != *f.ApprovalPending {
		return false
	}
	if f.ApprovalLevel != "" && q.ApprovalLevel != f.ApprovalLevel {
		return false
	}
	if f.DeadlineBefore != nil && (q.ApprovalDeadline == nil || !q.ApprovalDeadline.Before(*f.DeadlineBefore)) {
		return false
	}
	if f.HasRevisions && len(q.RevisionHistory) == 0 {
		return false
	}
	return true
}

// Pending is a convenience for Filter.ApprovalPending.
func Pending(v bool) *bool {
	return &v
}
