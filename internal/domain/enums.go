package domain

import "fmt"

type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingReview   Status = "PENDING_REVIEW"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusActive          Status = "ACTIVE"
	StatusSent            Status = "SENT"
	StatusAccepted        Status = "ACCEPTED"
	StatusDeclined        Status = "DECLINED"
	StatusExpired         Status = "EXPIRED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusArchived        Status = "ARCHIVED"
)

// Statuses lists every lifecycle state in declaration order.
var Statuses = []Status{
	StatusDraft, StatusPendingReview, StatusPendingApproval, StatusApproved, StatusRejected,
	StatusActive, StatusSent, StatusAccepted, StatusDeclined, StatusExpired,
	StatusCompleted, StatusCancelled, StatusArchived,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type Role string

const (
	RoleUser       Role = "USER"
	RoleSalesRep   Role = "SALES_REP"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleClient     Role = "CLIENT"
)

var Roles = []Role{RoleUser, RoleSalesRep, RoleManager, RoleAdmin, RoleSuperAdmin, RoleClient}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ApprovalLevel is a rung of the approval hierarchy.
type ApprovalLevel string

const (
	LevelManager   ApprovalLevel = "MANAGER"
	LevelDirector  ApprovalLevel = "DIRECTOR"
	LevelExecutive ApprovalLevel = "EXECUTIVE"
)

// ApprovalChain is the fixed, ordered approval hierarchy, lowest rung first.
var ApprovalChain = []ApprovalLevel{LevelManager, LevelDirector, LevelExecutive}

// Rank returns the position of l in ApprovalChain, or -1 if l is unknown.
func (l ApprovalLevel) Rank() int {
	for i, lvl := range ApprovalChain {
		if lvl == l {
			return i
		}
	}
	return -1
}

// Next returns the rung above l. ok is false at the top of the chain.
func (l ApprovalLevel) Next() (next ApprovalLevel, ok bool) {
	r := l.Rank()
	if r < 0 || r+1 >= len(ApprovalChain) {
		return "", false
	}
	return ApprovalChain[r+1], true
}

// AtLeast reports whether l is the same rung as other or above it.
func (l ApprovalLevel) AtLeast(other ApprovalLevel) bool {
	return l.Rank() >= 0 && l.Rank() >= other.Rank()
}

func ParseApprovalLevel(s string) (ApprovalLevel, error) {
	l := ApprovalLevel(s)
	if l.Rank() < 0 {
		return "", fmt.Errorf("unknown approval level %q", s)
	}
	return l, nil
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// UrgencyScale is ordered from least to most urgent.
var UrgencyScale = []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent}

func (u Urgency) Rank() int {
	for i, v := range UrgencyScale {
		if v == u {
			return i
		}
	}
	return -1
}

// Raise returns the next urgency step; urgent stays urgent.
func (u Urgency) Raise() Urgency {
	r := u.Rank()
	if r < 0 {
		return UrgencyMedium
	}
	if r+1 >= len(UrgencyScale) {
		return u
	}
	return UrgencyScale[r+1]
}

func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(s)
	if u.Rank() < 0 {
		return "", fmt.Errorf("unknown urgency %q", s)
	}
	return u, nil
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApproved, DecisionRejected:
		return Decision(s), nil
	}
	return "", fmt.Errorf("decision must be approved or rejected, got %q", s)
}

type RevisionStatus string

const (
	RevisionPending               RevisionStatus = "pending"
	RevisionApproved              RevisionStatus = "approved"
	RevisionRejected              RevisionStatus = "rejected"
	RevisionPendingClientApproval RevisionStatus = "pending_client_approval"
	RevisionImplemented           RevisionStatus = "implemented"
)

type RevisionReason string

const (
	ReasonPricingUpdate   RevisionReason = "PRICING_UPDATE"
	ReasonScopeChange     RevisionReason = "SCOPE_CHANGE"
	ReasonClientRequest   RevisionReason = "CLIENT_REQUEST"
	ReasonTermsUpdate     RevisionReason = "TERMS_UPDATE"
	ReasonErrorCorrection RevisionReason = "ERROR_CORRECTION"
	ReasonOther           RevisionReason = "OTHER"
)

var RevisionReasons = []RevisionReason{
	ReasonPricingUpdate, ReasonScopeChange, ReasonClientRequest,
	ReasonTermsUpdate, ReasonErrorCorrection, ReasonOther,
}

func ParseRevisionReason(s string) (RevisionReason, error) {
	for _, r := range RevisionReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown revision reason %q", s)
}

type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

func ParseImpact(s string) (Impact, error) {
	switch Impact(s) {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return Impact(s), nil
	}
	return "", fmt.Errorf("unknown impact %q", s)
}
