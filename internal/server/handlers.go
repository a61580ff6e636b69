package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/policy"
)

type quotationPath struct {
	ID string `path:"id"`
}

type quotationOutput struct {
	Body QuotationResponse `json:"body"`
}

func quotationOut(q domain.Quotation) *quotationOutput {
	return &quotationOutput{Body: quotationResponse(q)}
}

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerQuotations(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-quotation",
		Method:        http.MethodPost,
		Path:          "/quotations",
		Summary:       "Create a draft quotation",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateQuotationRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		q, err := h.e.CreateQuotation(ctx, engine.CreateOptions{
			ID:           b.ID,
			Number:       b.Number,
			Title:        b.Title,
			Description:  b.Description,
			ClientID:     b.ClientID,
			Items:        lineItems(b.Items),
			Currency:     b.Currency,
			TaxRate:      b.TaxRate,
			DiscountRate: b.DiscountRate,
			Terms:        b.Terms,
			Notes:        b.Notes,
			ValidFrom:    b.ValidFrom,
			ValidUntil:   b.ValidUntil,
			Priority:     b.Priority,
			Actor:        actor,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quotation",
		Method:      http.MethodGet,
		Path:        "/quotations/{id}",
		Summary:     "Get a quotation",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *quotationPath) (*quotationOutput, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		q, err := h.e.GetQuotation(ctx, input.ID)
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/quotations/{id}/transitions",
		Summary:     "List the statuses the caller may move the quotation to",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Target string `query:"target" doc:"Explain whether this specific status is reachable"`
	}) (*struct {
		Body TransitionsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := h.e.GetQuotation(ctx, input.ID)
		if err != nil {
			return nil, h.fail(err)
		}
		avail, err := h.e.AvailableTransitions(ctx, input.ID, actor)
		if err != nil {
			return nil, h.fail(err)
		}
		out := &struct {
			Body TransitionsResponse `json:"body"`
		}{}
		out.Body.Current = string(q.Status)
		out.Body.Available = statusStrings(avail)
		if t := strings.TrimSpace(input.Target); t != "" {
			target, err := domain.ParseStatus(strings.ToUpper(t))
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			d, err := h.e.CanTransition(ctx, input.ID, target, actor)
			if err != nil {
				return nil, h.fail(err)
			}
			ex := explanation(d)
			out.Body.Explanation = &ex
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-quotation",
		Method:      http.MethodPost,
		Path:        "/quotations/{id}/transition",
		Summary:     "Move a quotation to another status",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := h.e.Transition(ctx, input.ID, domain.Status(input.Body.Status), actor, input.Body.Comments)
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/quotations/{id}/events",
		Summary:     "Audit log of a quotation",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" minimum:"0" maximum:"1000" default:"100"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		recs, err := h.e.ListEvents(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, h.fail(err)
		}
		out := &struct {
			Body EventList `json:"body"`
		}{Body: EventList{Items: make([]EventResponse, 0, len(recs))}}
		for _, rec := range recs {
			out.Body.Items = append(out.Body.Items, eventResponse(rec))
		}
		return out, nil
	})
}

func registerApprovals(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "request-approval",
		Method:      http.MethodPost,
		Path:        "/quotations/{id}/approval",
		Summary:     "Open an approval request",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body ApprovalRequestRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := h.e.RequestApproval(ctx, engine.ApprovalRequestOptions{
			QuotationID: input.ID,
			Actor:       actor,
			Level:       domain.ApprovalLevel(input.Body.Level),
			Reason:      input.Body.Reason,
			Urgency:     domain.Urgency(input.Body.Urgency),
			Deadline:    input.Body.Deadline,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-approval",
		Method:      http.MethodPost,
		Path:        "/quotations/{id}/approval/decision",
		Summary:     "Approve or reject at the current level",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DecisionRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := h.e.Approve(ctx, engine.ApproveOptions{
			QuotationID: input.ID,
			Actor:       actor,
			Decision:    domain.Decision(input.Body.Decision),
			Comments:    input.Body.Comments,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-approval",
		Method:      http.MethodPost,
		Path:        "/quotations/{id}/approval/escalate",
		Summary:     "Escalate a pending approval",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body EscalateRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := h.e.EscalateApproval(ctx, input.ID, actor, input.Body.Reason)
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals/pending",
		Summary:     "Pending approvals at the caller's level",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body QuotationList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		qs, err := h.e.PendingApprovals(ctx, actor)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body QuotationList `json:"body"`
		}{Body: quotationList(qs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-deadlines",
		Method:      http.MethodPost,
		Path:        "/approvals/sweep",
		Summary:     "Escalate approvals past their deadline",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SweepReport `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := policy.Require(actor, domain.Quotation{}, policy.ActionRunSweep); err != nil {
			return nil, h.fail(err)
		}
		report, err := h.e.CheckApprovalDeadlines(ctx)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body engine.SweepReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerRevisions(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-revision",
		Method:        http.MethodPost,
		Path:          "/quotations/{id}/revisions",
		Summary:       "Propose a set of field changes",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RevisionRequestRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		changes, err := fieldChanges(input.Body.Changes)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		q, err := h.e.RequestRevision(ctx, engine.RevisionRequestOptions{
			QuotationID:            input.ID,
			Actor:                  actor,
			Reason:                 domain.RevisionReason(input.Body.Reason),
			Description:            input.Body.Description,
			Urgency:                domain.Urgency(input.Body.Urgency),
			Changes:                changes,
			EstimatedImpact:        domain.Impact(input.Body.EstimatedImpact),
			RequiresClientApproval: input.Body.RequiresClientApproval,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-revision",
		Method:      http.MethodPost,
		Path:        "/quotations/{id}/revisions/{revision_id}/decision",
		Summary:     "Approve or reject a pending revision",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID         string                  `path:"id"`
		RevisionID string                  `path:"revision_id"`
		Body       RevisionDecisionRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := h.e.ApproveRevision(ctx, engine.RevisionDecisionOptions{
			QuotationID: input.ID,
			RevisionID:  input.RevisionID,
			Actor:       actor,
			Decision:    domain.Decision(input.Body.Decision),
			Comments:    input.Body.Comments,
			Conditions:  input.Body.Conditions,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "implement-revision",
		Method:      http.MethodPost,
		Path:        "/quotations/{id}/revisions/{revision_id}/implement",
		Summary:     "Apply an approved revision",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID         string                   `path:"id"`
		RevisionID string                   `path:"revision_id"`
		Body       ImplementRevisionRequest `json:"body"`
	}) (*quotationOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := h.e.ImplementRevision(ctx, engine.ImplementRevisionOptions{
			QuotationID: input.ID,
			RevisionID:  input.RevisionID,
			Actor:       actor,
			Notes:       input.Body.Notes,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return quotationOut(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-revisions",
		Method:      http.MethodGet,
		Path:        "/revisions/pending",
		Summary:     "Revisions awaiting review",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RevisionList `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		views, err := h.e.PendingRevisions(ctx, actor)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct {
			Body RevisionList `json:"body"`
		}{Body: revisionViews(views)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-revisions",
		Method:      http.MethodGet,
		Path:        "/revisions",
		Summary:     "Revisions filtered by reason and/or impact",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Reason string `query:"reason"`
		Impact string `query:"impact"`
	}) (*struct {
		Body RevisionList `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Reason == "" && input.Impact == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason or impact is required", nil)
		}
		var views []engine.RevisionView
		if input.Reason != "" {
			reason, err := domain.ParseRevisionReason(strings.ToUpper(input.Reason))
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			if views, err = h.e.RevisionsByReason(ctx, reason); err != nil {
				return nil, h.fail(err)
			}
		}
		if input.Impact != "" {
			impact, err := domain.ParseImpact(strings.ToLower(input.Impact))
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			byImpact, err := h.e.RevisionsByImpact(ctx, impact)
			if err != nil {
				return nil, h.fail(err)
			}
			if input.Reason == "" {
				views = byImpact
			} else {
				views = intersectRevisions(views, byImpact)
			}
		}
		return &struct {
			Body RevisionList `json:"body"`
		}{Body: revisionViews(views)}, nil
	})
}

func intersectRevisions(a, b []engine.RevisionView) []engine.RevisionView {
	seen := make(map[string]bool, len(b))
	for _, v := range b {
		seen[v.Revision.ID] = true
	}
	var out []engine.RevisionView
	for _, v := range a {
		if seen[v.Revision.ID] {
			out = append(out, v)
		}
	}
	return out
}
