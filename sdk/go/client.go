package quoteflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Quoteflow HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// LineItem is a priced line of a quotation.
type LineItem struct {
	ID          string  `json:"id,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total,omitempty"`
}

// NewQuotation is the create payload.
type NewQuotation struct {
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	Items        []LineItem `json:"items,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	TaxRate      float64    `json:"tax_rate,omitempty"`
	DiscountRate float64    `json:"discount_rate,omitempty"`
	Terms        string     `json:"terms,omitempty"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

// Approval is the approval section of a quotation (partial).
type Approval struct {
	Level       string     `json:"level,omitempty"`
	Urgency     string     `json:"urgency,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Escalations int        `json:"escalation_count"`
}

// Revision is a revision record (partial).
type Revision struct {
	ID              string `json:"id"`
	RevisionNumber  int    `json:"revision_number"`
	Reason          string `json:"reason"`
	EstimatedImpact string `json:"estimated_impact"`
	Status          string `json:"status"`
}

// Quotation represents the API quotation model (partial).
type Quotation struct {
	ID               string     `json:"id"`
	Number           string     `json:"number"`
	Title            string     `json:"title"`
	ClientID         string     `json:"client_id,omitempty"`
	Items            []LineItem `json:"items"`
	Currency         string     `json:"currency"`
	Total            float64    `json:"total"`
	Status           string     `json:"status"`
	Version          string     `json:"version"`
	LockVersion      int64      `json:"lock_version"`
	Approval         Approval   `json:"approval"`
	RevisionStatus   string     `json:"revision_status,omitempty"`
	ActiveRevisionID string     `json:"active_revision_id,omitempty"`
	Revisions        []Revision `json:"revisions"`
}

// Change proposes a new value for a patchable field.
type Change struct {
	Field    string `json:"field"`
	NewValue any    `json:"new_value"`
}

// RevisionRequest is the payload for RequestRevision.
type RevisionRequest struct {
	Reason                 string   `json:"reason,omitempty"`
	Description            string   `json:"description,omitempty"`
	Urgency                string   `json:"urgency,omitempty"`
	Changes                []Change `json:"changes"`
	EstimatedImpact        string   `json:"estimated_impact,omitempty"`
	RequiresClientApproval bool     `json:"requires_client_approval,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          time.Time      `json:"ts"`
	Type        string         `json:"type"`
	QuotationID string         `json:"quotation_id"`
	ActorID     string         `json:"actor_id"`
	Details     map[string]any `json:"details,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateQuotation creates a DRAFT quotation.
func (c *Client) CreateQuotation(ctx context.Context, in NewQuotation) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodPost, "quotations", in, &resp)
	return resp, err
}

// GetQuotation fetches a quotation by id.
func (c *Client) GetQuotation(ctx context.Context, id string) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodGet, quotationPath(id, ""), nil, &resp)
	return resp, err
}

// Transition moves a quotation to status.
func (c *Client) Transition(ctx context.Context, id, status, comments string) (Quotation, error) {
	body := map[string]any{"status": status, "comments": comments}
	var resp Quotation
	err := c.do(ctx, http.MethodPost, quotationPath(id, "transition"), body, &resp)
	return resp, err
}

// RequestApproval opens an approval request at level.
func (c *Client) RequestApproval(ctx context.Context, id, level, urgency, reason string) (Quotation, error) {
	body := map[string]any{"level": level, "urgency": urgency, "reason": reason}
	var resp Quotation
	err := c.do(ctx, http.MethodPost, quotationPath(id, "approval"), body, &resp)
	return resp, err
}

// Decide approves or rejects at the current approval level.
func (c *Client) Decide(ctx context.Context, id, decision, comments string) (Quotation, error) {
	body := map[string]any{"decision": decision, "comments": comments}
	var resp Quotation
	err := c.do(ctx, http.MethodPost, quotationPath(id, "approval/decision"), body, &resp)
	return resp, err
}

// Escalate raises a pending approval.
func (c *Client) Escalate(ctx context.Context, id, reason string) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodPost, quotationPath(id, "approval/escalate"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// PendingApprovals lists approvals waiting at the caller's level.
func (c *Client) PendingApprovals(ctx context.Context) ([]Quotation, error) {
	var resp struct {
		Items []Quotation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "approvals/pending", nil, &resp)
	return resp.Items, err
}

// RequestRevision proposes field changes.
func (c *Client) RequestRevision(ctx context.Context, id string, in RevisionRequest) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodPost, quotationPath(id, "revisions"), in, &resp)
	return resp, err
}

// DecideRevision approves or rejects a pending revision.
func (c *Client) DecideRevision(ctx context.Context, id, revisionID, decision, comments string) (Quotation, error) {
	body := map[string]any{"decision": decision, "comments": comments}
	var resp Quotation
	err := c.do(ctx, http.MethodPost, quotationPath(id, "revisions/"+url.PathEscape(revisionID)+"/decision"), body, &resp)
	return resp, err
}

// ImplementRevision applies an approved revision.
func (c *Client) ImplementRevision(ctx context.Context, id, revisionID, notes string) (Quotation, error) {
	var resp Quotation
	err := c.do(ctx, http.MethodPost, quotationPath(id, "revisions/"+url.PathEscape(revisionID)+"/implement"), map[string]any{"notes": notes}, &resp)
	return resp, err
}

// Events lists the audit log of a quotation, newest first.
func (c *Client) Events(ctx context.Context, id string, limit int) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	endpoint := quotationPath(id, "events")
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func quotationPath(id, suffix string) string {
	p := "quotations/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
