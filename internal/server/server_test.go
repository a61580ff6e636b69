package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/config"
	"quoteflow/internal/db"
	"quoteflow/internal/engine"
	"quoteflow/internal/migrate"
	"quoteflow/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	e, err := engine.New(repo.New(conn), config.Default())
	require.NoError(t, err)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, DevAuth: true},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

func (s *testServer) token(actor string, roles ...string) string {
	s.t.Helper()
	tok, err := SignToken(testSecret, actor, roles, time.Now(), time.Hour)
	require.NoError(s.t, err)
	return tok
}

// do sends body as JSON and decodes the response into out when non-nil.
func (s *testServer) do(method, path, token string, body, out any) int {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(s.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	if out != nil && len(data) > 0 {
		require.NoError(s.t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) createQuotation(token string) QuotationResponse {
	s.t.Helper()
	var q QuotationResponse
	status := s.do(http.MethodPost, "/v1/quotations", token, CreateQuotationRequest{
		Title:    "Warehouse racking",
		ClientID: "client-1",
		Items:    []LineItemRequest{{Description: "rack", Quantity: 4, UnitPrice: 25}},
		TaxRate:  10,
	}, &q)
	require.Equal(s.t, http.StatusCreated, status)
	return q
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/health", "", nil, &health))
	assert.Equal(t, "ok", health["status"])

	var env errorEnvelope
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/me", "", nil, &env))
	assert.Equal(t, "unauthorized", env.Error.Code)

	env = errorEnvelope{}
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/me", "not-a-jwt", nil, &env))
	assert.Equal(t, "invalid_credentials", env.Error.Code)

	forged, err := SignToken("other-secret", "mallory", nil, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/me", forged, nil, nil))

	var me WhoAmIResponse
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/me", s.token("adm-1", "ADMIN"), nil, &me))
	assert.Equal(t, "adm-1", me.ActorID)
	assert.Equal(t, []string{"ADMIN"}, me.Roles)
	assert.Equal(t, "DIRECTOR", me.ApprovalLevel)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/metrics", "", nil, nil))
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	s := newTestServer(t)
	var login DevLoginResponse
	status := s.do(http.MethodPost, "/v1/auth/dev/login", "", DevLoginRequest{ActorID: "rep-1", Roles: []string{"sales_rep"}}, &login)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, login.Token)

	var me WhoAmIResponse
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/me", login.Token, nil, &me))
	assert.Equal(t, []string{"SALES_REP"}, me.Roles)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/auth/dev/login", "", DevLoginRequest{ActorID: "x", Roles: []string{"WIZARD"}}, nil))
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	rep := s.token("rep-1", "SALES_REP")

	q := s.createQuotation(rep)
	assert.Equal(t, "DRAFT", q.Status)
	assert.Equal(t, "1.0", q.Version)
	assert.InDelta(t, 110, q.Total, 0.0001)

	var tr TransitionsResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/quotations/"+q.ID+"/transitions?target=SENT", rep, nil, &tr))
	assert.Equal(t, "DRAFT", tr.Current)
	assert.Contains(t, tr.Available, "PENDING_APPROVAL")
	require.NotNil(t, tr.Explanation)
	assert.False(t, tr.Explanation.Allowed)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/quotations/"+q.ID+"/transition", rep, TransitionRequest{Status: "PENDING_APPROVAL"}, &q))
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/quotations/"+q.ID+"/approval", rep, ApprovalRequestRequest{Level: "MANAGER", Urgency: "high"}, &q))
	assert.Equal(t, "MANAGER", q.Approval.Level)
	require.NotNil(t, q.Approval.Deadline)

	var pending QuotationList
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/approvals/pending", s.token("mgr-1", "MANAGER"), nil, &pending))
	require.Len(t, pending.Items, 1)
	assert.Equal(t, q.ID, pending.Items[0].ID)

	for _, approver := range []struct{ id, role, next string }{
		{"mgr-1", "MANAGER", "DIRECTOR"},
		{"adm-1", "ADMIN", "EXECUTIVE"},
		{"exec-1", "SUPER_ADMIN", ""},
	} {
		status := s.do(http.MethodPost, "/v1/quotations/"+q.ID+"/approval/decision", s.token(approver.id, approver.role),
			DecisionRequest{Decision: "approved"}, &q)
		require.Equal(t, http.StatusOK, status, approver.id)
		if approver.next != "" {
			assert.Equal(t, approver.next, q.Approval.Level)
			assert.Equal(t, "PENDING_APPROVAL", q.Status)
		}
	}
	assert.Equal(t, "APPROVED", q.Status)
	assert.Len(t, q.Approval.History, 3)

	var events EventList
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/quotations/"+q.ID+"/events", rep, nil, &events))
	assert.GreaterOrEqual(t, len(events.Items), 5)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	rep := s.token("rep-1", "SALES_REP")
	q := s.createQuotation(rep)

	var env errorEnvelope
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/quotations/missing", rep, nil, &env))
	assert.Equal(t, "not_found", env.Error.Code)

	env = errorEnvelope{}
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/v1/quotations/"+q.ID+"/transition", rep, TransitionRequest{Status: "SENT"}, &env))
	assert.Equal(t, "invalid_transition", env.Error.Code)
	assert.Equal(t, "DRAFT", env.Error.Details["from"])

	env = errorEnvelope{}
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/v1/quotations", s.token("client-1", "CLIENT"), CreateQuotationRequest{Title: "x"}, &env))
	assert.Equal(t, "forbidden", env.Error.Code)

	env = errorEnvelope{}
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/v1/quotations/"+q.ID+"/approval/decision", s.token("mgr-1", "MANAGER"), DecisionRequest{Decision: "approved"}, &env))
	assert.Equal(t, "invalid_state", env.Error.Code)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/v1/approvals/sweep", rep, nil, nil))
	var report engine.SweepReport
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/approvals/sweep", s.token("mgr-1", "MANAGER"), nil, &report))
	assert.Empty(t, report.Escalated)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/revisions", rep, nil, nil))
}

func TestRevisionFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	rep := s.token("rep-1", "SALES_REP")
	mgr := s.token("mgr-1", "MANAGER")
	q := s.createQuotation(rep)

	status := s.do(http.MethodPost, "/v1/quotations/"+q.ID+"/revisions", rep, RevisionRequestRequest{
		Reason:          "PRICING_UPDATE",
		EstimatedImpact: "high",
		Changes:         []FieldChangeRequest{{Field: "tax_rate", NewValue: 20}},
	}, &q)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, q.Revisions, 1)
	rev := q.Revisions[0]
	assert.Equal(t, "pending", rev.Status)
	assert.EqualValues(t, 10, rev.Changes[0].OldValue)

	var list RevisionList
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/revisions/pending", mgr, nil, &list))
	require.Len(t, list.Items, 1)

	list = RevisionList{}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/revisions?reason=PRICING_UPDATE&impact=low", mgr, nil, &list))
	assert.Empty(t, list.Items)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/revisions?reason=PRICING_UPDATE&impact=high", mgr, nil, &list))
	assert.Len(t, list.Items, 1)

	base := "/v1/quotations/" + q.ID + "/revisions/" + rev.ID
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, base+"/decision", rep, RevisionDecisionRequest{Decision: "approved"}, nil))
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/decision", mgr, RevisionDecisionRequest{Decision: "approved"}, &q))
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/implement", rep, ImplementRevisionRequest{Notes: "done"}, &q))
	assert.Equal(t, "1.1", q.Version)
	assert.InDelta(t, 20, q.TaxRate, 0.0001)
	assert.InDelta(t, 120, q.Total, 0.0001)
	assert.Empty(t, q.ActiveRevisionID)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/quotations/"+q.ID+"/revisions/nope/implement", rep, ImplementRevisionRequest{}, nil))
}

func TestOpenAPIIsPublic(t *testing.T) {
	s := newTestServer(t)
	var spec map[string]any
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/openapi.json", "", nil, &spec))
	paths, ok := spec["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/quotations/{id}/approval/decision")
}
