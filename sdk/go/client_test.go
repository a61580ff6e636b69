package quoteflowsdk_test

import (
	"context"
	"errors"
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
	"quoteflow/internal/server"
	quoteflowsdk "quoteflow/sdk/go"
)

const secret = "sdk-secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	e, err := engine.New(repo.New(conn), config.Default())
	require.NoError(t, err)
	h, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func client(t *testing.T, srv *httptest.Server, actor string, roles ...string) *quoteflowsdk.Client {
	t.Helper()
	tok, err := server.SignToken(secret, actor, roles, time.Now(), time.Hour)
	require.NoError(t, err)
	return quoteflowsdk.New(srv.URL, tok)
}

func TestClientApprovalAndRevision(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	rep := client(t, srv, "rep-1", "SALES_REP")
	mgr := client(t, srv, "mgr-1", "MANAGER")

	q, err := rep.CreateQuotation(ctx, quoteflowsdk.NewQuotation{
		Title:    "Fleet service",
		ClientID: "client-9",
		Items:    []quoteflowsdk.LineItem{{Description: "service", Quantity: 3, UnitPrice: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, "DRAFT", q.Status)
	assert.InDelta(t, 300, q.Total, 0.0001)

	q, err = rep.Transition(ctx, q.ID, "PENDING_APPROVAL", "ready")
	require.NoError(t, err)
	q, err = rep.RequestApproval(ctx, q.ID, "MANAGER", "low", "")
	require.NoError(t, err)
	assert.Equal(t, "MANAGER", q.Approval.Level)

	pending, err := mgr.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	q, err = mgr.Escalate(ctx, q.ID, "customer waiting")
	require.NoError(t, err)
	assert.Equal(t, "medium", q.Approval.Urgency)
	assert.Equal(t, 1, q.Approval.Escalations)

	q, err = mgr.Decide(ctx, q.ID, "rejected", "too expensive")
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", q.Status)

	q, err = rep.RequestRevision(ctx, q.ID, quoteflowsdk.RevisionRequest{
		Reason:  "PRICING_UPDATE",
		Changes: []quoteflowsdk.Change{{Field: "terms", NewValue: "net 30"}},
	})
	var apiErr *quoteflowsdk.APIError
	require.True(t, errors.As(err, &apiErr), "revisions are closed once rejected")
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)

	events, err := rep.Events(ctx, q.ID, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.Equal(t, "quotation.created", events[len(events)-1].Type)
}

func TestClientRevisionFlow(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	rep := client(t, srv, "rep-1", "SALES_REP")
	mgr := client(t, srv, "mgr-1", "MANAGER")

	q, err := rep.CreateQuotation(ctx, quoteflowsdk.NewQuotation{Title: "Cleaning"})
	require.NoError(t, err)
	q, err = rep.RequestRevision(ctx, q.ID, quoteflowsdk.RevisionRequest{
		Changes: []quoteflowsdk.Change{{Field: "title", NewValue: "Deep cleaning"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, q.ActiveRevisionID)
	revID := q.ActiveRevisionID

	_, err = mgr.DecideRevision(ctx, q.ID, revID, "approved", "")
	require.NoError(t, err)
	q, err = rep.ImplementRevision(ctx, q.ID, revID, "")
	require.NoError(t, err)
	assert.Equal(t, "Deep cleaning", q.Title)
	assert.Equal(t, "1.1", q.Version)

	got, err := rep.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.LockVersion, got.LockVersion)
}
