package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quoteflow/internal/config"
	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/repo"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(config.Logging{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = NewLogger(config.Logging{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger(config.Logging{Level: "loud"})
	assert.Error(t, err)
}

func TestOpenWiresSQLiteAndWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.Webhook.URL = srv.URL
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), Config: cfg, Log: zap.NewNop(), HTTPClient: srv.Client()})
	require.NoError(t, err)

	rep := domain.Actor{ID: "rep-1", Roles: []domain.Role{domain.RoleSalesRep}}
	q, err := a.Engine.CreateQuotation(context.Background(), engine.CreateOptions{
		Title:    "Fleet lease",
		ClientID: "client-1",
		Items:    []domain.LineItem{{Description: "van", Quantity: 1, UnitPrice: 900}},
		Actor:    rep,
	})
	require.NoError(t, err)
	_, err = a.Engine.Transition(context.Background(), q.ID, domain.StatusPendingApproval, rep, "")
	require.NoError(t, err)
	_, err = a.Engine.RequestApproval(context.Background(), engine.ApprovalRequestOptions{QuotationID: q.ID, Actor: rep})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, cfg.Approval.SweepInterval, a.Sweeper().Interval)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mongo"
	_, _, err := OpenStore(context.Background(), cfg, t.TempDir(), "", zap.NewNop())
	assert.Error(t, err)
}

func TestOpenStoreSQLiteIsEmpty(t *testing.T) {
	store, closeFn, err := OpenStore(context.Background(), config.Default(), t.TempDir(), "", zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
