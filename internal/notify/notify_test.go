package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"quoteflow/internal/domain"
	"quoteflow/internal/metrics"
)

type captured struct {
	kind    string
	to      Recipient
	q       domain.Quotation
	payload any
}

type capture struct {
	mu   sync.Mutex
	sent []captured
	err  error
}

func (c *capture) notifier() Notifier {
	return Func(func(_ context.Context, kind string, to Recipient, q domain.Quotation, payload any) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.sent = append(c.sent, captured{kind, to, q, payload})
		return c.err
	})
}

func TestDispatcherDeliversSnapshot(t *testing.T) {
	c := &capture{}
	d := NewDispatcher(c.notifier(), zap.NewNop(), nil, time.Second)

	q := domain.Quotation{ID: "q-1", Title: "before"}
	job := ApprovalRequested(Approvers(domain.LevelManager), q, ApprovalRequest{Level: domain.LevelManager})
	q.Title = "after"
	d.Dispatch(job)
	d.Wait()

	require.Len(t, c.sent, 1)
	assert.Equal(t, KindApprovalRequest, c.sent[0].kind)
	assert.Equal(t, "before", c.sent[0].q.Title)
	assert.Equal(t, domain.LevelManager, c.sent[0].to.Level)
}

func TestDispatcherSwallowsErrorsAndPanics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := metrics.New(prometheus.NewRegistry())
	failing := &capture{err: errors.New("smtp down")}
	d := NewDispatcher(failing.notifier(), zap.New(core), rec, time.Second)

	d.Dispatch(
		RevisionRequested(Actor("rep-1"), domain.Quotation{ID: "q-1"}, Revision{RevisionID: "r-1"}),
		Job{Kind: "boom", QuotationID: "q-1", Send: func(context.Context, Notifier) error { panic("kaboom") }},
	)
	d.Wait()

	assert.Equal(t, 2, logs.FilterMessage("notification failed").Len())
}

func TestDispatcherTimesOut(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	slow := Func(func(ctx context.Context, _ string, _ Recipient, _ domain.Quotation, _ any) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher(slow, zap.New(core), nil, 10*time.Millisecond)
	d.Dispatch(OverdueApproval(Role(domain.RoleManager), domain.Quotation{ID: "q-1"}, Escalation{}))
	d.Wait()
	assert.Equal(t, 1, logs.FilterMessage("notification failed").Len())
}

func TestNilDispatcherDrops(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(ApprovalDecided(Actor("x"), domain.Quotation{}, ApprovalDecision{}))
	d.Wait()
}

func TestMultiRoutesByKind(t *testing.T) {
	a, b := &capture{}, &capture{}
	n := Multi(a.notifier(), b.notifier())
	require.NoError(t, n.SendNextApprovalLevelEmail(context.Background(), Approvers(domain.LevelDirector), domain.Quotation{ID: "q"}, ApprovalDecision{}))
	require.Len(t, a.sent, 1)
	require.Len(t, b.sent, 1)
	assert.Equal(t, KindNextApprovalLevel, b.sent[0].kind)

	b.err = errors.New("down")
	assert.Error(t, n.SendRevisionImplementedEmail(context.Background(), Actor("x"), domain.Quotation{}, Revision{}))
	assert.Len(t, a.sent, 2)
}

func TestWebhookPostsJSON(t *testing.T) {
	var (
		gotKind, gotSecret string
		body               webhookBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKind = r.Header.Get("X-Quoteflow-Event")
		gotSecret = r.Header.Get("X-Quoteflow-Secret")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := &Webhook{URL: srv.URL, Secret: "s3cret", Client: srv.Client()}
	q := domain.Quotation{ID: "q-1", Number: "Q-1", Status: domain.StatusSent}
	err := w.Notifier().SendRevisionDecisionEmail(context.Background(), Actor("rep-1"), q, Revision{RevisionID: "r-1", Status: domain.RevisionApproved})
	require.NoError(t, err)
	assert.Equal(t, KindRevisionDecision, gotKind)
	assert.Equal(t, "s3cret", gotSecret)
	assert.Equal(t, "q-1", body.QuotationID)
	assert.Equal(t, "Q-1", body.Quotation.Number)
	assert.Equal(t, "rep-1", body.Recipient.ActorID)
	assert.NotEmpty(t, body.ID)
}

func TestWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	w := &Webhook{URL: srv.URL}
	err := w.Post(context.Background(), KindApprovalRequest, Actor("x"), domain.Quotation{}, ApprovalRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
