package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quoteflow/internal/db"
	"quoteflow/internal/domain"
	"quoteflow/internal/events"
	"quoteflow/internal/migrate"
	"quoteflow/internal/repo"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.New(conn), ctx
}

func seed(t *testing.T, r repo.Repo, ctx context.Context, id, createdBy string) domain.Quotation {
	t.Helper()
	q := domain.Quotation{
		ID:          id,
		Number:      "Q-" + id,
		Title:       "Website",
		CreatedBy:   createdBy,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
		Status:      domain.StatusDraft,
		Version:     "1.0",
		LockVersion: 1,
	}
	rec, err := events.New(fixedNow, "quotation.created", id, createdBy, nil, q.Snapshot(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Create(ctx, q, []events.Record{rec}); err != nil {
		t.Fatalf("create: %v", err)
	}
	return q
}

func TestSaveChecksLockVersion(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx, "q-1", "rep-1")

	first, err := r.Get(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Get(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}

	first.Title = "First writer"
	first.LockVersion = 2
	if err := r.Save(ctx, first, 1, nil); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second.Title = "Second writer"
	second.LockVersion = 2
	if err := r.Save(ctx, second, 1, nil); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := r.Get(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "First writer" || got.LockVersion != 2 {
		t.Fatalf("unexpected stored state: %q v%d", got.Title, got.LockVersion)
	}
}

func TestSaveUnknownQuotation(t *testing.T) {
	r, ctx := newRepo(t)
	q := domain.Quotation{ID: "missing", LockVersion: 2}
	if err := r.Save(ctx, q, 1, nil); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Get(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRollsBackOnEventFailure(t *testing.T) {
	r, ctx := newRepo(t)
	q := seed(t, r, ctx, "q-1", "rep-1")
	q.Title = "changed"
	q.LockVersion = 2
	bad := events.Record{TS: fixedNow, Type: "quotation.updated", QuotationID: "no-such-quotation", ActorID: "rep-1"}
	if err := r.Save(ctx, q, 1, []events.Record{bad}); err == nil {
		t.Fatalf("expected foreign key failure")
	}
	got, err := r.Get(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Website" || got.LockVersion != 1 {
		t.Fatalf("save was not rolled back: %q v%d", got.Title, got.LockVersion)
	}
}

func TestListFilters(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx, "q-1", "rep-1")
	seed(t, r, ctx, "q-2", "rep-2")
	q3 := seed(t, r, ctx, "q-3", "rep-1")

	deadline := fixedNow.Add(-time.Hour)
	q3.Status = domain.StatusPendingApproval
	q3.ApprovalRequestedAt = &fixedNow
	q3.ApprovalDeadline = &deadline
	q3.ApprovalLevel = domain.LevelManager
	q3.LockVersion = 2
	if err := r.Save(ctx, q3, 1, nil); err != nil {
		t.Fatal(err)
	}

	mine, err := r.List(ctx, repo.Filter{CreatedBy: "rep-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 quotations for rep-1, got %d", len(mine))
	}

	overdue, err := r.List(ctx, repo.Filter{
		Statuses:        []domain.Status{domain.StatusPendingApproval, domain.StatusPendingReview},
		ApprovalPending: repo.Pending(true),
		DeadlineBefore:  &fixedNow,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(overdue) != 1 || overdue[0].ID != "q-3" {
		t.Fatalf("expected q-3 overdue, got %+v", overdue)
	}

	limited, err := r.List(ctx, repo.Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
}

func TestEventsNewestFirst(t *testing.T) {
	r, ctx := newRepo(t)
	q := seed(t, r, ctx, "q-1", "rep-1")
	before := q.Snapshot()
	q.Status = domain.StatusPendingReview
	q.LockVersion = 2
	rec, err := events.New(fixedNow.Add(time.Minute), "quotation.transitioned", q.ID, "rep-1", before, q.Snapshot(), events.Payload{"comments": "go"})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, q, 1, []events.Record{rec}); err != nil {
		t.Fatal(err)
	}
	evts, err := r.Events(ctx, q.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].Type != "quotation.transitioned" || evts[1].Type != "quotation.created" {
		t.Fatalf("unexpected order: %s, %s", evts[0].Type, evts[1].Type)
	}
	if len(evts[0].Before) == 0 || len(evts[0].After) == 0 || len(evts[1].Before) != 0 {
		t.Fatalf("unexpected before/after payloads")
	}
	if !evts[0].TS.Equal(fixedNow.Add(time.Minute)) {
		t.Fatalf("unexpected ts %v", evts[0].TS)
	}
	one, err := r.Events(ctx, q.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 {
		t.Fatalf("expected 1 event, got %d", len(one))
	}
}
