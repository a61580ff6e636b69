package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quoteflow/internal/config"
	"quoteflow/internal/domain"
	"quoteflow/internal/events"
	"quoteflow/internal/metrics"
	"quoteflow/internal/notify"
	"quoteflow/internal/policy"
	"quoteflow/internal/repo"
	"quoteflow/internal/workflow"
)

// Store persists quotations. Save must fail with repo.ErrConflict when the
// stored lock version differs from expected, and must write recs atomically
// with the quotation.
type Store interface {
	Create(ctx context.Context, q domain.Quotation, recs []events.Record) error
	Get(ctx context.Context, id string) (domain.Quotation, error)
	Save(ctx context.Context, q domain.Quotation, expected int64, recs []events.Record) error
	List(ctx context.Context, f repo.Filter) ([]domain.Quotation, error)
	Events(ctx context.Context, id string, limit int) ([]events.Record, error)
}

type Engine struct {
	Store   Store
	Table   *workflow.Table
	Config  *config.Config
	Notify  *notify.Dispatcher
	Metrics *metrics.Recorder
	Log     *zap.Logger
	Now     func() time.Time
}

// New compiles the workflow table from cfg.
func New(store Store, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	table, err := workflow.Compile(cfg.Workflow)
	if err != nil {
		return Engine{}, fmt.Errorf("compile workflow: %w", err)
	}
	return Engine{
		Store:  store,
		Table:  table,
		Config: cfg,
		Log:    zap.NewNop(),
		Now:    time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) machine() workflow.Machine {
	return workflow.Machine{Table: e.Table, Now: e.now}
}

// mutation is the working state of one read-modify-write.
type mutation struct {
	Q         domain.Quotation
	Now       time.Time
	EventType string
	Details   events.Payload
	Jobs      []notify.Job
	committed []func()
}

func (m *mutation) notify(jobs ...notify.Job) {
	m.Jobs = append(m.Jobs, jobs...)
}

// onCommit defers fn until the save has succeeded.
func (m *mutation) onCommit(fn func()) {
	m.committed = append(m.committed, fn)
}

// mutate loads id, applies fn to a clone, saves it guarded by the loaded lock
// version together with one audit record, and once the save has committed
// runs the onCommit hooks and dispatches the collected notifications.
func (e Engine) mutate(ctx context.Context, id string, actor domain.Actor, evtType string, fn func(m *mutation) error) (domain.Quotation, error) {
	cur, err := e.Store.Get(ctx, id)
	if err != nil {
		return domain.Quotation{}, fmt.Errorf("load quotation %s: %w", id, err)
	}
	m := &mutation{Q: cur.Clone(), Now: e.now(), EventType: evtType}
	if err := fn(m); err != nil {
		return domain.Quotation{}, err
	}
	next := m.Q
	next.UpdatedAt = m.Now
	next.LockVersion = cur.LockVersion + 1
	rec, err := events.New(m.Now, m.EventType, id, actor.ID, cur.Snapshot(), next.Snapshot(), m.Details)
	if err != nil {
		return domain.Quotation{}, err
	}
	if err := e.Store.Save(ctx, next, cur.LockVersion, []events.Record{rec}); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			e.Metrics.Conflict()
		}
		return domain.Quotation{}, fmt.Errorf("save quotation %s: %w", id, err)
	}
	e.log().Debug("quotation updated",
		zap.String("quotation_id", id),
		zap.String("event", m.EventType),
		zap.String("actor", actor.ID),
		zap.Int64("lock_version", next.LockVersion),
	)
	for _, fn := range m.committed {
		fn()
	}
	e.Notify.Dispatch(m.Jobs...)
	return next, nil
}

// CreateOptions are parameters for creating a quotation.
type CreateOptions struct {
	ID           string
	Number       string
	Title        string
	Description  string
	ClientID     string
	Items        []domain.LineItem
	Currency     string
	TaxRate      float64
	DiscountRate float64
	Terms        string
	Notes        string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	Priority     string
	Actor        domain.Actor
}

// CreateQuotation stores a new DRAFT quotation at version 1.0.
func (e Engine) CreateQuotation(ctx context.Context, opts CreateOptions) (domain.Quotation, error) {
	if err := policy.Require(opts.Actor, domain.Quotation{}, policy.ActionCreateQuotation); err != nil {
		return domain.Quotation{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Quotation{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if err := validateTerms(opts.TaxRate, opts.DiscountRate, opts.ValidFrom, opts.ValidUntil, opts.Items); err != nil {
		return domain.Quotation{}, err
	}
	items := make([]domain.LineItem, len(opts.Items))
	copy(items, opts.Items)
	assignItemIDs(items)
	now := e.now()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	number := opts.Number
	if number == "" {
		number = "Q-" + now.Format("2006") + "-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
	}
	currency := opts.Currency
	if currency == "" {
		currency = "USD"
	}
	q := domain.Quotation{
		ID:           id,
		Number:       number,
		Title:        opts.Title,
		Description:  opts.Description,
		ClientID:     opts.ClientID,
		CreatedBy:    opts.Actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Items:        items,
		Currency:     currency,
		TaxRate:      opts.TaxRate,
		DiscountRate: opts.DiscountRate,
		Terms:        opts.Terms,
		Notes:        opts.Notes,
		ValidFrom:    opts.ValidFrom,
		ValidUntil:   opts.ValidUntil,
		Priority:     opts.Priority,
		Status:       domain.StatusDraft,
		Version:      "1.0",
		LockVersion:  1,
	}
	q.Recalculate()
	rec, err := events.New(now, "quotation.created", q.ID, opts.Actor.ID, nil, q.Snapshot(), events.Payload{"number": q.Number})
	if err != nil {
		return domain.Quotation{}, err
	}
	if err := e.Store.Create(ctx, q, []events.Record{rec}); err != nil {
		return domain.Quotation{}, fmt.Errorf("create quotation: %w", err)
	}
	e.log().Info("quotation created", zap.String("quotation_id", q.ID), zap.String("number", q.Number), zap.String("actor", opts.Actor.ID))
	return q, nil
}

// validateTerms checks the commercial fields shared by creation and revision.
func validateTerms(tax, discount float64, from, until *time.Time, items []domain.LineItem) error {
	if tax < 0 || discount < 0 || discount > 100 {
		return ValidationError{Field: "rates", Reason: "tax must be >= 0 and discount within 0..100"}
	}
	if from != nil && until != nil && until.Before(*from) {
		return ValidationError{Field: "valid_until", Reason: "must not precede valid_from"}
	}
	for i, it := range items {
		if it.Quantity < 0 || it.UnitPrice < 0 {
			return ValidationError{Field: fmt.Sprintf("items[%d]", i), Reason: "quantity and unit price must be >= 0"}
		}
	}
	return nil
}

func validateQuotationTerms(q domain.Quotation) error {
	return validateTerms(q.TaxRate, q.DiscountRate, q.ValidFrom, q.ValidUntil, q.Items)
}

// assignItemIDs gives every item without an id a fresh one, in place.
func assignItemIDs(items []domain.LineItem) []domain.LineItem {
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
	}
	return items
}

// GetQuotation loads a quotation by id.
func (e Engine) GetQuotation(ctx context.Context, id string) (domain.Quotation, error) {
	q, err := e.Store.Get(ctx, id)
	if err != nil {
		return domain.Quotation{}, fmt.Errorf("load quotation %s: %w", id, err)
	}
	return q, nil
}

// ListEvents returns the audit trail of a quotation, newest first.
func (e Engine) ListEvents(ctx context.Context, id string, limit int) ([]events.Record, error) {
	if _, err := e.GetQuotation(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.Events(ctx, id, limit)
}

// Transition moves a quotation to target through the state machine.
func (e Engine) Transition(ctx context.Context, id string, target domain.Status, actor domain.Actor, comments string) (domain.Quotation, error) {
	return e.mutate(ctx, id, actor, "quotation.transitioned", func(m *mutation) error {
		from := m.Q.Status
		next, err := e.machine().Transition(m.Q, target, actor, workflow.Meta{Comments: comments})
		if err != nil {
			e.Metrics.Transition(string(from), string(target), false)
			return err
		}
		m.onCommit(func() { e.Metrics.Transition(string(from), string(target), true) })
		m.Q = next
		m.Details = events.Payload{"from": from, "to": target, "comments": comments}
		return nil
	})
}

// AvailableTransitions lists the statuses the actor may move the quotation to.
func (e Engine) AvailableTransitions(ctx context.Context, id string, actor domain.Actor) ([]domain.Status, error) {
	q, err := e.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.machine().AvailableTransitions(q, actor), nil
}

// CanTransition explains whether the actor may move the quotation to target.
func (e Engine) CanTransition(ctx context.Context, id string, target domain.Status, actor domain.Actor) (workflow.Decision, error) {
	q, err := e.GetQuotation(ctx, id)
	if err != nil {
		return workflow.Decision{}, err
	}
	return e.machine().CanTransition(q, target, actor), nil
}
