package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/config"
	"quoteflow/internal/domain"
)

var testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newMachine(t *testing.T) Machine {
	t.Helper()
	table, err := Compile(config.Default().Workflow)
	require.NoError(t, err)
	m := New(table)
	m.Now = func() time.Time { return testNow }
	return m
}

var (
	rep     = domain.Actor{ID: "rep-1", Roles: []domain.Role{domain.RoleSalesRep}}
	manager = domain.Actor{ID: "mgr-1", Roles: []domain.Role{domain.RoleManager}}
	admin   = domain.Actor{ID: "adm-1", Roles: []domain.Role{domain.RoleAdmin}}
	client  = domain.Actor{ID: "cli-1", Roles: []domain.Role{domain.RoleClient}}
)

func quotation(status domain.Status) domain.Quotation {
	until := testNow.Add(30 * 24 * time.Hour)
	return domain.Quotation{
		ID:         "q-1",
		Status:     status,
		CreatedBy:  rep.ID,
		ClientID:   "client-1",
		Items:      []domain.LineItem{{ID: "i-1", Quantity: 1, UnitPrice: 100}},
		ValidUntil: &until,
	}
}

func TestUndefinedTransitionsFailWithoutMutation(t *testing.T) {
	m := newMachine(t)
	su := domain.Actor{ID: "root", Roles: domain.Roles}
	for _, from := range domain.Statuses {
		for _, to := range domain.Statuses {
			if _, ok := m.Table.Entry(from, to); ok {
				continue
			}
			q := quotation(from)
			got, err := m.Transition(q, to, su, Meta{})
			var te TransitionError
			require.True(t, errors.As(err, &te), "%s->%s", from, to)
			assert.Equal(t, from, got.Status)
			assert.Equal(t, from, q.Status)
			assert.Empty(t, q.StatusHistory)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	m := newMachine(t)
	for _, s := range []domain.Status{domain.StatusRejected, domain.StatusDeclined, domain.StatusExpired, domain.StatusCancelled, domain.StatusArchived} {
		assert.True(t, m.Table.Terminal(s), s)
	}
	assert.False(t, m.Table.Terminal(domain.StatusCompleted))
}

func TestRoleAndLevelGates(t *testing.T) {
	m := newMachine(t)
	q := quotation(domain.StatusPendingApproval)

	d := m.CanTransition(q, domain.StatusApproved, rep)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "roles")

	d = m.CanTransition(q, domain.StatusApproved, manager)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.LevelManager, d.RequiredApproval)

	d = m.CanTransition(quotation(domain.StatusCompleted), domain.StatusArchived, manager)
	assert.False(t, d.Allowed)
}

func TestRequiredFieldsOfCurrentStatus(t *testing.T) {
	m := newMachine(t)
	q := quotation(domain.StatusPendingApproval)
	q.Items = nil
	d := m.CanTransition(q, domain.StatusApproved, manager)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "items")
}

func TestTransitionAppliesActionAndHistory(t *testing.T) {
	m := newMachine(t)
	q := quotation(domain.StatusPendingApproval)
	requested := testNow.Add(-time.Hour)
	q.ApprovalRequestedAt = &requested
	q.ApprovalRequestedBy = rep.ID

	got, err := m.Transition(q, domain.StatusApproved, manager, Meta{Comments: "ok"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, testNow, *got.ApprovedAt)
	assert.Equal(t, manager.ID, got.ApprovedBy)
	assert.Equal(t, manager.ID, got.LastStatusChangeBy)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, domain.StatusChange{From: domain.StatusPendingApproval, To: domain.StatusApproved, By: manager.ID, At: testNow, Comments: "ok"}, got.StatusHistory[0])
	assert.False(t, got.ApprovalPending(), "arrival auto action clears the request")

	assert.Equal(t, domain.StatusPendingApproval, q.Status)
	assert.True(t, q.ApprovalPending())
}

func TestActivationStampsValidFrom(t *testing.T) {
	m := newMachine(t)
	got, err := m.Transition(quotation(domain.StatusApproved), domain.StatusActive, rep, Meta{})
	require.NoError(t, err)
	require.NotNil(t, got.ValidFrom)
	assert.Equal(t, testNow, *got.ValidFrom)
}

func TestSentPastValidUntil(t *testing.T) {
	m := newMachine(t)
	q := quotation(domain.StatusSent)
	past := testNow.Add(-time.Hour)
	q.ValidUntil = &past

	_, err := m.Transition(q, domain.StatusAccepted, client, Meta{})
	var te TransitionError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Reason, "isWithinValidityPeriod")

	got, err := m.Transition(q, domain.StatusExpired, rep, Meta{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	require.NotNil(t, got.Expired)
	assert.Equal(t, rep.ID, got.Expired.By)
}

func TestAvailableTransitionsFilters(t *testing.T) {
	m := newMachine(t)
	q := quotation(domain.StatusSent)
	assert.Equal(t, []domain.Status{domain.StatusAccepted, domain.StatusDeclined}, m.AvailableTransitions(q, client))
	assert.Equal(t, []domain.Status{domain.StatusAccepted, domain.StatusDeclined, domain.StatusExpired, domain.StatusCancelled}, m.AvailableTransitions(q, admin))

	past := testNow.Add(-time.Hour)
	q.ValidUntil = &past
	assert.Equal(t, []domain.Status{domain.StatusDeclined}, m.AvailableTransitions(q, client))

	assert.Empty(t, m.AvailableTransitions(quotation(domain.StatusArchived), admin))
}

func TestCompileRejectsUnknownVocabulary(t *testing.T) {
	cases := map[string]config.Workflow{
		"status":    {Transitions: []config.Transition{{From: "DRAFT", To: "LIMBO", Roles: []string{"ADMIN"}}}},
		"role":      {Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"INTERN"}}}},
		"level":     {Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"ADMIN"}, ApprovalLevel: "BOARD"}}},
		"condition": {Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"ADMIN"}, Condition: "isFriday"}}},
		"action":    {Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"ADMIN"}, Action: "sendFax"}}},
		"duplicate": {Transitions: []config.Transition{
			{From: "DRAFT", To: "SENT", Roles: []string{"ADMIN"}},
			{From: "DRAFT", To: "SENT", Roles: []string{"USER"}},
		}},
		"rule target": {
			Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"ADMIN"}}},
			Rules:       map[string]config.Rule{"DRAFT": {Allowed: []string{"ACTIVE"}}},
		},
		"field": {
			Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"ADMIN"}}},
			Rules:       map[string]config.Rule{"DRAFT": {RequiredFields: []string{"colour"}}},
		},
		"auto action": {
			Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"ADMIN"}}},
			Rules:       map[string]config.Rule{"SENT": {AutoActions: []string{"shred"}}},
		},
	}
	for name, wf := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(wf)
			assert.Error(t, err)
		})
	}
}

func TestAlternateTable(t *testing.T) {
	table, err := Compile(config.Workflow{
		Transitions: []config.Transition{{From: "DRAFT", To: "SENT", Roles: []string{"USER"}, Action: "stampSent"}},
		Rules:       map[string]config.Rule{"DRAFT": {Allowed: []string{"SENT"}}},
	})
	require.NoError(t, err)
	m := New(table)
	m.Now = func() time.Time { return testNow }
	user := domain.Actor{ID: "u", Roles: []domain.Role{domain.RoleUser}}

	got, err := m.Transition(quotation(domain.StatusDraft), domain.StatusSent, user, Meta{})
	require.NoError(t, err)
	require.NotNil(t, got.Sent)
	assert.Equal(t, []domain.Status{domain.StatusSent}, m.AvailableTransitions(quotation(domain.StatusDraft), user))
}
