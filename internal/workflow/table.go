package workflow

import (
	"fmt"
	"sort"

	"quoteflow/internal/config"
	"quoteflow/internal/domain"
)

// Entry authorizes one (from, to) status change.
type Entry struct {
	From          domain.Status
	To            domain.Status
	Roles         []domain.Role
	ApprovalLevel domain.ApprovalLevel
	Condition     string
	Action        string

	cond Condition
	act  Action
}

// Rule is the per-status configuration of candidate targets, fields that must
// be set before leaving, and actions run on arrival.
type Rule struct {
	Allowed        []domain.Status
	RequiredFields []string
	AutoActions    []string

	auto []Action
}

type pair struct {
	from, to domain.Status
}

// Table is the compiled, read-only transition table.
type Table struct {
	entries map[pair]Entry
	rules   map[domain.Status]Rule
}

// Compile validates the raw workflow config against the known vocabulary.
func Compile(wf config.Workflow) (*Table, error) {
	t := &Table{
		entries: make(map[pair]Entry, len(wf.Transitions)),
		rules:   make(map[domain.Status]Rule, len(wf.Rules)),
	}
	for _, raw := range wf.Transitions {
		e, err := compileEntry(raw)
		if err != nil {
			return nil, err
		}
		k := pair{e.From, e.To}
		if _, dup := t.entries[k]; dup {
			return nil, fmt.Errorf("duplicate transition %s->%s", e.From, e.To)
		}
		t.entries[k] = e
	}
	for name, raw := range wf.Rules {
		status, err := domain.ParseStatus(name)
		if err != nil {
			return nil, fmt.Errorf("workflow rule: %w", err)
		}
		r := Rule{RequiredFields: raw.RequiredFields, AutoActions: raw.AutoActions}
		for _, to := range raw.Allowed {
			target, err := domain.ParseStatus(to)
			if err != nil {
				return nil, fmt.Errorf("workflow rule %s: %w", name, err)
			}
			if _, ok := t.entries[pair{status, target}]; !ok {
				return nil, fmt.Errorf("workflow rule %s allows %s without a transition entry", name, target)
			}
			r.Allowed = append(r.Allowed, target)
		}
		for _, f := range raw.RequiredFields {
			if !domain.IsKnownField(f) {
				return nil, fmt.Errorf("workflow rule %s requires unknown field %s", name, f)
			}
		}
		for _, a := range raw.AutoActions {
			fn, ok := autoActions[a]
			if !ok {
				return nil, fmt.Errorf("workflow rule %s has unknown auto action %s", name, a)
			}
			r.auto = append(r.auto, fn)
		}
		t.rules[status] = r
	}
	return t, nil
}

func compileEntry(raw config.Transition) (Entry, error) {
	from, err := domain.ParseStatus(raw.From)
	if err != nil {
		return Entry{}, fmt.Errorf("transition from: %w", err)
	}
	to, err := domain.ParseStatus(raw.To)
	if err != nil {
		return Entry{}, fmt.Errorf("transition to: %w", err)
	}
	e := Entry{From: from, To: to, Condition: raw.Condition, Action: raw.Action}
	for _, r := range raw.Roles {
		role, err := domain.ParseRole(r)
		if err != nil {
			return Entry{}, fmt.Errorf("transition %s->%s: %w", from, to, err)
		}
		e.Roles = append(e.Roles, role)
	}
	if raw.ApprovalLevel != "" {
		if e.ApprovalLevel, err = domain.ParseApprovalLevel(raw.ApprovalLevel); err != nil {
			return Entry{}, fmt.Errorf("transition %s->%s: %w", from, to, err)
		}
	}
	if raw.Condition != "" {
		fn, ok := conditions[raw.Condition]
		if !ok {
			return Entry{}, fmt.Errorf("transition %s->%s has unknown condition %s", from, to, raw.Condition)
		}
		e.cond = fn
	}
	if raw.Action != "" {
		fn, ok := actions[raw.Action]
		if !ok {
			return Entry{}, fmt.Errorf("transition %s->%s has unknown action %s", from, to, raw.Action)
		}
		e.act = fn
	}
	return e, nil
}

// Entry returns the table row for (from, to).
func (t *Table) Entry(from, to domain.Status) (Entry, bool) {
	e, ok := t.entries[pair{from, to}]
	return e, ok
}

// Rule returns the workflow rule for s. Statuses without a rule have no
// candidates and no required fields.
func (t *Table) Rule(s domain.Status) Rule {
	return t.rules[s]
}

// Entries lists every row ordered by from and then to, following status
// declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	order := make(map[domain.Status]int, len(domain.Statuses))
	for i, s := range domain.Statuses {
		order[s] = i
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return order[out[i].From] < order[out[j].From]
		}
		return order[out[i].To] < order[out[j].To]
	})
	return out
}

// Terminal reports whether s has no outgoing entry.
func (t *Table) Terminal(s domain.Status) bool {
	for k := range t.entries {
		if k.from == s {
			return false
		}
	}
	return true
}
