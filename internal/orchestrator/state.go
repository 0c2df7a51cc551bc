// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"sync"

	"aegis.dev/aegis/internal/record"
)

// stateTable is the single-writer-per-rule_id RuleState table from §5:
// a sync.Map of rule_id -> *ruleEntry, where ruleEntry.mu serializes
// every mutation to that one rule's state while readers take a
// snapshot via RuleState.Clone.
type stateTable struct {
	entries sync.Map // rule_id -> *ruleEntry
}

type ruleEntry struct {
	mu    sync.Mutex
	rule  record.UniversalRule
	state *record.RuleState
}

func newStateTable() *stateTable { return &stateTable{} }

// put registers a new rule, replacing any prior entry for the same
// rule_id.
func (t *stateTable) put(rule record.UniversalRule, state *record.RuleState) {
	t.entries.Store(rule.RuleID, &ruleEntry{rule: rule, state: state})
}

// get returns a consistent snapshot of rule_id's state, or nil if
// unknown.
func (t *stateTable) get(ruleID string) (record.UniversalRule, *record.RuleState, bool) {
	v, ok := t.entries.Load(ruleID)
	if !ok {
		return record.UniversalRule{}, nil, false
	}
	e := v.(*ruleEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rule, e.state.Clone(), true
}

// mutate applies fn to rule_id's state under its own lock, the single-
// writer discipline from §5.
func (t *stateTable) mutate(ruleID string, fn func(*record.RuleState)) bool {
	v, ok := t.entries.Load(ruleID)
	if !ok {
		return false
	}
	e := v.(*ruleEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
	return true
}

// list returns a snapshot of every (rule, state) pair currently tracked.
func (t *stateTable) list() []struct {
	Rule  record.UniversalRule
	State *record.RuleState
} {
	var out []struct {
		Rule  record.UniversalRule
		State *record.RuleState
	}
	t.entries.Range(func(_, v any) bool {
		e := v.(*ruleEntry)
		e.mu.Lock()
		out = append(out, struct {
			Rule  record.UniversalRule
			State *record.RuleState
		}{Rule: e.rule, State: e.state.Clone()})
		e.mu.Unlock()
		return true
	})
	return out
}

// delete removes rule_id from the table entirely (used after
// expired/rolled_back rules are finalized, if retention policy doesn't
// keep them).
func (t *stateTable) delete(ruleID string) {
	t.entries.Delete(ruleID)
}
